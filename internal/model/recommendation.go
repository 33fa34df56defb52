package model

// ProductBenefit pairs a product name with its estimated monthly benefit.
type ProductBenefit struct {
	Product string  `json:"product"`
	Benefit float64 `json:"benefit"`
}

// BenefitEstimate is the benefit of one product for one client.
type BenefitEstimate struct {
	ClientCode string  `json:"client_code"`
	Product    string  `json:"product"`
	Benefit    float64 `json:"benefit"`
}

// ClientBenefits holds every product's benefit for one client, in catalog order.
type ClientBenefits struct {
	ClientCode string           `json:"client_code"`
	Benefits   []ProductBenefit `json:"benefits"`
}

// Get returns the benefit recorded for a product.
func (cb ClientBenefits) Get(product string) (float64, bool) {
	for _, pb := range cb.Benefits {
		if pb.Product == product {
			return pb.Benefit, true
		}
	}
	return 0, false
}

// Estimates flattens the client's benefits into BenefitEstimate rows.
func (cb ClientBenefits) Estimates() []BenefitEstimate {
	out := make([]BenefitEstimate, len(cb.Benefits))
	for i, pb := range cb.Benefits {
		out[i] = BenefitEstimate{ClientCode: cb.ClientCode, Product: pb.Product, Benefit: pb.Benefit}
	}
	return out
}

// Recommendation is the ranked Top-N view for one client.
type Recommendation struct {
	ClientCode string           `json:"client_code"`
	TopN       int              `json:"top_n"`
	Top        []ProductBenefit `json:"top"`
}

// Slot returns the i-th (0-based) ranked product. Slots past the ranked list
// but inside TopN read as ("", 0).
func (r Recommendation) Slot(i int) (string, float64) {
	if i < 0 || i >= len(r.Top) {
		return "", 0
	}
	return r.Top[i].Product, r.Top[i].Benefit
}

// Top1 returns the best product, or ("", 0) when nothing was ranked.
func (r Recommendation) Top1() (string, float64) {
	return r.Slot(0)
}
