package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/benefit-cli/internal/model"
	"github.com/sells-group/benefit-cli/internal/ranking"
)

// ClientReport is the per-client diagnostics document.
type ClientReport struct {
	ClientCode string                 `json:"client_code"`
	TopN       int                    `json:"top_n"`
	Top        []model.ProductBenefit `json:"top"`
	Benefits   []model.ProductBenefit `json:"benefits"`
}

var unsafeName = regexp.MustCompile(`[^\p{L}\p{N}_.-]+`)

// PerClientPath returns the report path for a client code inside dir.
func PerClientPath(dir, clientCode string) string {
	return filepath.Join(dir, "client_"+unsafeName.ReplaceAllString(clientCode, "_")+"_benefits.json")
}

// WritePerClient writes one JSON report per client. A client whose report
// cannot be written is logged and skipped. Returns the number written.
func WritePerClient(dir string, res *ranking.Result) (int, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, eris.Wrapf(err, "export: create dir %s", dir)
	}

	var n int
	for i, rec := range res.Recommendations {
		report := ClientReport{ClientCode: rec.ClientCode, TopN: rec.TopN, Top: rec.Top}
		if i < len(res.Benefits) {
			report.Benefits = res.Benefits[i].Benefits
		}
		data, err := json.MarshalIndent(report, "", "  ")
		if err == nil {
			err = os.WriteFile(PerClientPath(dir, rec.ClientCode), data, 0o644)
		}
		if err != nil {
			zap.L().Warn("export: skip per-client report",
				zap.String("client_code", rec.ClientCode),
				zap.Error(err),
			)
			continue
		}
		n++
	}
	return n, nil
}
