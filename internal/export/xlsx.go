package export

import (
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// WriteWorkbook saves a workbook with a recommendations sheet and a full
// benefits sheet.
func WriteWorkbook(path string, b Bundle) error {
	res := b.Result
	f := xlsx.NewFile()

	recs, err := f.AddSheet("recommendations")
	if err != nil {
		return eris.Wrap(err, "export: add recommendations sheet")
	}
	header := recs.AddRow()
	addStrings(header, "client_code", "name")
	for i := 1; i <= res.TopN; i++ {
		addStrings(header, "top"+strconv.Itoa(i), "top"+strconv.Itoa(i)+"_benefit")
	}
	addStrings(header, "push")
	for i, rec := range res.Recommendations {
		row := recs.AddRow()
		addStrings(row, rec.ClientCode, clientName(b.Clients, i))
		for s := range res.TopN {
			name, v := rec.Slot(s)
			addStrings(row, name)
			row.AddCell().SetFloat(roundCents(v))
		}
		var push string
		if i < len(b.Pushes) {
			push = b.Pushes[i]
		}
		addStrings(row, push)
	}

	benefits, err := f.AddSheet("benefits")
	if err != nil {
		return eris.Wrap(err, "export: add benefits sheet")
	}
	addStrings(benefits.AddRow(), append([]string{"client_code"}, res.Products...)...)
	for _, cb := range res.Benefits {
		row := benefits.AddRow()
		addStrings(row, cb.ClientCode)
		for _, p := range res.Products {
			v, _ := cb.Get(p)
			row.AddCell().SetFloat(roundCents(v))
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "export: save workbook %s", path)
	}
	return nil
}

func addStrings(row *xlsx.Row, values ...string) {
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func roundCents(v float64) float64 {
	f, _ := strconv.ParseFloat(Amount(v), 64)
	return f
}
