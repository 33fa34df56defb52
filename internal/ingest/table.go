package ingest

import (
	"math"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/benefit-cli/internal/model"
)

// TableKind classifies a raw table by its columns.
type TableKind int

const (
	KindUnknown TableKind = iota
	KindTransactions
	KindTransfers
	KindProfiles
)

func (k TableKind) String() string {
	switch k {
	case KindTransactions:
		return "transactions"
	case KindTransfers:
		return "transfers"
	case KindProfiles:
		return "profiles"
	}
	return "unknown"
}

// Table is one raw file or sheet with a normalized header.
type Table struct {
	Name   string
	Header []string
	Rows   [][]string
	index  map[string]int
}

// NewTable lower-cases and trims header names.
func NewTable(name string, header []string, rows [][]string) *Table {
	t := &Table{
		Name:   name,
		Header: make([]string, len(header)),
		Rows:   rows,
		index:  make(map[string]int, len(header)),
	}
	for i, h := range header {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		t.Header[i] = h
		if _, dup := t.index[h]; !dup {
			t.index[h] = i
		}
	}
	return t
}

// Has reports whether the table has a column.
func (t *Table) Has(col string) bool {
	_, ok := t.index[col]
	return ok
}

// Cell returns the value of col in row, or "" when absent.
func (t *Table) Cell(row []string, col string) string {
	i, ok := t.index[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// Kind classifies the table: a category column means card transactions, a
// direction column means transfers, and a client profile file is recognised by
// its name or its balance column.
func (t *Table) Kind() TableKind {
	switch {
	case t.Has("category"):
		return KindTransactions
	case t.Has("direction"):
		return KindTransfers
	case isProfileName(t.Name) || (t.Has("client_code") && t.Has("avg_monthly_balance_kzt")):
		return KindProfiles
	}
	return KindUnknown
}

func isProfileName(name string) bool {
	base := strings.ToLower(path.Base(strings.ReplaceAll(name, "\\", "/")))
	base = strings.TrimSuffix(base, path.Ext(base))
	return base == "clients"
}

var digitRun = regexp.MustCompile(`\d+`)

// codeFromName extracts the first digit run of the file's base name.
func codeFromName(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	m := digitRun.FindString(base)
	if m == "" {
		return ""
	}
	if n, err := strconv.Atoi(m); err == nil {
		return strconv.Itoa(n)
	}
	return m
}

// clientCode resolves the code of a row, falling back to the file name.
func (t *Table) clientCode(row []string, fallback string) string {
	if code := normalizeCode(t.Cell(row, "client_code")); code != "" {
		return code
	}
	return fallback
}

// normalizeCode turns "17.0" into "17" so numeric codes from spreadsheets match CSV codes.
func normalizeCode(s string) string {
	s = strings.TrimSpace(s)
	if f, err := strconv.ParseFloat(s, 64); err == nil && f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return s
}

// Transactions parses the rows of a transactions table.
func (t *Table) Transactions() []model.Transaction {
	fallback := codeFromName(t.Name)
	out := make([]model.Transaction, 0, len(t.Rows))
	for _, row := range t.Rows {
		code := t.clientCode(row, fallback)
		if code == "" {
			continue
		}
		out = append(out, model.Transaction{
			ClientCode: code,
			Name:       t.Cell(row, "name"),
			Status:     t.Cell(row, "status"),
			Date:       parseDate(t.Cell(row, "date")),
			Category:   t.Cell(row, "category"),
			Amount:     parseAmount(t.Cell(row, "amount")),
			Currency:   strings.ToUpper(t.Cell(row, "currency")),
		})
	}
	return out
}

// Transfers parses the rows of a transfers table.
func (t *Table) Transfers() []model.Transfer {
	fallback := codeFromName(t.Name)
	out := make([]model.Transfer, 0, len(t.Rows))
	for _, row := range t.Rows {
		code := t.clientCode(row, fallback)
		if code == "" {
			continue
		}
		out = append(out, model.Transfer{
			ClientCode: code,
			Date:       parseDate(t.Cell(row, "date")),
			Type:       t.Cell(row, "type"),
			Direction:  strings.ToLower(t.Cell(row, "direction")),
			Amount:     parseAmount(t.Cell(row, "amount")),
			Currency:   strings.ToUpper(t.Cell(row, "currency")),
		})
	}
	return out
}

// Profiles parses the rows of a clients table.
func (t *Table) Profiles() []model.ClientProfile {
	out := make([]model.ClientProfile, 0, len(t.Rows))
	for _, row := range t.Rows {
		code := normalizeCode(t.Cell(row, "client_code"))
		if code == "" {
			continue
		}
		p := model.ClientProfile{
			ClientCode: code,
			Name:       t.Cell(row, "name"),
			Status:     t.Cell(row, "status"),
			City:       t.Cell(row, "city"),
		}
		if age, err := strconv.Atoi(t.Cell(row, "age")); err == nil {
			p.Age = age
		}
		if s := t.Cell(row, "avg_monthly_balance_kzt"); s != "" {
			v := parseAmount(s)
			p.AvgMonthlyBalance = &v
		}
		out = append(out, p)
	}
	return out
}

var dateLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02",
	"02.01.2006 15:04:05",
	"02.01.2006",
	"01/02/2006",
}

// parseDate returns the zero time for values it cannot read.
func parseDate(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts
		}
	}
	zap.L().Debug("ingest: unparsed date", zap.String("value", s))
	return time.Time{}
}

// errAmbiguousNumber marks a value like "1,234" whose single comma could be
// either a decimal or a thousands separator.
var errAmbiguousNumber = eris.New("ingest: ambiguous comma separator")

// normalizeNumber strips spaces and rewrites separators into strconv form.
// Commas next to a dot, or repeated, group thousands and are dropped, unless
// the comma comes last ("1.234,56") and the dots are the grouping. A
// single comma is the decimal separator unless exactly three digits follow
// a non-zero integer part; then the comma is read as grouping and
// errAmbiguousNumber is returned with the result.
func normalizeNumber(s string) (string, error) {
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\u202f':
			return -1
		}
		return r
	}, s)

	switch n := strings.Count(s, ","); {
	case n == 0:
		return s, nil
	case strings.Contains(s, "."):
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			// 1.234,56
			return strings.ReplaceAll(strings.ReplaceAll(s, ".", ""), ",", "."), nil
		}
		return strings.ReplaceAll(s, ",", ""), nil
	case n > 1:
		return strings.ReplaceAll(s, ",", ""), nil
	}

	whole, frac, _ := strings.Cut(s, ",")
	if len(frac) == 3 && isDigits(frac) && strings.TrimLeft(whole, "+-") != "0" && strings.TrimLeft(whole, "+-") != "" {
		return whole + frac, errAmbiguousNumber
	}
	return whole + "." + frac, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// parseAmount reads "12 345,50", "12,345.50" and "12345.50" alike; anything
// else is 0. Money never carries three decimals, so "1,234" is 1234.
func parseAmount(s string) float64 {
	s, _ = normalizeNumber(s)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
