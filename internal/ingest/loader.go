package ingest

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/benefit-cli/internal/model"
)

// ClientBundle is everything ingested for one client.
type ClientBundle struct {
	ClientCode   string
	Profile      *model.ClientProfile
	Transactions []model.Transaction
	Transfers    []model.Transfer
}

// Loader resolves an input source into client bundles.
type Loader struct {
	FTP     *FTPFetcher
	TempDir string
}

// NewLoader returns a Loader with a default FTP fetcher.
func NewLoader() *Loader {
	return &Loader{FTP: NewFTPFetcher(FTPOptions{})}
}

// Load reads source, which may be a directory of CSV files, a single CSV, a
// ZIP archive, an XLSX workbook or an ftp:// URL to one of those files.
// Bundles are sorted by client code, numeric codes first in numeric order.
func (l *Loader) Load(ctx context.Context, source string) ([]ClientBundle, error) {
	tables, err := l.readTables(ctx, source)
	if err != nil {
		return nil, err
	}
	bundles := Group(tables)
	zap.L().Info("ingest: loaded",
		zap.String("source", source),
		zap.Int("tables", len(tables)),
		zap.Int("clients", len(bundles)),
	)
	return bundles, nil
}

func (l *Loader) readTables(ctx context.Context, source string) ([]*Table, error) {
	if strings.HasPrefix(strings.ToLower(source), "ftp://") {
		return l.readFTP(ctx, source)
	}

	info, err := os.Stat(source)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: stat %s", source)
	}
	if info.IsDir() {
		return readDir(ctx, source)
	}
	return readFile(ctx, source)
}

func (l *Loader) readFTP(ctx context.Context, source string) ([]*Table, error) {
	fetcher := l.FTP
	if fetcher == nil {
		fetcher = NewFTPFetcher(FTPOptions{})
	}
	t, err := parseFTPURL(source)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: ftp source")
	}

	dir, err := os.MkdirTemp(l.TempDir, "benefit-ftp-*")
	if err != nil {
		return nil, eris.Wrap(err, "ingest: create temp dir")
	}
	defer os.RemoveAll(dir) //nolint:errcheck

	local := filepath.Join(dir, path.Base(t.path))
	n, err := fetcher.DownloadToFile(ctx, source, local)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: download %s", source)
	}
	zap.L().Debug("ingest: ftp download complete", zap.String("file", local), zap.Int64("bytes", n))
	return readFile(ctx, local)
}

func readDir(ctx context.Context, dir string) ([]*Table, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read dir %s", dir)
	}
	var tables []*Table
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		t, err := readFile(ctx, filepath.Join(dir, e.Name()))
		if err != nil {
			zap.L().Warn("ingest: skipping unreadable file", zap.String("file", e.Name()), zap.Error(err))
			continue
		}
		tables = append(tables, t...)
	}
	return tables, nil
}

func readFile(ctx context.Context, file string) ([]*Table, error) {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".zip":
		return ReadZIP(ctx, file)
	case ".xlsx":
		return ReadXLSX(file)
	case ".csv":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: read %s", file)
		}
		t, err := ReadCSV(ctx, filepath.Base(file), data)
		if err != nil {
			return nil, err
		}
		return []*Table{t}, nil
	}
	return nil, eris.Errorf("ingest: unsupported input %s", file)
}

// Group merges tables into per-client bundles.
func Group(tables []*Table) []ClientBundle {
	byCode := map[string]*ClientBundle{}
	get := func(code string) *ClientBundle {
		b, ok := byCode[code]
		if !ok {
			b = &ClientBundle{ClientCode: code}
			byCode[code] = b
		}
		return b
	}

	var profiles []model.ClientProfile
	for _, t := range tables {
		switch t.Kind() {
		case KindTransactions:
			if !t.Has("client_code") && codeFromName(t.Name) == "" {
				zap.L().Debug("ingest: no client code for table", zap.String("table", t.Name))
				continue
			}
			for _, tx := range t.Transactions() {
				b := get(tx.ClientCode)
				b.Transactions = append(b.Transactions, tx)
			}
		case KindTransfers:
			if !t.Has("client_code") && codeFromName(t.Name) == "" {
				zap.L().Debug("ingest: no client code for table", zap.String("table", t.Name))
				continue
			}
			for _, tr := range t.Transfers() {
				b := get(tr.ClientCode)
				b.Transfers = append(b.Transfers, tr)
			}
		case KindProfiles:
			profiles = append(profiles, t.Profiles()...)
		default:
			zap.L().Debug("ingest: ignoring table", zap.String("table", t.Name), zap.Strings("header", t.Header))
		}
	}

	for i := range profiles {
		p := profiles[i]
		get(p.ClientCode).Profile = &p
	}

	out := make([]ClientBundle, 0, len(byCode))
	for _, b := range byCode {
		out = append(out, *b)
	}
	slices.SortFunc(out, func(a, b ClientBundle) int {
		return CompareCodes(a.ClientCode, b.ClientCode)
	})
	return out
}

// CompareCodes orders numeric codes numerically ahead of non-numeric ones,
// which compare as strings.
func CompareCodes(a, b string) int {
	ai, aErr := strconv.ParseInt(a, 10, 64)
	bi, bErr := strconv.ParseInt(b, 10, 64)
	switch {
	case aErr == nil && bErr == nil:
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	case aErr == nil:
		return -1
	case bErr == nil:
		return 1
	}
	return strings.Compare(a, b)
}
