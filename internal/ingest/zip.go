package ingest

import (
	"archive/zip"
	"context"
	"io"
	"path"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// maxEntrySize bounds a single archive member read into memory.
const maxEntrySize = 256 << 20

// ReadZIP reads every CSV member of an archive in memory. Directories and
// macOS resource forks are skipped; members that fail to parse are logged and skipped.
func ReadZIP(ctx context.Context, zipPath string) ([]*Table, error) {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, eris.Wrap(err, "zip: open archive")
	}
	defer r.Close() //nolint:errcheck

	var tables []*Table
	for _, f := range r.File {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "zip: context cancelled")
		}
		if skipZIPEntry(f) {
			continue
		}

		data, err := readZIPEntry(f)
		if err != nil {
			return nil, err
		}

		t, err := ReadCSV(ctx, f.Name, data)
		if err != nil {
			zap.L().Warn("zip: skipping unreadable member", zap.String("name", f.Name), zap.Error(err))
			continue
		}
		tables = append(tables, t)
	}
	return tables, nil
}

func skipZIPEntry(f *zip.File) bool {
	if f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/") {
		return true
	}
	if strings.HasPrefix(f.Name, "__MACOSX") || strings.HasPrefix(path.Base(f.Name), "._") {
		return true
	}
	return !strings.EqualFold(path.Ext(f.Name), ".csv")
}

func readZIPEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, eris.Wrapf(err, "zip: open entry %s", f.Name)
	}
	defer rc.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(rc, maxEntrySize+1))
	if err != nil {
		return nil, eris.Wrapf(err, "zip: read entry %s", f.Name)
	}
	if len(data) > maxEntrySize {
		return nil, eris.Errorf("zip: entry %s exceeds %d bytes", f.Name, maxEntrySize)
	}
	return data, nil
}
