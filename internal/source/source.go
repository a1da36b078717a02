// Package source fetches the form-response sheet as CSV and splits it into
// rows.
package source

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

var ErrNoSource = errors.New("source not configured")

// Reader fetches the current snapshot of the sheet.
type Reader interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// Config selects a driver.
//
// Driver values:
//   - "http" (default when URL is set): published sheet CSV URL
//   - "file": local CSV file at Path
type Config struct {
	Driver   string
	URL      string
	Path     string
	Timeout  time.Duration
	MaxBytes int64
}

// New builds the configured Reader.
func New(cfg Config) (Reader, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		switch {
		case strings.TrimSpace(cfg.URL) != "":
			driver = "http"
		case strings.TrimSpace(cfg.Path) != "":
			driver = "file"
		}
	}
	switch driver {
	case "http", "https":
		return NewHTTP(cfg)
	case "file":
		return NewFile(cfg.Path)
	case "":
		return nil, ErrNoSource
	default:
		return nil, fmt.Errorf("unknown source driver: %s", driver)
	}
}

// ParseRows splits CSV text into rows. Standard quoting applies, so a quoted
// receiver list ("A, B") stays one field. Rows may have differing lengths;
// validating them is the interpreter's job. A blank line between records is
// kept as an empty row so row positions match the line order of the sheet.
func ParseRows(b []byte) ([][]string, error) {
	b = bytes.TrimPrefix(b, []byte("\xef\xbb\xbf"))
	r := csv.NewReader(bytes.NewReader(b))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var rows [][]string
	next := 1 // line a record starts on when no blank lines precede it
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("parse csv: %w", err)
		}
		line, _ := r.FieldPos(0)
		for ; next < line; next++ {
			rows = append(rows, []string{})
		}
		rows = append(rows, rec)
		next = 1 + bytes.Count(b[:r.InputOffset()], []byte("\n"))
	}
}
