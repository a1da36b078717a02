package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	defaultMaxBytes    = 8 << 20
)

// HTTPReader downloads a published sheet CSV.
type HTTPReader struct {
	url      string
	client   *http.Client
	maxBytes int64
}

func NewHTTP(cfg Config) (*HTTPReader, error) {
	u := strings.TrimSpace(cfg.URL)
	if u == "" {
		return nil, errors.New("source.url is required for http driver")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	return &HTTPReader{url: u, client: &http.Client{Timeout: timeout}, maxBytes: maxBytes}, nil
}

func (r *HTTPReader) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/csv")
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch sheet: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("fetch sheet: unexpected status %s", resp.Status)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read sheet: %w", err)
	}
	if int64(len(b)) > r.maxBytes {
		return nil, fmt.Errorf("read sheet: body exceeds %d bytes", r.maxBytes)
	}
	return b, nil
}
