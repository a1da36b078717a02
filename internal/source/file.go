package source

import (
	"context"
	"errors"
	"os"
	"strings"
)

// FileReader reads a local CSV export; useful for testing and for sheets
// synced to disk by another tool.
type FileReader struct {
	path string
}

func NewFile(path string) (*FileReader, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("source.path is required for file driver")
	}
	return &FileReader{path: path}, nil
}

func (r *FileReader) Fetch(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(r.path)
}
