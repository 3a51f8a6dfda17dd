package manifest

import (
	"context"

	"folderpull/internal/model"
)

// FileSource serves a manifest saved on disk. The folder arguments of Fetch
// are ignored.
type FileSource struct {
	Path string
}

func (s FileSource) Fetch(ctx context.Context, _, _ string) ([]model.ManifestItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, &FetchError{Err: err}
	}
	_, items, err := LoadFile(s.Path)
	if err != nil {
		return nil, &FetchError{Err: err}
	}
	return items, nil
}
