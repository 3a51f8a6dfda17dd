package storage

import (
	"context"
	"errors"
	"strings"
)

var errParentSegment = errors.New("path leaves the destination root")

// ResolveDir walks relDir below root, creating missing segments, and returns
// the leaf directory. The whole path is checked before anything is
// created. Empty and "." segments are skipped so leading or doubled
// slashes are harmless. Existing directories are reused as they are.
func ResolveDir(ctx context.Context, root Dir, relDir string) (Dir, error) {
	segments := make([]string, 0, 4)
	for _, seg := range strings.Split(relDir, "/") {
		if seg == "" || seg == "." {
			continue
		}
		if seg == ".." {
			return nil, &DirectoryAccessError{Path: relDir, Segment: seg, Err: errParentSegment}
		}
		segments = append(segments, seg)
	}

	current := root
	for _, seg := range segments {
		if err := ctx.Err(); err != nil {
			return nil, &DirectoryAccessError{Path: relDir, Segment: seg, Err: err}
		}
		next, err := current.Child(ctx, seg)
		if err != nil {
			var dae *DirectoryAccessError
			if errors.As(err, &dae) {
				return nil, err
			}
			return nil, &DirectoryAccessError{Path: relDir, Segment: seg, Err: err}
		}
		current = next
	}
	return current, nil
}
