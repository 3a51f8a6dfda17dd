package manifest

import (
	"bufio"
	"fmt"
	"io"
	"path"
	"strings"

	"folderpull/internal/model"
)

// WriteAria2 renders items as an aria2c input file. Each entry is placed
// under a directory named after the folder.
func WriteAria2(w io.Writer, folderName string, items []model.ManifestItem) error {
	bw := bufio.NewWriter(w)
	base := SafeName(folderName)
	fmt.Fprintf(bw, "# Aria2 input generated by folderpull\n")
	fmt.Fprintf(bw, "# Folder: %s\n", folderName)
	fmt.Fprintf(bw, "# Total files: %d\n", len(items))
	fmt.Fprintf(bw, "# ---------------------------------------------\n\n")
	for _, it := range items {
		if strings.TrimSpace(it.ContentLink) == "" {
			continue
		}
		dir, file := it.Split()
		fmt.Fprintf(bw, "%s\n", it.ContentLink)
		fmt.Fprintf(bw, "  dir=%s\n", path.Join(base, dir))
		fmt.Fprintf(bw, "  out=%s\n\n", file)
	}
	return bw.Flush()
}

// SafeName turns a folder name into a single path segment.
func SafeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "folder"
	}
	var b strings.Builder
	for _, r := range name {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			b.WriteRune('_')
		default:
			if r < 0x20 {
				continue
			}
			b.WriteRune(r)
		}
	}
	out := strings.Trim(b.String(), ". ")
	if out == "" {
		return "folder"
	}
	return out
}
