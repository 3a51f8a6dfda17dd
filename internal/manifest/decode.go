package manifest

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/samber/lo"

	"folderpull/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Document is the manifest body returned by the server.
type Document struct {
	FolderID    string  `json:"folder_id"`
	FolderName  string  `json:"folder_name"`
	GeneratedAt string  `json:"generated_at"`
	TotalFiles  int     `json:"total_files"`
	Items       []Entry `json:"items"`
}

type Entry struct {
	FileID         string   `json:"file_id"`
	ParentID       string   `json:"parent_id,omitempty"`
	Name           string   `json:"name"`
	RelativePath   string   `json:"relative_path"`
	FolderPath     string   `json:"folder_path,omitempty"`
	Size           sizeHint `json:"size"`
	MimeType       string   `json:"mime_type,omitempty"`
	WebContentLink string   `json:"web_content_link"`
}

// sizeHint accepts the size as a JSON string or number. Anything unparsable
// becomes -1.
type sizeHint int64

func (s *sizeHint) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "" || raw == "null" {
		*s = -1
		return nil
	}
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = strings.TrimSpace(unquoted)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		*s = -1
		return nil
	}
	*s = sizeHint(n)
	return nil
}

func decodeJSON(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("decode manifest: %w", err)
	}
	if doc.Items == nil {
		return Document{}, fmt.Errorf("decode manifest: missing items array")
	}
	return doc, nil
}

// decodeLines reads one entry per line, as served with format=jsonl.
func decodeLines(r io.Reader) (Document, error) {
	doc := Document{Items: []Entry{}}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := bytes.TrimSpace(sc.Bytes())
		if len(text) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(text, &e); err != nil {
			return Document{}, fmt.Errorf("decode manifest line %d: %w", line, err)
		}
		doc.Items = append(doc.Items, e)
	}
	if err := sc.Err(); err != nil {
		return Document{}, fmt.Errorf("read manifest lines: %w", err)
	}
	doc.TotalFiles = len(doc.Items)
	return doc, nil
}

// looksLikeLines reports whether data is one JSON object per line. A single
// line counts when it is an entry rather than a document with an items array.
func looksLikeLines(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	first, rest, found := bytes.Cut(trimmed, []byte("\n"))
	first = bytes.TrimSpace(first)
	if !json.Valid(first) {
		return false
	}
	if found && len(bytes.TrimSpace(rest)) > 0 {
		return true
	}
	var keys map[string]jsoniter.RawMessage
	if err := json.Unmarshal(first, &keys); err != nil {
		return false
	}
	_, isDocument := keys["items"]
	return !isDocument
}

// Normalize keeps entries that have a content link and a usable name, and
// strips leading slashes from relative paths. Order is preserved.
func Normalize(entries []Entry) []model.ManifestItem {
	kept := lo.Filter(entries, func(e Entry, _ int) bool {
		if strings.TrimSpace(e.WebContentLink) == "" {
			return false
		}
		return strings.TrimLeft(strings.TrimSpace(e.RelativePath), "/") != "" || strings.TrimSpace(e.Name) != ""
	})
	return lo.Map(kept, func(e Entry, _ int) model.ManifestItem {
		return model.ManifestItem{
			FileID:       strings.TrimSpace(e.FileID),
			RelativePath: strings.TrimLeft(strings.TrimSpace(e.RelativePath), "/"),
			Name:         strings.TrimSpace(e.Name),
			ContentLink:  strings.TrimSpace(e.WebContentLink),
			SizeHint:     int64(e.Size),
			MimeType:     e.MimeType,
		}
	})
}
