package manifest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleManifest = `{
  "folder_id": "F1",
  "folder_name": "Photos",
  "generated_at": "2025-01-02T03:04:05Z",
  "total_files": 4,
  "items": [
    {"file_id": "1", "name": "f1.txt", "relative_path": "a/b/f1.txt", "size": "12", "web_content_link": "https://x/1"},
    {"file_id": "2", "name": "f2.txt", "relative_path": "/f2.txt", "size": 7, "web_content_link": "https://x/2"},
    {"file_id": "3", "name": "nolink.txt", "relative_path": "nolink.txt", "web_content_link": ""},
    {"file_id": "4", "name": "", "relative_path": "", "web_content_link": "https://x/4"}
  ]
}`

func TestFetchNormalizesItems(t *testing.T) {
	var gotQuery, gotCookie string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, EndpointPath, r.URL.Path)
		gotQuery = r.URL.RawQuery
		if c, err := r.Cookie(SessionCookieName); err == nil {
			gotCookie = c.Value
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleManifest))
	}))
	defer srv.Close()

	items, err := NewClient(srv.URL+"/", WithSession("tok")).Fetch(context.Background(), "F1", "Photos")
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "a/b/f1.txt", items[0].RelativePath)
	assert.Equal(t, int64(12), items[0].SizeHint)
	assert.Equal(t, "f2.txt", items[1].RelativePath)
	assert.Equal(t, int64(7), items[1].SizeHint)
	assert.Equal(t, "tok", gotCookie)
	assert.Contains(t, gotQuery, "folder_id=F1")
	assert.Contains(t, gotQuery, "folder_name=Photos")
	assert.Contains(t, gotQuery, "format=json")
}

func TestFetchNonOKSurfacesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "Failed to walk folder: boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Fetch(context.Background(), "F1", "")
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusInternalServerError, fe.StatusCode)
	assert.Contains(t, fe.Body, "Failed to walk folder: boom")
	assert.Contains(t, err.Error(), "HTTP 500")
}

func TestFetchTruncatesLargeErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(strings.Repeat("x", 3*maxErrorBody)))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Fetch(context.Background(), "F1", "")
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Len(t, fe.Body, maxErrorBody)
}

func TestFetchUnparsableBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("<html>login</html>"))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Fetch(context.Background(), "F1", "")
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, http.StatusOK, fe.StatusCode)
}

func TestFetchMissingItemsArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"folder_id":"F1"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Fetch(context.Background(), "F1", "")
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
}

func TestFetchEmptyItemsIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"items":[{"file_id":"1","name":"a","web_content_link":""}]}`))
	}))
	defer srv.Close()

	items, err := NewClient(srv.URL).Fetch(context.Background(), "F1", "")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestFetchDecodesLines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson; charset=utf-8")
		_, _ = w.Write([]byte(
			`{"file_id":"1","name":"a.txt","relative_path":"d/a.txt","web_content_link":"https://x/1"}` + "\n\n" +
				`{"file_id":"2","name":"b.txt","relative_path":"b.txt","web_content_link":"https://x/2"}` + "\n"))
	}))
	defer srv.Close()

	items, err := NewClient(srv.URL).Fetch(context.Background(), "F1", "")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "d/a.txt", items[0].RelativePath)
}

func TestFetchRequiresConfiguration(t *testing.T) {
	_, err := NewClient("").Fetch(context.Background(), "F1", "")
	var fe *FetchError
	require.ErrorAs(t, err, &fe)

	_, err = NewClient("http://127.0.0.1:1").Fetch(context.Background(), " ", "")
	require.ErrorAs(t, err, &fe)
}

func TestFetchTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := NewClient(url).Fetch(context.Background(), "F1", "")
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Zero(t, fe.StatusCode)
}

func TestLoadFileJSONAndLines(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "m.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(sampleManifest), 0o644))

	doc, items, err := LoadFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "Photos", doc.FolderName)
	assert.Len(t, items, 2)

	linesPath := filepath.Join(dir, "m.jsonl")
	require.NoError(t, os.WriteFile(linesPath, []byte(
		`{"file_id":"1","name":"a.txt","web_content_link":"https://x/1"}`+"\n"+
			`{"file_id":"2","name":"b.txt","web_content_link":"https://x/2"}`+"\n"), 0o644))
	_, items, err = LoadFile(linesPath)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "b.txt", items[1].Label())

	singlePath := filepath.Join(dir, "single.jsonl")
	require.NoError(t, os.WriteFile(singlePath, []byte(
		`{"file_id":"9","name":"only.txt","relative_path":"docs/only.txt","web_content_link":"https://x/9"}`+"\n"), 0o644))
	doc, items, err = LoadFile(singlePath)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "docs/only.txt", items[0].Label())
	assert.Equal(t, 1, doc.TotalFiles)

	_, err = FileSource{Path: filepath.Join(dir, "missing.json")}.Fetch(context.Background(), "", "")
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
}
