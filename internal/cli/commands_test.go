package cli

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"folderpull/internal/model"
	"folderpull/internal/settings"
)

func writeManifestFile(t *testing.T, dir string) string {
	t.Helper()
	p := filepath.Join(dir, "manifest.json")
	body := `{"folder_id":"F9","folder_name":"Photos 2024/Summer","items":[
		{"file_id":"1","name":"a.jpg","relative_path":"/trip/a.jpg","size":"2048","mime_type":"image/jpeg","web_content_link":"https://cdn.example.com/1"},
		{"file_id":"2","name":"notes","relative_path":"notes","web_content_link":""},
		{"file_id":"3","name":"b.jpg","relative_path":"b.jpg","size":"oops","web_content_link":"https://cdn.example.com/3"}
	]}`
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestRunUnknownCommand(t *testing.T) {
	buf := captureStdout(t)
	err := Run([]string{"frobnicate"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "frobnicate")
	assert.Contains(t, buf.String(), "Commands:")
}

func TestManifestCommandTable(t *testing.T) {
	p := writeManifestFile(t, t.TempDir())
	buf := captureStdout(t)

	require.NoError(t, Run([]string{"manifest", "--manifest-file", p}))
	out := buf.String()
	assert.Contains(t, out, "trip/a.jpg")
	assert.Contains(t, out, "2.0 KiB")
	assert.Contains(t, out, "b.jpg")
	assert.NotContains(t, out, "notes")
	assert.Contains(t, out, "2 files")
	assert.Contains(t, out, "1 skipped without a download link")
}

func TestManifestCommandAria2(t *testing.T) {
	p := writeManifestFile(t, t.TempDir())
	buf := captureStdout(t)

	require.NoError(t, Run([]string{"manifest", "--manifest-file", p, "--format", "aria2"}))
	out := buf.String()
	assert.Contains(t, out, "# Total files: 2")
	assert.Contains(t, out, "https://cdn.example.com/1\n  dir=Photos 2024_Summer/trip\n  out=a.jpg\n")
	assert.Contains(t, out, "  dir=Photos 2024_Summer\n  out=b.jpg\n")
}

func TestManifestCommandJSON(t *testing.T) {
	p := writeManifestFile(t, t.TempDir())
	buf := captureStdout(t)

	require.NoError(t, Run([]string{"manifest", "--manifest-file", p, "--format", "json"}))
	var got struct {
		FolderID string               `json:"folder_id"`
		Entries  int                  `json:"entries"`
		Eligible int                  `json:"eligible"`
		Items    []model.ManifestItem `json:"items"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "F9", got.FolderID)
	assert.Equal(t, 3, got.Entries)
	assert.Equal(t, 2, got.Eligible)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "trip/a.jpg", got.Items[0].RelativePath)
	assert.EqualValues(t, -1, got.Items[1].SizeHint)
}

func TestManifestCommandValidatesFlags(t *testing.T) {
	captureStdout(t)
	require.Error(t, Run([]string{"manifest", "--format", "xml", "--folder-id", "F"}))
	require.Error(t, Run([]string{"manifest", "--settings", filepath.Join(t.TempDir(), "s.json")}))
}

func TestSettingsSetAndShow(t *testing.T) {
	p := filepath.Join(t.TempDir(), "cfg", "settings.json")
	buf := captureStdout(t)

	require.NoError(t, Run([]string{"settings", "set", "--settings", p,
		"--server", "https://drive.example.com/",
		"--session", "secret-cookie",
		"--chunk-kb", "64",
		"--read-timeout-s", "30",
		"--json",
	}))
	assert.NotContains(t, buf.String(), "secret-cookie")

	stored, err := settings.Read(p)
	require.NoError(t, err)
	assert.Equal(t, "https://drive.example.com", stored.ServerURL)
	assert.Equal(t, "secret-cookie", stored.Session)
	assert.Equal(t, 64, stored.ChunkSizeKB)
	assert.Equal(t, 30, stored.ReadTimeoutSeconds)
	assert.Equal(t, settings.DefaultFetchSecs, stored.FetchTimeoutSeconds)

	buf.Reset()
	require.NoError(t, Run([]string{"settings", "show", "--settings", p}))
	out := buf.String()
	assert.Contains(t, out, "server_url: https://drive.example.com")
	assert.Contains(t, out, "session: (set)")
	assert.Contains(t, out, "chunk_size: 64.0 KiB")
	assert.NotContains(t, out, "secret-cookie")

	buf.Reset()
	require.NoError(t, Run([]string{"settings", "set", "--settings", p, "--clear-session"}))
	stored, err = settings.Read(p)
	require.NoError(t, err)
	assert.Empty(t, stored.Session)
}

func TestSettingsSetRejectsInvalidValues(t *testing.T) {
	p := filepath.Join(t.TempDir(), "settings.json")
	captureStdout(t)
	require.Error(t, Run([]string{"settings", "set", "--settings", p, "--server", "drive.example.com"}))
	require.Error(t, Run([]string{"settings", "set", "--settings", p, "--chunk-kb", "0"}))
	require.Error(t, Run([]string{"settings", "set", "--settings", p, "--fetch-timeout-s", "-5"}))
	_, err := os.Stat(p)
	assert.True(t, os.IsNotExist(err), "rejected updates must not write the file")
}

// writeOutDirSettings keeps doctor checks away from the working directory.
func writeOutDirSettings(t *testing.T, dir string) string {
	t.Helper()
	p := filepath.Join(dir, "settings.json")
	s := settings.Defaults()
	s.OutDir = filepath.Join(dir, "downloads")
	_, err := settings.Update(p, s)
	require.NoError(t, err)
	return p
}

func TestDoctorPassesWithReachableServer(t *testing.T) {
	tmp := t.TempDir()
	srv := newFolderServer(t, http.StatusOK)
	p := writeOutDirSettings(t, tmp)
	buf := captureStdout(t)

	require.NoError(t, Run([]string{"doctor", "--settings", p, "--server", srv.URL}))
	out := buf.String()
	assert.Contains(t, out, "server:reachable: ok")
	assert.Contains(t, out, "doctor: all checks passed")
}

func TestDoctorFailsWithoutServer(t *testing.T) {
	p := writeOutDirSettings(t, t.TempDir())
	buf := captureStdout(t)

	err := Run([]string{"doctor", "--settings", p, "--json"})
	require.EqualError(t, err, "doctor checks failed")

	var res doctorResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &res))
	assert.False(t, res.OK)
	names := make([]string, 0, len(res.Checks))
	for _, c := range res.Checks {
		names = append(names, c.Name)
	}
	assert.Contains(t, names, "server:configured")
	assert.NotContains(t, names, "server:reachable")
	assert.Contains(t, names, "destination:directory")
}

func TestRenderProgressLine(t *testing.T) {
	s := model.NewJobState("j", "F", "Folder")
	s.Status = model.StatusRunning
	s.Items = make([]model.ManifestItem, 4)
	s.DoneCount = 1
	s.FailedCount = 1
	s.CurrentItemPercent = 50
	s.CurrentItemLabel = "a/b/c.txt"

	line := renderProgressLine(s)
	assert.Contains(t, line, "[2/4]")
	assert.Contains(t, line, "overall 25%")
	assert.Contains(t, line, "item 50%")
	assert.Contains(t, line, "failed 1")
	assert.True(t, strings.HasSuffix(line, "| a/b/c.txt"))
}

func TestLiveProgressPrintsManifestAndFailures(t *testing.T) {
	buf := &strings.Builder{}
	p := newLiveProgress(true, buf)
	p.Start()

	s := model.NewJobState("j", "F", "Folder")
	s.Status = model.StatusRunning
	s.Destination = "/tmp/out"
	s.Items = []model.ManifestItem{{Name: "x.bin"}, {Name: "y.bin"}}
	p.Observe(model.Event{Kind: model.EventManifest, Index: -1, State: s})
	p.Observe(model.Event{
		Kind:   model.EventItemFinished,
		Index:  1,
		State:  s,
		Result: &model.ItemResult{Index: 1, Item: s.Items[1], Err: errors.New("HTTP 404")},
	})
	p.Stop()

	out := buf.String()
	assert.Contains(t, out, "manifest: 2 files -> /tmp/out")
	assert.Contains(t, out, "failed: y.bin: HTTP 404")
}

func TestLiveProgressDisabledWritesNothing(t *testing.T) {
	buf := &strings.Builder{}
	p := newLiveProgress(false, buf)
	p.Start()
	p.Observe(model.Event{Kind: model.EventManifest, Index: -1, State: model.NewJobState("j", "F", "")})
	p.Stop()
	assert.Empty(t, buf.String())
}

func TestDownloadModelTracksEvents(t *testing.T) {
	cancelled := false
	m := newDownloadModel(func() { cancelled = true })

	s := model.NewJobState("j", "F", "Folder")
	s.Status = model.StatusRunning
	s.Items = []model.ManifestItem{{Name: "one.txt"}, {Name: "two.txt"}}
	s.DoneCount = 1
	s.FailedCount = 1

	next, _ := m.Update(jobEventMsg(model.Event{
		Kind:   model.EventItemFinished,
		Index:  0,
		State:  s,
		Result: &model.ItemResult{Item: s.Items[0], Err: errors.New("connection reset")},
	}))
	m = next.(downloadModel)
	require.Len(t, m.failures, 1)
	view := m.View()
	assert.Contains(t, view, "one.txt: connection reset")
	assert.Contains(t, view, "files  1/2")

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	m = next.(downloadModel)
	assert.True(t, cancelled)

	s.DoneCount = 2
	require.NoError(t, model.TransitionJob(&s, model.StatusDone, ""))
	next, cmd := m.Update(jobDoneMsg{state: s})
	m = next.(downloadModel)
	require.NotNil(t, cmd)
	assert.True(t, m.finished)
	assert.Contains(t, m.View(), model.CompletedLabel)
}

func TestConfirmDestinationHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ok, err := confirmDestination(ctx, "/tmp/x")
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadAnswerStopsOnCancel(t *testing.T) {
	captureStdout(t)
	r, w := io.Pipe()
	defer func() { _ = w.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := readAnswer(ctx, r)
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("prompt kept blocking after cancellation")
	}
}

func TestReadAnswerParsesReply(t *testing.T) {
	for in, want := range map[string]bool{"y\n": true, "YES\n": true, "n\n": false, "\n": false, "yes": true} {
		ok, err := readAnswer(context.Background(), strings.NewReader(in))
		require.NoError(t, err, "input %q", in)
		assert.Equal(t, want, ok, "input %q", in)
	}
	_, err := readAnswer(context.Background(), strings.NewReader(""))
	assert.ErrorIs(t, err, io.EOF)
}

func TestFormatBytesIEC(t *testing.T) {
	cases := map[int64]string{
		0:       "0 B",
		512:     "512 B",
		1536:    "1.5 KiB",
		5 << 20: "5.0 MiB",
	}
	for in, want := range cases {
		assert.Equal(t, want, formatBytesIEC(in), "input %d", in)
	}
}
