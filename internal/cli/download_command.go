package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rudderlabs/rudder-go-kit/logger"

	"folderpull/internal/jobs"
	"folderpull/internal/jobstore"
	"folderpull/internal/manifest"
	"folderpull/internal/model"
	"folderpull/internal/storage"
)

type downloadSummary struct {
	JobID        string              `json:"job_id"`
	Status       model.JobStatus     `json:"status"`
	FolderID     string              `json:"folder_id"`
	FolderName   string              `json:"folder_name,omitempty"`
	Destination  string              `json:"destination,omitempty"`
	TotalFiles   int                 `json:"total_files"`
	Done         int                 `json:"done"`
	Failed       int                 `json:"failed"`
	BytesWritten int64               `json:"bytes_written"`
	Elapsed      string              `json:"elapsed,omitempty"`
	Error        string              `json:"error,omitempty"`
	Failures     []model.ItemFailure `json:"failures,omitempty"`
	ReportPath   string              `json:"report_path,omitempty"`
}

func runDownload(args []string) error {
	fs := flag.NewFlagSet("download", flag.ContinueOnError)
	cf := addCommonFlags(fs)
	folderID := fs.String("folder-id", "", "remote folder id")
	folderName := fs.String("folder-name", "", "folder display name (labels only)")
	outDir := fs.String("out", "", "destination directory (default from settings)")
	bucket := fs.String("bucket", "", "destination bucket URL instead of a directory (file://, s3://, gs://)")
	prefix := fs.String("prefix", "", "key prefix inside --bucket")
	manifestFile := fs.String("manifest-file", "", "use a saved manifest (json or jsonl) instead of fetching one")
	chunkKB := fs.Int("chunk-kb", 0, "read chunk size in KiB (0 keeps settings)")
	readTimeout := fs.Duration("read-timeout", 0, "abort a file when no data arrives for this long (0 keeps settings)")
	yes := fs.Bool("yes", false, "write into the destination without asking")
	useTUI := fs.Bool("tui", false, "show the interactive progress view")
	reportPath := fs.String("report", "", "write a JSON job report to this path")
	jsonOut := fs.Bool("json", false, "print JSON output")
	fs.SetOutput(flag.CommandLine.Output())
	if err := fs.Parse(args); err != nil {
		return err
	}

	env, err := loadEnv(cf)
	if err != nil {
		return err
	}
	if v := strings.TrimSpace(*outDir); v != "" {
		env.rt.OutDir = v
		env.rt.Bucket = ""
	}
	if v := strings.TrimSpace(*bucket); v != "" {
		env.rt.Bucket = v
	}
	if v := strings.TrimSpace(*prefix); v != "" {
		env.rt.Prefix = v
	}
	if *chunkKB > 0 {
		env.rt.ChunkSize = *chunkKB * 1024
	}
	env.rt.ReadTimeout = durationOr(*readTimeout, env.rt.ReadTimeout)

	req := jobs.Request{FolderID: strings.TrimSpace(*folderID), FolderName: strings.TrimSpace(*folderName)}
	var src jobs.ManifestSource = env.manifestClient()
	if path := strings.TrimSpace(*manifestFile); path != "" {
		doc, _, err := manifest.LoadFile(path)
		if err != nil {
			return err
		}
		req.FolderID = firstNonEmpty(req.FolderID, doc.FolderID, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)))
		req.FolderName = firstNonEmpty(req.FolderName, doc.FolderName)
		src = manifest.FileSource{Path: path}
	}
	req.FolderName = firstNonEmpty(req.FolderName, req.FolderID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var confirm storage.ConfirmFunc
	switch {
	case *yes:
	case *useTUI:
		// The TUI owns the terminal once it starts, so ask first.
		ok, err := confirmDestination(ctx, env.destinationLabel())
		confirm = func(context.Context, string) (bool, error) { return ok, err }
	default:
		confirm = confirmDestination
	}
	provider := env.provider(confirm)
	engine := env.transferEngine()

	metrics, stopStats := env.startStats(ctx)
	defer stopStats()

	build := func(observer jobs.Observer) *jobs.Orchestrator {
		return jobs.New(jobs.Config{
			Storage:  provider,
			Manifest: src,
			Transfer: engine,
			Observer: observer,
			Log:      env.log.Child("jobs"),
			Stats:    metrics,
		})
	}

	var state model.JobState
	var runErr error
	if *useTUI {
		state, runErr = runWithTUI(ctx, build, req)
	} else {
		live := newLiveProgress(!*jsonOut && stdoutIsTTY(), stdout)
		live.Start()
		state, runErr = build(live.Observe).Run(ctx, req)
		live.Stop()
	}

	summary := summarize(state)
	if p := strings.TrimSpace(*reportPath); p != "" && state.Status.IsTerminal() {
		if _, err := jobstore.SaveReport(p, state); err != nil {
			env.log.Warnn("write report", logger.NewStringField("path", p), logger.NewErrorField(err))
		} else {
			summary.ReportPath = p
		}
	}

	if *jsonOut {
		if err := printJSON(summary); err != nil {
			return err
		}
	} else {
		printDownloadSummary(summary)
	}

	if state.Status == model.StatusError {
		return runErr
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func summarize(state model.JobState) downloadSummary {
	s := downloadSummary{
		JobID:        state.ID,
		Status:       state.Status,
		FolderID:     state.FolderID,
		FolderName:   state.FolderName,
		Destination:  state.Destination,
		TotalFiles:   state.TotalFiles(),
		Done:         state.DoneCount,
		Failed:       state.FailedCount,
		BytesWritten: state.BytesWritten,
		Error:        state.ErrorMessage,
		Failures:     state.Failures,
	}
	if !state.StartedAt.IsZero() && !state.FinishedAt.IsZero() {
		s.Elapsed = state.FinishedAt.Sub(state.StartedAt).Round(time.Millisecond).String()
	}
	return s
}

func printDownloadSummary(s downloadSummary) {
	switch s.Status {
	case model.StatusIdle:
		fmt.Fprintln(stdout, "destination not granted; nothing downloaded")
		return
	case model.StatusError:
		fmt.Fprintf(stdout, "download failed: %s\n", s.Error)
		return
	case model.StatusCancelled:
		fmt.Fprintf(stdout, "cancelled after %d/%d files\n", s.Done, s.TotalFiles)
	case model.StatusDone:
		fmt.Fprintf(stdout, "%s: %d/%d files\n", model.CompletedLabel, s.Done-s.Failed, s.TotalFiles)
	}
	fmt.Fprintf(stdout, "destination: %s\n", s.Destination)
	fmt.Fprintf(stdout, "written: %s\n", formatBytesIEC(s.BytesWritten))
	if s.Elapsed != "" {
		fmt.Fprintf(stdout, "elapsed: %s\n", s.Elapsed)
	}
	if s.Failed > 0 {
		fmt.Fprintf(stdout, "failed: %d\n", s.Failed)
		for _, f := range s.Failures {
			fmt.Fprintf(stdout, "  %d. %s: %s\n", f.Index+1, f.Label, f.Error)
		}
	}
	if s.ReportPath != "" {
		fmt.Fprintf(stdout, "report: %s\n", s.ReportPath)
	}
}
