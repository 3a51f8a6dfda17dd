// Package jobs drives a folder download from manifest to terminal status.
//
// A job processes manifest items one at a time, in manifest order. Item
// failures are recorded and counted; only failures before the first item
// (preconditions, storage, manifest) put the job into the error state.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rudderlabs/rudder-go-kit/logger"
	"github.com/rudderlabs/rudder-go-kit/stats"

	"folderpull/internal/model"
	"folderpull/internal/storage"
	"folderpull/internal/transfer"
)

type ManifestSource interface {
	Fetch(ctx context.Context, folderID, folderName string) ([]model.ManifestItem, error)
}

type Transferrer interface {
	Transfer(ctx context.Context, link string, sink transfer.Sink, onProgress transfer.ProgressFunc) (int64, error)
}

// Observer is called synchronously after every state change, on the job's
// goroutine. It must not block for long.
type Observer func(model.Event)

type Config struct {
	Storage  storage.Provider
	Manifest ManifestSource
	Transfer Transferrer
	Observer Observer
	Log      logger.Logger
	Stats    stats.Stats
	NewID    func() string
	Now      func() time.Time
}

type Request struct {
	FolderID   string
	FolderName string
}

type Orchestrator struct {
	storage  storage.Provider
	manifest ManifestSource
	transfer Transferrer
	observer Observer
	log      logger.Logger
	stats    stats.Stats
	newID    func() string
	now      func() time.Time
}

func New(cfg Config) *Orchestrator {
	o := &Orchestrator{
		storage:  cfg.Storage,
		manifest: cfg.Manifest,
		transfer: cfg.Transfer,
		observer: cfg.Observer,
		log:      cfg.Log,
		stats:    cfg.Stats,
		newID:    cfg.NewID,
		now:      cfg.Now,
	}
	if o.log == nil {
		o.log = logger.NOP
	}
	if o.stats == nil {
		o.stats = stats.NOP
	}
	if o.newID == nil {
		o.newID = uuid.NewString
	}
	if o.now == nil {
		o.now = time.Now
	}
	return o
}

// Run executes one job and returns its final state. The returned error is the
// job-level failure for StatusError, the context error for StatusCancelled,
// and nil otherwise. A declined storage prompt ends in StatusIdle with no
// error.
func (o *Orchestrator) Run(ctx context.Context, req Request) (model.JobState, error) {
	r := &run{
		o:     o,
		state: model.NewJobState(o.newID(), strings.TrimSpace(req.FolderID), strings.TrimSpace(req.FolderName)),
	}
	r.log = o.log.Withn(
		logger.NewStringField("jobId", r.state.ID),
		logger.NewStringField("folderId", r.state.FolderID),
	)
	return r.execute(ctx)
}

type run struct {
	o     *Orchestrator
	log   logger.Logger
	state model.JobState
}

func (r *run) execute(ctx context.Context) (state model.JobState, err error) {
	defer func() {
		if p := recover(); p != nil {
			state, err = r.recovered(p)
		}
	}()
	o := r.o
	if err := o.checkPreconditions(r.state); err != nil {
		return r.fail(err)
	}
	if err := r.transition(model.StatusRunning, ""); err != nil {
		return r.state, err
	}
	r.state.StartedAt = o.now()
	r.log.Infon("job started")

	root, err := o.storage.Acquire(ctx, r.state.ID)
	if err != nil {
		if errors.Is(err, storage.ErrDeclined) {
			r.log.Infon("destination declined")
			if terr := r.transition(model.StatusIdle, ""); terr != nil {
				return r.state, terr
			}
			return r.state, nil
		}
		if ctx.Err() != nil {
			return r.cancel(ctx.Err())
		}
		return r.fail(fmt.Errorf("acquire destination: %w", err))
	}
	defer func() {
		if cerr := root.Close(); cerr != nil {
			r.log.Warnn("release destination", logger.NewErrorField(cerr))
		}
	}()
	r.state.Destination = root.Name()

	items, err := o.manifest.Fetch(ctx, r.state.FolderID, r.state.FolderName)
	if err != nil {
		if ctx.Err() != nil {
			return r.cancel(ctx.Err())
		}
		return r.fail(err)
	}
	if len(items) == 0 {
		return r.fail(ErrEmptyManifest)
	}
	r.state.Items = items
	r.emit(model.EventManifest, -1, nil)
	r.log.Infon("manifest ready", logger.NewIntField("items", int64(len(items))))

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return r.cancel(err)
		}
		r.processItem(ctx, root, i, item)
	}

	r.state.CurrentItemLabel = model.CompletedLabel
	r.state.CurrentItemPercent = 100
	if err := r.transition(model.StatusDone, ""); err != nil {
		return r.state, err
	}
	r.log.Infon("job finished",
		logger.NewIntField("done", int64(r.state.DoneCount)),
		logger.NewIntField("failed", int64(r.state.FailedCount)),
		logger.NewIntField("bytes", r.state.BytesWritten),
		logger.NewDurationField("elapsed", r.state.FinishedAt.Sub(r.state.StartedAt)),
	)
	return r.state, nil
}

func (o *Orchestrator) checkPreconditions(state model.JobState) error {
	if o.storage == nil {
		return &PreconditionError{Reason: "no storage destination configured"}
	}
	if err := o.storage.Available(); err != nil {
		return &PreconditionError{Reason: "storage is not available", Err: err}
	}
	if o.manifest == nil || o.transfer == nil {
		return &PreconditionError{Reason: "downloader is not configured"}
	}
	if state.FolderID == "" {
		return &PreconditionError{Reason: "folder id is required"}
	}
	return nil
}

func (r *run) processItem(ctx context.Context, root storage.Root, index int, item model.ManifestItem) {
	label := item.Label()
	r.state.CurrentItemLabel = label
	r.state.CurrentItemPercent = 0
	r.emit(model.EventItemStarted, index, nil)

	started := r.o.now()
	n, err := r.transferItem(ctx, root, index, item)

	result := &model.ItemResult{Index: index, Item: item, Bytes: n, Err: err}
	r.state.BytesWritten += n
	outcome := "ok"
	if err != nil {
		outcome = "failed"
		r.state.FailedCount++
		r.state.Failures = append(r.state.Failures, model.ItemFailure{Index: index, Label: label, Error: err.Error()})
		r.log.Warnn("item failed",
			logger.NewIntField("index", int64(index)),
			logger.NewStringField("item", label),
			logger.NewErrorField(err),
		)
	} else {
		r.log.Debugn("item done",
			logger.NewIntField("index", int64(index)),
			logger.NewStringField("item", label),
			logger.NewIntField("bytes", n),
		)
	}
	r.state.DoneCount++

	r.o.stats.NewTaggedStat("folderpull_items", stats.CountType, stats.Tags{"outcome": outcome}).Count(1)
	if n > 0 {
		r.o.stats.NewTaggedStat("folderpull_bytes_written", stats.CountType, stats.Tags{}).Count(int(n))
	}
	r.o.stats.NewTaggedStat("folderpull_item_duration", stats.TimerType, stats.Tags{"outcome": outcome}).SendTiming(r.o.now().Sub(started))

	r.emit(model.EventItemFinished, index, result)
}

func (r *run) transferItem(ctx context.Context, root storage.Root, index int, item model.ManifestItem) (int64, error) {
	dirPath, fileName := item.Split()
	if fileName == "" || fileName == "." || fileName == ".." {
		return 0, &storage.DirectoryAccessError{Path: item.Label(), Segment: fileName, Err: errors.New("item has no usable file name")}
	}
	dir, err := storage.ResolveDir(ctx, root, dirPath)
	if err != nil {
		return 0, err
	}
	sink, err := dir.CreateFile(ctx, fileName)
	if err != nil {
		return 0, &storage.DirectoryAccessError{Path: dirPath, Segment: fileName, Err: err}
	}
	return r.o.transfer.Transfer(ctx, item.ContentLink, sink, func(p int) {
		r.state.CurrentItemPercent = p
		r.emit(model.EventItemProgress, index, nil)
	})
}

func (r *run) fail(err error) (model.JobState, error) {
	if terr := r.transition(model.StatusError, err.Error()); terr != nil {
		return r.state, errors.Join(err, terr)
	}
	r.log.Errorn("job failed", logger.NewErrorField(err))
	return r.state, err
}

func (r *run) recovered(p any) (model.JobState, error) {
	err := fmt.Errorf("%w: %v", ErrPanic, p)
	r.log.Errorn("recovered panic", logger.NewStringField("stack", string(debug.Stack())))
	if r.state.Status.IsTerminal() {
		return r.state, err
	}
	return r.fail(err)
}

func (r *run) cancel(cause error) (model.JobState, error) {
	if terr := r.transition(model.StatusCancelled, ""); terr != nil {
		return r.state, errors.Join(cause, terr)
	}
	r.log.Infon("job cancelled",
		logger.NewIntField("done", int64(r.state.DoneCount)),
		logger.NewIntField("total", int64(r.state.TotalFiles())),
	)
	return r.state, cause
}

func (r *run) transition(to model.JobStatus, message string) error {
	if err := model.TransitionJob(&r.state, to, message); err != nil {
		return err
	}
	if to.IsTerminal() {
		r.state.FinishedAt = r.o.now()
		r.o.stats.NewTaggedStat("folderpull_jobs", stats.CountType, stats.Tags{"status": string(to)}).Count(1)
	}
	r.emit(model.EventStatus, -1, nil)
	return nil
}

func (r *run) emit(kind model.EventKind, index int, result *model.ItemResult) {
	if r.o.observer == nil {
		return
	}
	r.o.observer(model.Event{Kind: kind, Index: index, State: r.state.Snapshot(), Result: result})
}
