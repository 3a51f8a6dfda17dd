package cli

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"folderpull/internal/model"
)

// liveProgress redraws a single status line while a job runs. Item failures
// are printed above it as they happen.
type liveProgress struct {
	enabled bool
	out     io.Writer

	mu    sync.Mutex
	state model.JobState
	drawn bool

	stop chan struct{}
	wg   sync.WaitGroup
}

func newLiveProgress(enabled bool, out io.Writer) *liveProgress {
	return &liveProgress{
		enabled: enabled,
		out:     out,
		state:   model.NewJobState("", "", ""),
		stop:    make(chan struct{}),
	}
}

func (p *liveProgress) Start() {
	if !p.enabled {
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		t := time.NewTicker(500 * time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-t.C:
				p.redraw()
			}
		}
	}()
}

func (p *liveProgress) Stop() {
	if !p.enabled {
		return
	}
	close(p.stop)
	p.wg.Wait()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.drawn {
		fmt.Fprint(p.out, "\r\033[2K")
		p.drawn = false
	}
}

func (p *liveProgress) Observe(ev model.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = ev.State
	if !p.enabled {
		return
	}
	switch ev.Kind {
	case model.EventManifest:
		p.printLine(fmt.Sprintf("manifest: %d files -> %s", ev.State.TotalFiles(), ev.State.Destination))
	case model.EventItemFinished:
		if ev.Result != nil && !ev.Result.OK() {
			p.printLine(fmt.Sprintf("failed: %s: %v", ev.Result.Item.Label(), ev.Result.Err))
		}
	}
}

func (p *liveProgress) printLine(line string) {
	if p.drawn {
		fmt.Fprint(p.out, "\r\033[2K")
	}
	fmt.Fprintln(p.out, line)
	p.drawn = false
}

func (p *liveProgress) redraw() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state.Status != model.StatusRunning || p.state.TotalFiles() == 0 {
		return
	}
	fmt.Fprintf(p.out, "\r\033[2K%s", renderProgressLine(p.state))
	p.drawn = true
}

func renderProgressLine(s model.JobState) string {
	current := s.DoneCount + 1
	if current > s.TotalFiles() {
		current = s.TotalFiles()
	}
	parts := []string{
		fmt.Sprintf("[%d/%d]", current, s.TotalFiles()),
		fmt.Sprintf("overall %d%%", s.OverallPercent()),
		fmt.Sprintf("item %d%%", s.CurrentItemPercent),
	}
	if s.FailedCount > 0 {
		parts = append(parts, fmt.Sprintf("failed %d", s.FailedCount))
	}
	if s.BytesWritten > 0 {
		parts = append(parts, formatBytesIEC(s.BytesWritten))
	}
	parts = append(parts, "| "+truncateLabel(s.CurrentItemLabel, 60))
	return strings.Join(parts, "  ")
}
