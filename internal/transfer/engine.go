// Package transfer streams one remote file into one storage sink.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rudderlabs/rudder-go-kit/httputil"
	"github.com/rudderlabs/rudder-go-kit/logger"
)

const (
	DefaultChunkSize   = 256 << 10
	DefaultReadTimeout = 60 * time.Second

	maxErrorBody = 4 << 10
)

var ErrReadTimeout = errors.New("no data received within the read timeout")

// Error is an item-scoped transfer failure.
type Error struct {
	Link       string
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		body := strings.TrimSpace(e.Body)
		if body != "" {
			return fmt.Sprintf("download failed (HTTP %d): %s", e.StatusCode, body)
		}
		return fmt.Sprintf("download failed (HTTP %d)", e.StatusCode)
	}
	return fmt.Sprintf("download failed: %v", e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Sink is where the bytes go. Close commits, Abort discards.
type Sink interface {
	io.Writer
	Close() error
	Abort() error
}

// ProgressFunc receives the item percentage in [0, 100].
type ProgressFunc func(percent int)

type Config struct {
	ChunkSize   int
	ReadTimeout time.Duration
	HTTPClient  *http.Client
	Log         logger.Logger
}

type Engine struct {
	chunkSize   int
	readTimeout time.Duration
	http        *http.Client
	log         logger.Logger
}

func NewEngine(cfg Config) *Engine {
	e := &Engine{
		chunkSize:   cfg.ChunkSize,
		readTimeout: cfg.ReadTimeout,
		http:        cfg.HTTPClient,
		log:         cfg.Log,
	}
	if e.chunkSize <= 0 {
		e.chunkSize = DefaultChunkSize
	}
	if e.readTimeout <= 0 {
		e.readTimeout = DefaultReadTimeout
	}
	if e.http == nil {
		e.http = &http.Client{}
	}
	if e.log == nil {
		e.log = logger.NOP
	}
	return e
}

// Transfer copies link into sink one chunk at a time and returns the number of
// bytes written. The sink is closed on success and aborted on any failure.
func (e *Engine) Transfer(ctx context.Context, link string, sink Sink, onProgress ProgressFunc) (written int64, err error) {
	committed := false
	defer func() {
		if !committed {
			_ = sink.Abort()
		}
	}()

	reqCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	watchdog := newIdleTimer(e.readTimeout, func() { cancel(ErrReadTimeout) })
	defer watchdog.stop()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, link, nil)
	if err != nil {
		return 0, &Error{Link: link, Err: fmt.Errorf("build request: %w", err)}
	}
	resp, err := e.http.Do(req)
	if err != nil {
		return 0, &Error{Link: link, Err: causeOf(reqCtx, err)}
	}
	defer func() { httputil.CloseResponse(resp) }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return 0, &Error{
			Link:       link,
			StatusCode: resp.StatusCode,
			Body:       string(body),
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}
	if resp.Body == nil {
		return 0, &Error{Link: link, StatusCode: resp.StatusCode, Err: errors.New("response has no body")}
	}

	total := resp.ContentLength
	lastPercent := -1
	report := func(p int) {
		if onProgress != nil && p != lastPercent {
			lastPercent = p
			onProgress(p)
		}
	}

	buf := make([]byte, e.chunkSize)
	for {
		watchdog.reset()
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			// A slow sink is not an idle connection.
			watchdog.pause()
			if _, werr := sink.Write(buf[:n]); werr != nil {
				return written, &Error{Link: link, Err: fmt.Errorf("write: %w", werr)}
			}
			written += int64(n)
			if total > 0 {
				report(Percent(written, total))
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return written, &Error{Link: link, Err: causeOf(reqCtx, readErr)}
		}
	}
	watchdog.stop()

	if err := sink.Close(); err != nil {
		committed = true
		return written, &Error{Link: link, Err: err}
	}
	committed = true
	if total <= 0 {
		report(100)
	}
	e.log.Debugn("transfer complete",
		logger.NewStringField("link", link),
		logger.NewIntField("bytes", written),
	)
	return written, nil
}

// Percent is round(written/total*100) clamped to [0, 100].
func Percent(written, total int64) int {
	if total <= 0 {
		return 0
	}
	p := int(math.Round(float64(written) / float64(total) * 100))
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func causeOf(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); cause != nil && !errors.Is(err, cause) {
		return fmt.Errorf("%w: %v", cause, err)
	}
	return err
}

// idleTimer fires when no chunk arrives for d.
type idleTimer struct {
	mu sync.Mutex
	d  time.Duration
	t  *time.Timer
}

func newIdleTimer(d time.Duration, fire func()) *idleTimer {
	return &idleTimer{d: d, t: time.AfterFunc(d, fire)}
}

func (w *idleTimer) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.t != nil {
		w.t.Reset(w.d)
	}
}

func (w *idleTimer) pause() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.t != nil {
		w.t.Stop()
	}
}

func (w *idleTimer) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.t != nil {
		w.t.Stop()
		w.t = nil
	}
}
