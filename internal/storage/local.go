package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"folderpull/internal/jobstore"
)

const partSuffix = ".part"

// Local grants a directory on the local filesystem. All access goes through
// an os.Root, so nothing can be created outside the chosen directory.
type Local struct {
	dir     string
	confirm ConfirmFunc
	noLock  bool
}

type LocalOption func(*Local)

// WithoutLock skips the destination lock. Used when another process already
// serializes access to the directory.
func WithoutLock() LocalOption {
	return func(l *Local) { l.noLock = true }
}

func NewLocal(dir string, confirm ConfirmFunc, opts ...LocalOption) *Local {
	l := &Local{dir: strings.TrimSpace(dir), confirm: confirm}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Local) Available() error {
	if l.dir == "" {
		return errors.New("no destination directory configured")
	}
	info, err := os.Stat(l.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("inspect destination %s: %w", l.dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("destination %s is not a directory", l.dir)
	}
	return nil
}

func (l *Local) Acquire(ctx context.Context, jobID string) (Root, error) {
	abs, err := filepath.Abs(l.dir)
	if err != nil {
		return nil, fmt.Errorf("resolve destination %s: %w", l.dir, err)
	}
	if err := confirmOrDecline(ctx, l.confirm, abs); err != nil {
		return nil, err
	}
	if err := jobstore.Mkdir(abs); err != nil {
		return nil, err
	}

	var lock jobstore.DestLock
	if !l.noLock {
		lock, err = jobstore.AcquireLock(abs, jobID)
		if err != nil {
			return nil, err
		}
	}
	root, err := os.OpenRoot(abs)
	if err != nil {
		_ = lock.Release()
		return nil, fmt.Errorf("open destination %s: %w", abs, err)
	}
	return &localRoot{localDir: localDir{root: root, locked: !l.noLock}, name: abs, lock: lock}, nil
}

var errReservedName = errors.New("name is reserved for the destination lock")

type localDir struct {
	root *os.Root
	rel  string
	// locked is set on the root only; the lock directory sits at its top.
	locked bool
}

func (d localDir) checkName(name string) error {
	if d.locked && d.rel == "" && name == jobstore.LockDirName {
		return fmt.Errorf("%s: %w", name, errReservedName)
	}
	return nil
}

func (d localDir) Path() string {
	return d.rel
}

func (d localDir) Child(ctx context.Context, name string) (Dir, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := d.checkName(name); err != nil {
		return nil, err
	}
	p := path.Join(d.rel, name)
	if err := d.root.Mkdir(p, 0o755); err != nil {
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("create directory %s: %w", p, err)
		}
		info, statErr := d.root.Stat(p)
		if statErr != nil {
			return nil, fmt.Errorf("inspect directory %s: %w", p, statErr)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%s exists and is not a directory", p)
		}
	}
	return localDir{root: d.root, rel: p}, nil
}

func (d localDir) CreateFile(ctx context.Context, name string) (Sink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := d.checkName(name); err != nil {
		return nil, err
	}
	final := path.Join(d.rel, name)
	part := final + partSuffix
	f, err := d.root.OpenFile(part, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create file %s: %w", final, err)
	}
	return &localSink{root: d.root, f: f, part: part, final: final}, nil
}

type localRoot struct {
	localDir
	name string
	lock jobstore.DestLock
}

func (r *localRoot) Name() string {
	return r.name
}

func (r *localRoot) Close() error {
	closeErr := r.root.Close()
	if err := r.lock.Release(); err != nil {
		return err
	}
	return closeErr
}

// localSink writes to "<name>.part" and renames it into place on Close, so a
// failed transfer never leaves a file that looks complete.
type localSink struct {
	root  *os.Root
	f     *os.File
	part  string
	final string
	done  bool
}

func (s *localSink) Write(p []byte) (int, error) {
	return s.f.Write(p)
}

func (s *localSink) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	if err := s.f.Sync(); err != nil {
		_ = s.f.Close()
		_ = s.root.Remove(s.part)
		return fmt.Errorf("flush %s: %w", s.final, err)
	}
	if err := s.f.Close(); err != nil {
		_ = s.root.Remove(s.part)
		return fmt.Errorf("close %s: %w", s.final, err)
	}
	if err := s.root.Rename(s.part, s.final); err != nil {
		_ = s.root.Remove(s.part)
		return fmt.Errorf("commit %s: %w", s.final, err)
	}
	return nil
}

func (s *localSink) Abort() error {
	if s.done {
		return nil
	}
	s.done = true
	closeErr := s.f.Close()
	if err := s.root.Remove(s.part); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("discard %s: %w", s.part, err)
	}
	return closeErr
}
