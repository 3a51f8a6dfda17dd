package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"gocloud.dev/blob"
)

// Blob grants a key prefix inside a gocloud.dev bucket. Directories are
// implicit in object keys, so creating one only checks that no object
// already occupies that name.
type Blob struct {
	bucketURL string
	prefix    string
	confirm   ConfirmFunc
	bucket    *blob.Bucket
}

// NewBlob opens the bucket at bucketURL (file://, mem://, s3://, gs://) when
// the root is acquired. The URL scheme must be registered by a driver import.
func NewBlob(bucketURL, prefix string, confirm ConfirmFunc) *Blob {
	return &Blob{
		bucketURL: strings.TrimSpace(bucketURL),
		prefix:    cleanPrefix(prefix),
		confirm:   confirm,
	}
}

// NewBlobBucket uses an already opened bucket. The caller keeps ownership of
// it; closing the root does not close the bucket.
func NewBlobBucket(bucket *blob.Bucket, name, prefix string, confirm ConfirmFunc) *Blob {
	return &Blob{
		bucketURL: name,
		prefix:    cleanPrefix(prefix),
		confirm:   confirm,
		bucket:    bucket,
	}
}

func (b *Blob) Available() error {
	if b.bucket != nil {
		return nil
	}
	if b.bucketURL == "" {
		return errors.New("no bucket URL configured")
	}
	u, err := url.Parse(b.bucketURL)
	if err != nil {
		return fmt.Errorf("parse bucket URL %q: %w", b.bucketURL, err)
	}
	if !blob.DefaultURLMux().ValidBucketScheme(u.Scheme) {
		return fmt.Errorf("unsupported bucket scheme %q", u.Scheme)
	}
	return nil
}

func (b *Blob) Acquire(ctx context.Context, _ string) (Root, error) {
	name := b.displayName()
	if err := confirmOrDecline(ctx, b.confirm, name); err != nil {
		return nil, err
	}
	if b.bucket != nil {
		return &blobRoot{blobDir: blobDir{bucket: b.bucket, prefix: b.prefix}, name: name}, nil
	}
	bkt, err := blob.OpenBucket(ctx, b.bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", b.bucketURL, err)
	}
	return &blobRoot{blobDir: blobDir{bucket: bkt, prefix: b.prefix}, name: name, owned: true}, nil
}

func (b *Blob) displayName() string {
	if b.prefix == "" {
		return b.bucketURL
	}
	if strings.HasSuffix(b.bucketURL, "/") {
		return b.bucketURL + b.prefix
	}
	return b.bucketURL + "/" + b.prefix
}

type blobDir struct {
	bucket *blob.Bucket
	prefix string
	rel    string
}

func (d blobDir) Path() string {
	return d.rel
}

func (d blobDir) key(name string) string {
	return path.Join(d.prefix, d.rel, name)
}

func (d blobDir) Child(ctx context.Context, name string) (Dir, error) {
	exists, err := d.bucket.Exists(ctx, d.key(name))
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", d.key(name), err)
	}
	if exists {
		return nil, fmt.Errorf("%s exists and is not a directory", d.key(name))
	}
	return blobDir{bucket: d.bucket, prefix: d.prefix, rel: path.Join(d.rel, name)}, nil
}

func (d blobDir) CreateFile(ctx context.Context, name string) (Sink, error) {
	key := d.key(name)
	wctx, cancel := context.WithCancel(ctx)
	w, err := d.bucket.NewWriter(wctx, key, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create object %s: %w", key, err)
	}
	return &blobSink{w: w, cancel: cancel, key: key}, nil
}

type blobRoot struct {
	blobDir
	name  string
	owned bool
}

func (r *blobRoot) Name() string {
	return r.name
}

func (r *blobRoot) Close() error {
	if !r.owned {
		return nil
	}
	return r.bucket.Close()
}

// blobSink commits on Close. Abort cancels the writer context first, which
// makes the driver drop the upload instead of publishing a partial object.
type blobSink struct {
	w      *blob.Writer
	cancel context.CancelFunc
	key    string
	done   bool
}

func (s *blobSink) Write(p []byte) (int, error) {
	return s.w.Write(p)
}

func (s *blobSink) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	defer s.cancel()
	if err := s.w.Close(); err != nil {
		return fmt.Errorf("commit object %s: %w", s.key, err)
	}
	return nil
}

func (s *blobSink) Abort() error {
	if s.done {
		return nil
	}
	s.done = true
	s.cancel()
	_ = s.w.Close()
	return nil
}

func cleanPrefix(prefix string) string {
	p := strings.Trim(strings.TrimSpace(prefix), "/")
	if p == "" {
		return ""
	}
	return path.Clean(p)
}
