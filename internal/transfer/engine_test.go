package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type memSink struct {
	buf      bytes.Buffer
	writeErr error
	closed   int
	aborted  int
}

func (s *memSink) Write(p []byte) (int, error) {
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	return s.buf.Write(p)
}

func (s *memSink) Close() error {
	s.closed++
	return nil
}

func (s *memSink) Abort() error {
	s.aborted++
	return nil
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func stubClient(status int, length int64, body []byte) *http.Client {
	return &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode:    status,
			Status:        strconv.Itoa(status) + " " + http.StatusText(status),
			ContentLength: length,
			Header:        http.Header{},
			Body:          io.NopCloser(bytes.NewReader(body)),
			Request:       r,
		}, nil
	})}
}

func TestTransferReportsPercentPerChunk(t *testing.T) {
	body := bytes.Repeat([]byte("a"), 1000)
	eng := NewEngine(Config{ChunkSize: 250, HTTPClient: stubClient(200, 1000, body)})
	sink := &memSink{}

	var got []int
	n, err := eng.Transfer(context.Background(), "https://x/1", sink, func(p int) { got = append(got, p) })
	require.NoError(t, err)
	assert.EqualValues(t, 1000, n)
	assert.Equal(t, []int{25, 50, 75, 100}, got)
	assert.Equal(t, 1000, sink.buf.Len())
	assert.Equal(t, 1, sink.closed)
	assert.Zero(t, sink.aborted)
}

func TestTransferUnequalChunks(t *testing.T) {
	// 250, 250, 500 bytes against a declared 1000.
	reads := [][]byte{bytes.Repeat([]byte("a"), 250), bytes.Repeat([]byte("b"), 250), bytes.Repeat([]byte("c"), 500)}
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode:    200,
			ContentLength: 1000,
			Header:        http.Header{},
			Body:          io.NopCloser(&scriptedReader{chunks: reads}),
			Request:       r,
		}, nil
	})}
	eng := NewEngine(Config{ChunkSize: 1024, HTTPClient: client})

	var got []int
	_, err := eng.Transfer(context.Background(), "https://x/1", &memSink{}, func(p int) { got = append(got, p) })
	require.NoError(t, err)
	assert.Equal(t, []int{25, 50, 100}, got)
}

func TestTransferUnknownLengthReportsOnlyCompletion(t *testing.T) {
	eng := NewEngine(Config{ChunkSize: 100, HTTPClient: stubClient(200, -1, bytes.Repeat([]byte("z"), 450))})
	var got []int
	n, err := eng.Transfer(context.Background(), "https://x/1", &memSink{}, func(p int) { got = append(got, p) })
	require.NoError(t, err)
	assert.EqualValues(t, 450, n)
	assert.Equal(t, []int{100}, got)
}

func TestTransferEmptyBody(t *testing.T) {
	sink := &memSink{}
	var got []int
	n, err := NewEngine(Config{HTTPClient: stubClient(200, 0, nil)}).
		Transfer(context.Background(), "https://x/1", sink, func(p int) { got = append(got, p) })
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, []int{100}, got)
	assert.Equal(t, 1, sink.closed)
}

func TestTransferNon2xxAbortsSink(t *testing.T) {
	sink := &memSink{}
	_, err := NewEngine(Config{HTTPClient: stubClient(404, -1, []byte("not found"))}).
		Transfer(context.Background(), "https://x/1", sink, nil)
	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 404, te.StatusCode)
	assert.Equal(t, "not found", te.Body)
	assert.Zero(t, sink.closed)
	assert.Equal(t, 1, sink.aborted)
}

func TestTransferWriteFailureAbortsSink(t *testing.T) {
	sink := &memSink{writeErr: errors.New("disk full")}
	_, err := NewEngine(Config{HTTPClient: stubClient(200, 10, []byte("0123456789"))}).
		Transfer(context.Background(), "https://x/1", sink, nil)
	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Contains(t, err.Error(), "disk full")
	assert.Equal(t, 1, sink.aborted)
	assert.Zero(t, sink.closed)
}

func TestTransferTransportError(t *testing.T) {
	boom := errors.New("dial failed")
	client := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) { return nil, boom })}
	sink := &memSink{}
	_, err := NewEngine(Config{HTTPClient: client}).Transfer(context.Background(), "https://x/1", sink, nil)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, sink.aborted)
}

func TestTransferOverHTTP(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	payload := strings.Repeat("folderpull", 1000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		_, _ = io.WriteString(w, payload)
	}))
	defer srv.Close()
	client := srv.Client()
	defer client.CloseIdleConnections()

	sink := &memSink{}
	var last int
	n, err := NewEngine(Config{ChunkSize: 4096, HTTPClient: client}).
		Transfer(context.Background(), srv.URL+"/f", sink, func(p int) {
			assert.GreaterOrEqual(t, p, last)
			last = p
		})
	require.NoError(t, err)
	assert.EqualValues(t, len(payload), n)
	assert.Equal(t, 100, last)
	assert.Equal(t, payload, sink.buf.String())
}

func TestTransferReadTimeout(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		_, _ = w.Write([]byte("first"))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)
	client := srv.Client()
	defer client.CloseIdleConnections()

	sink := &memSink{}
	_, err := NewEngine(Config{ReadTimeout: 50 * time.Millisecond, HTTPClient: client}).
		Transfer(context.Background(), srv.URL+"/slow", sink, nil)
	require.ErrorIs(t, err, ErrReadTimeout)
	var te *Error
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 1, sink.aborted)
}

type slowSink struct {
	memSink
	delay time.Duration
}

func (s *slowSink) Write(p []byte) (int, error) {
	time.Sleep(s.delay)
	return s.memSink.Write(p)
}

func TestTransferSlowSinkDoesNotTripReadTimeout(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	body := []byte("0123456789abcdef")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		_, _ = w.Write(body)
	}))
	defer srv.Close()
	client := srv.Client()
	defer client.CloseIdleConnections()

	sink := &slowSink{delay: 120 * time.Millisecond}
	n, err := NewEngine(Config{ChunkSize: 4, ReadTimeout: 50 * time.Millisecond, HTTPClient: client}).
		Transfer(context.Background(), srv.URL+"/file", sink, nil)
	require.NoError(t, err)
	assert.EqualValues(t, len(body), n)
	assert.Equal(t, string(body), sink.buf.String())
	assert.Equal(t, 1, sink.closed)
}

func TestTransferHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink := &memSink{}
	_, err := NewEngine(Config{}).Transfer(ctx, "http://127.0.0.1:1/never", sink, nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, sink.aborted)
}

func TestPercent(t *testing.T) {
	assert.Equal(t, 0, Percent(0, 0))
	assert.Equal(t, 33, Percent(1, 3))
	assert.Equal(t, 67, Percent(2, 3))
	assert.Equal(t, 100, Percent(1200, 1000))
	assert.Equal(t, 0, Percent(-5, 1000))
}

type scriptedReader struct {
	chunks [][]byte
}

func (r *scriptedReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	if len(r.chunks[0]) == 0 {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}
