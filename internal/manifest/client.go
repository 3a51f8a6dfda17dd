package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/rudderlabs/rudder-go-kit/httputil"
	"github.com/rudderlabs/rudder-go-kit/logger"

	"folderpull/internal/model"
)

const (
	EndpointPath      = "/api/folder/manifest"
	SessionCookieName = "azify_session"

	maxErrorBody = 4 << 10
)

// FetchError is any failure to obtain a usable manifest. StatusCode and Body
// are set when the server answered.
type FetchError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		body := strings.TrimSpace(e.Body)
		if body == "" {
			body = http.StatusText(e.StatusCode)
		}
		return fmt.Sprintf("manifest request failed (HTTP %d): %s", e.StatusCode, body)
	}
	return fmt.Sprintf("manifest request failed: %v", e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

type Client struct {
	baseURL string
	session string
	http    *http.Client
	log     logger.Logger
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

func WithSession(session string) Option {
	return func(cl *Client) { cl.session = strings.TrimSpace(session) }
}

func WithLogger(log logger.Logger) Option {
	return func(cl *Client) { cl.log = log }
}

func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{Timeout: 2 * time.Minute},
		log:     logger.NOP,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// Fetch requests the manifest for folderID and returns its eligible items in
// server order. An empty result is not an error here.
func (c *Client) Fetch(ctx context.Context, folderID, folderName string) ([]model.ManifestItem, error) {
	doc, err := c.FetchDocument(ctx, folderID, folderName)
	if err != nil {
		return nil, err
	}
	items := Normalize(doc.Items)
	c.log.Infon("manifest fetched",
		logger.NewStringField("folderId", folderID),
		logger.NewIntField("entries", int64(len(doc.Items))),
		logger.NewIntField("eligible", int64(len(items))),
	)
	return items, nil
}

func (c *Client) FetchDocument(ctx context.Context, folderID, folderName string) (Document, error) {
	if c.baseURL == "" {
		return Document{}, &FetchError{Err: errors.New("server URL is not configured")}
	}
	folderID = strings.TrimSpace(folderID)
	if folderID == "" {
		return Document{}, &FetchError{Err: errors.New("folder id is required")}
	}

	q := url.Values{}
	q.Set("folder_id", folderID)
	if strings.TrimSpace(folderName) != "" {
		q.Set("folder_name", folderName)
	}
	q.Set("format", "json")
	endpoint := c.baseURL + EndpointPath + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Document{}, &FetchError{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Accept", "application/json, application/x-ndjson")
	if c.session != "" {
		req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: c.session})
	}

	c.log.Debugn("requesting manifest", logger.NewStringField("url", endpoint))
	resp, err := c.http.Do(req)
	if err != nil {
		return Document{}, &FetchError{Err: err}
	}
	defer func() { httputil.CloseResponse(resp) }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return Document{}, &FetchError{
			StatusCode: resp.StatusCode,
			Body:       string(body),
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	doc, err := decodeBody(resp)
	if err != nil {
		return Document{}, &FetchError{StatusCode: resp.StatusCode, Err: err}
	}
	return doc, nil
}

func decodeBody(resp *http.Response) (Document, error) {
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType == "application/x-ndjson" || mediaType == "application/jsonl" {
		return decodeLines(resp.Body)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Document{}, fmt.Errorf("read manifest body: %w", err)
	}
	return decodeJSON(data)
}

// LoadFile reads a manifest saved from the server (format=json or
// format=jsonl) and normalizes it like Fetch.
func LoadFile(path string) (Document, []model.ManifestItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Document{}, nil, fmt.Errorf("read manifest file %s: %w", path, err)
	}
	var doc Document
	if looksLikeLines(data) {
		doc, err = decodeLines(strings.NewReader(string(data)))
	} else {
		doc, err = decodeJSON(data)
	}
	if err != nil {
		return Document{}, nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, Normalize(doc.Items), nil
}
