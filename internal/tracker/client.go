// Package tracker is an HTTP client for the production-tracking
// service's REST surface: entity queries, publishes, review versions
// and the event log. The service itself is external; tests run against
// the in-repo fake in trackertest.
package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/framehaus/stagehand/internal/config"
)

var ErrNotFound = errors.New("tracker: entity not found")

const (
	headerScriptName = "X-Script-Name"
	headerScriptKey  = "X-Script-Key"
)

type Client struct {
	baseURL    string
	scriptName string
	scriptKey  string

	httpClient *http.Client
	logger     *zap.Logger

	// Idempotent GETs retry; mutations never do.
	retryAttempts int
	retryBase     time.Duration
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

func WithRetry(attempts int, base time.Duration) Option {
	return func(c *Client) {
		c.retryAttempts = attempts
		c.retryBase = base
	}
}

func New(baseURL, scriptName, scriptKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		scriptName:    scriptName,
		scriptKey:     scriptKey,
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		logger:        zap.NewNop(),
		retryAttempts: 3,
		retryBase:     250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewFromConfig builds a client from the configuration's tracker block,
// reading the API key from the environment variable it names.
func NewFromConfig(c *config.Config, opts ...Option) (*Client, error) {
	t := c.Tracker
	if t.BaseURL == "" {
		return nil, fmt.Errorf("no tracker base_url configured in config/core/tracker.yml")
	}
	key := ""
	if t.APIKeyEnv != "" {
		key = os.Getenv(t.APIKeyEnv)
	}
	return New(t.BaseURL, t.ScriptName, key, opts...), nil
}

// FindOpts pages Find results.
type FindOpts struct {
	Page  int
	Limit int
}

// Find queries entities of one type by filter triples.
func (c *Client) Find(ctx context.Context, entityType string, filters []Filter, fields []string, opts *FindOpts) ([]Entity, error) {
	q := url.Values{}
	if len(filters) > 0 {
		bs, err := json.Marshal(filters)
		if err != nil {
			return nil, err
		}
		q.Set("filters", string(bs))
	}
	if len(fields) > 0 {
		q.Set("fields", strings.Join(fields, ","))
	}
	if opts != nil {
		if opts.Page > 0 {
			q.Set("page", strconv.Itoa(opts.Page))
		}
		if opts.Limit > 0 {
			q.Set("limit", strconv.Itoa(opts.Limit))
		}
	}

	var out struct {
		Entities []Entity `json:"entities"`
	}
	if err := c.get(ctx, "/api/v1/entities/"+url.PathEscape(entityType), q, &out); err != nil {
		return nil, err
	}
	return out.Entities, nil
}

// FindOne returns the first match or ErrNotFound.
func (c *Client) FindOne(ctx context.Context, entityType string, filters []Filter, fields []string) (*Entity, error) {
	entities, err := c.Find(ctx, entityType, filters, fields, &FindOpts{Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(entities) == 0 {
		return nil, fmt.Errorf("%w: %s %v", ErrNotFound, entityType, filters)
	}
	return &entities[0], nil
}

// Get fetches one record by reference.
func (c *Client) Get(ctx context.Context, ref Ref, fields []string) (*Entity, error) {
	q := url.Values{}
	if len(fields) > 0 {
		q.Set("fields", strings.Join(fields, ","))
	}

	var out struct {
		Entity *Entity `json:"entity"`
	}
	err := c.get(ctx, fmt.Sprintf("/api/v1/entities/%s/%d", url.PathEscape(ref.Type), ref.ID), q, &out)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, err
	}
	return out.Entity, nil
}

// Create makes a new record. The "name" key becomes the record name.
func (c *Client) Create(ctx context.Context, entityType string, data map[string]any) (*Entity, error) {
	var out struct {
		Entity *Entity `json:"entity"`
	}
	err := c.send(ctx, http.MethodPost, "/api/v1/entities/"+url.PathEscape(entityType), map[string]any{"fields": data}, &out)
	if err != nil {
		return nil, err
	}
	return out.Entity, nil
}

// Update patches fields on an existing record.
func (c *Client) Update(ctx context.Context, ref Ref, data map[string]any) (*Entity, error) {
	var out struct {
		Entity *Entity `json:"entity"`
	}
	path := fmt.Sprintf("/api/v1/entities/%s/%d", url.PathEscape(ref.Type), ref.ID)
	if err := c.send(ctx, http.MethodPut, path, map[string]any{"fields": data}, &out); err != nil {
		return nil, err
	}
	return out.Entity, nil
}

// Events reads a page of the event log, ordered by id ascending,
// strictly after sinceID.
func (c *Client) Events(ctx context.Context, sinceID int64, limit int) ([]Event, error) {
	q := url.Values{}
	q.Set("since_id", strconv.FormatInt(sinceID, 10))
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var out struct {
		Events []Event `json:"events"`
	}
	if err := c.get(ctx, "/api/v1/events", q, &out); err != nil {
		return nil, err
	}
	return out.Events, nil
}

// LogEvent appends an event to the service's log; used for launch
// breadcrumbs.
func (c *Client) LogEvent(ctx context.Context, ev Event) error {
	return c.send(ctx, http.MethodPost, "/api/v1/events", ev, nil)
}

// UploadThumbnail attaches an image to a record.
func (c *Client) UploadThumbnail(ctx context.Context, ref Ref, path string) error {
	return c.upload(ctx, ref, "thumbnail", path)
}

// UploadMedia attaches reviewable media to a record.
func (c *Client) UploadMedia(ctx context.Context, ref Ref, path string) error {
	return c.upload(ctx, ref, "media", path)
}

func (c *Client) upload(ctx context.Context, ref Ref, kind, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}

	u := fmt.Sprintf("%s/api/v1/entities/%s/%d/%s", c.baseURL, url.PathEscape(ref.Type), ref.ID, kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.auth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp)
}

func (c *Client) auth(req *http.Request) {
	if c.scriptName != "" {
		req.Header.Set(headerScriptName, c.scriptName)
	}
	if c.scriptKey != "" {
		req.Header.Set(headerScriptKey, c.scriptKey)
	}
}

func (c *Client) get(ctx context.Context, path string, q url.Values, out any) error {
	u := c.baseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	var lastErr error
	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			backoff := c.retryBase << (attempt - 1)
			jitter := time.Duration(rand.Int63n(int64(backoff)/2 + 1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff + jitter):
			}
			c.logger.Debug("retrying tracker request",
				zap.String("url", u),
				zap.Int("attempt", attempt+1))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		c.auth(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		err = decodeResponse(resp, out)
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode >= 500 {
			lastErr = err
			continue
		}
		return err
	}

	return lastErr
}

func (c *Client) send(ctx context.Context, method, path string, body, out any) error {
	bs, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(bs))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.auth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()

	if err := checkStatus(resp); err != nil {
		return err
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	detail := ""
	var body struct {
		Error string `json:"error"`
	}
	bs, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if json.Unmarshal(bs, &body) == nil && body.Error != "" {
		detail = body.Error
	} else {
		detail = strings.TrimSpace(string(bs))
	}

	return &APIError{StatusCode: resp.StatusCode, Detail: detail}
}
