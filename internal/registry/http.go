package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"ratchet/internal/errors"
	"ratchet/internal/logging"
	"ratchet/internal/task"
	"ratchet/internal/taxonomy"
)

// AuthMode is the HTTP source's authentication scheme, per spec §4.5:
// "optional auth (bearer / basic / header)".
type AuthMode string

const (
	AuthNone   AuthMode = ""
	AuthBearer AuthMode = "bearer"
	AuthBasic  AuthMode = "basic"
	AuthHeader AuthMode = "header"
)

// HTTPConfig configures an HTTP-backed task source.
type HTTPConfig struct {
	BaseURL        string
	Auth           AuthMode
	BearerToken    string
	BasicUser      string
	BasicPass      string
	HeaderName     string
	HeaderValue    string
	DefaultHeaders map[string]string
	Timeout        time.Duration
	MaxRetries     int
}

func (c *HTTPConfig) setDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
}

// HTTPSource discovers tasks from an HTTP catalog endpoint. Expects
// GET {base}/tasks to return a JSON array of Metadata-shaped objects, and
// GET {base}/tasks/{name} to return a full task document.
type HTTPSource struct {
	cfg      HTTPConfig
	client   *http.Client
	logger   *logging.ComponentLogger
	retryCfg errors.RetryConfig
	breaker  *errors.CircuitBreaker
}

// NewHTTPSource constructs an HTTPSource. Requests are guarded by a
// circuit breaker keyed on BaseURL: once a burst of failures trips it,
// subsequent calls fail fast with ServiceUnavailable instead of piling up
// retries against a dead endpoint, until the breaker's timeout elapses.
func NewHTTPSource(cfg HTTPConfig) *HTTPSource {
	cfg.setDefaults()
	return &HTTPSource{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  logging.NewComponentLogger("registry.http"),
		breaker: errors.NewCircuitBreaker("registry.http:"+cfg.BaseURL, errors.DefaultCircuitBreakerConfig()),
		retryCfg: errors.RetryConfig{
			MaxAttempts:  cfg.MaxRetries,
			BaseDelay:    200 * time.Millisecond,
			MaxDelay:     2 * time.Second,
			JitterFactor: 0.2,
		},
	}
}

func (s *HTTPSource) Origin() string { return "http" }

func (s *HTTPSource) newRequest(ctx context.Context, method, path string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.cfg.BaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range s.cfg.DefaultHeaders {
		req.Header.Set(k, v)
	}
	switch s.cfg.Auth {
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+s.cfg.BearerToken)
	case AuthBasic:
		req.SetBasicAuth(s.cfg.BasicUser, s.cfg.BasicPass)
	case AuthHeader:
		req.Header.Set(s.cfg.HeaderName, s.cfg.HeaderValue)
	}
	return req, nil
}

func (s *HTTPSource) doJSON(ctx context.Context, path string, out any) error {
	return s.breaker.Execute(ctx, func(ctx context.Context) error {
		return errors.RetryWithLog(ctx, s.retryCfg, func(ctx context.Context) error {
			return s.doJSONOnce(ctx, path, out)
		}, s.logger)
	})
}

func (s *HTTPSource) doJSONOnce(ctx context.Context, path string, out any) error {
	req, err := s.newRequest(ctx, http.MethodGet, path)
	if err != nil {
		return taxonomy.Wrap(taxonomy.NetworkKind, err, "building request")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return taxonomy.Wrap(taxonomy.NetworkKind, err, "http source request failed")
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 500 {
		return taxonomy.New(taxonomy.NetworkKind, fmt.Sprintf("http source %s returned %d", path, resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return taxonomy.New(taxonomy.TaskNotFound, fmt.Sprintf("http source %s returned %d", path, resp.StatusCode))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return taxonomy.Wrap(taxonomy.SerializationKind, err, "decoding http source response")
	}
	return nil
}

func (s *HTTPSource) Discover(ctx context.Context) ([]Metadata, error) {
	var metas []Metadata
	if err := s.doJSON(ctx, "/tasks", &metas); err != nil {
		return nil, err
	}
	for i := range metas {
		metas[i].SourceOrigin = "http"
	}
	return metas, nil
}

// httpTaskDoc is the full-task document GET {base}/tasks/{name} returns:
// the HTTP source has no on-disk directory bundle, so its wire shape
// carries the script inline rather than splitting it across sibling
// files the way the filesystem source's metadata.json + main.js does.
type httpTaskDoc struct {
	UUID         string          `json:"uuid"`
	Name         string          `json:"name"`
	Version      string          `json:"version"`
	Script       string          `json:"script"`
	InputSchema  json.RawMessage `json:"inputSchema"`
	OutputSchema json.RawMessage `json:"outputSchema"`
}

func (s *HTTPSource) Load(ctx context.Context, name string) (task.TaskDefinition, error) {
	var doc httpTaskDoc
	if err := s.doJSON(ctx, "/tasks/"+name, &doc); err != nil {
		return task.TaskDefinition{}, err
	}
	return task.TaskDefinition{
		UUID:         doc.UUID,
		Name:         doc.Name,
		Version:      doc.Version,
		Script:       doc.Script,
		InputSchema:  doc.InputSchema,
		OutputSchema: doc.OutputSchema,
		SourceOrigin: "http",
		SourcePath:   s.cfg.BaseURL + "/tasks/" + name,
	}, nil
}

func (s *HTTPSource) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	req, err := s.newRequest(ctx, http.MethodGet, "/healthz")
	if err != nil {
		return taxonomy.Wrap(taxonomy.NetworkKind, err, "building health check request")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return taxonomy.Wrap(taxonomy.NetworkKind, err, "http source health check failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return taxonomy.New(taxonomy.NetworkKind, fmt.Sprintf("http source health check returned %d", resp.StatusCode))
	}
	return nil
}
