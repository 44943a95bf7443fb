// Recording implements the optional HAR-recording side effect (spec
// §4.4, supplemented in SPEC_FULL.md §10). Grounded on the original Rust
// implementation's ratchet-http/src/recording.rs HAR 1.2 entry shape, but
// re-architected per spec §9's design note: the original used process-wide
// global state for the active recording session; here a FileRecorder
// instance is an explicit handle threaded through the call, with no
// package-level mutable state, so concurrent executions never share a
// recording session by accident.
package coordinator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// HAREntry is one HTTP request/response pair a script made during
// execution, in HAR 1.2 entry shape.
type HAREntry struct {
	StartedDateTime time.Time       `json:"startedDateTime"`
	TimeMs          int64           `json:"time"`
	Request         HARRequest      `json:"request"`
	Response        HARResponse     `json:"response"`
	Cache           json.RawMessage `json:"cache"`
	Timings         HARTimings      `json:"timings"`
}

type HARRequest struct {
	Method      string     `json:"method"`
	URL         string     `json:"url"`
	HTTPVersion string     `json:"httpVersion"`
	Headers     []HARField `json:"headers"`
	QueryString []HARField `json:"queryString"`
	HeadersSize int        `json:"headersSize"`
	BodySize    int        `json:"bodySize"`
}

type HARResponse struct {
	Status      int        `json:"status"`
	StatusText  string     `json:"statusText"`
	HTTPVersion string     `json:"httpVersion"`
	Headers     []HARField `json:"headers"`
	Content     HARContent `json:"content"`
	RedirectURL string     `json:"redirectURL"`
	HeadersSize int        `json:"headersSize"`
	BodySize    int        `json:"bodySize"`
}

type HARContent struct {
	Size        int    `json:"size"`
	MimeType    string `json:"mimeType"`
	Text        string `json:"text"`
	Compression int    `json:"compression"`
}

type HARField struct {
	Name    string `json:"name"`
	Value   string `json:"value"`
	Comment string `json:"comment"`
}

type HARTimings struct {
	Blocked int64 `json:"blocked"`
	DNS     int64 `json:"dns"`
	Connect int64 `json:"connect"`
	Send    int64 `json:"send"`
	Wait    int64 `json:"wait"`
	Receive int64 `json:"receive"`
	SSL     int64 `json:"ssl"`
}

// FileRecorder persists input.json/output.json alongside requests.har
// under a fresh directory per call. One FileRecorder is shared by every
// call of the Coordinator it is passed to; there is no per-call
// acquire/release step.
type FileRecorder struct {
	root string
}

// NewFileRecorder returns a Recorder rooted at root (spec §6's
// <recording_root>). A zero-value root disables writes (Record becomes a
// no-op returning no refs), matching "recording is a best-effort side
// effect that never changes the outcome."
func NewFileRecorder(root string) *FileRecorder {
	return &FileRecorder{root: root}
}

// Record writes input.json, output.json and requests.har under a fresh
// <root>/<timestamp>/ directory and returns the paths written.
// requests.har is a HAR document with an empty entries list: the HTTP
// requests a script makes are not captured. Any I/O failure is swallowed —
// recording never affects the call's outcome.
func (f *FileRecorder) Record(ctx context.Context, taskRef string, input, output json.RawMessage) []string {
	if f == nil || f.root == "" {
		return nil
	}
	dir := filepath.Join(f.root, time.Now().UTC().Format("20060102T150405.000000000Z"))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil
	}

	var refs []string
	if path, err := writeJSONFile(filepath.Join(dir, "input.json"), input); err == nil {
		refs = append(refs, path)
	}
	if path, err := writeJSONFile(filepath.Join(dir, "output.json"), output); err == nil {
		refs = append(refs, path)
	}

	session := NewHARSession()
	if path, err := session.finalize(filepath.Join(dir, "requests.har")); err == nil {
		refs = append(refs, path)
	}
	return refs
}

func writeJSONFile(path string, data json.RawMessage) (string, error) {
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// HARSession accumulates HTTP entries a single execution's script made,
// scoped to that one call rather than shared process-wide state.
type HARSession struct {
	mu      sync.Mutex
	entries []HAREntry
}

func NewHARSession() *HARSession { return &HARSession{} }

// RecordRequest appends one HAR entry for a completed HTTP round trip.
func (s *HARSession) RecordRequest(method, url string, reqHeaders, respHeaders http.Header, status int, respBody string, duration time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, HAREntry{
		StartedDateTime: time.Now().UTC().Add(-duration),
		TimeMs:          duration.Milliseconds(),
		Request: HARRequest{
			Method:      method,
			URL:         url,
			HTTPVersion: "HTTP/1.1",
			Headers:     headerFields(reqHeaders),
			QueryString: []HARField{},
			HeadersSize: -1,
		},
		Response: HARResponse{
			Status:      status,
			StatusText:  http.StatusText(status),
			HTTPVersion: "HTTP/1.1",
			Headers:     headerFields(respHeaders),
			Content: HARContent{
				Size:     len(respBody),
				MimeType: "application/json",
				Text:     respBody,
			},
			HeadersSize: -1,
			BodySize:    len(respBody),
		},
		Cache: json.RawMessage("{}"),
		Timings: HARTimings{
			Wait: duration.Milliseconds(),
			SSL:  -1,
		},
	})
}

func headerFields(h http.Header) []HARField {
	fields := make([]HARField, 0, len(h))
	for name, values := range h {
		for _, v := range values {
			fields = append(fields, HARField{Name: name, Value: v})
		}
	}
	return fields
}

func (s *HARSession) finalize(path string) (string, error) {
	s.mu.Lock()
	entries := s.entries
	s.mu.Unlock()
	if entries == nil {
		entries = []HAREntry{}
	}

	doc := map[string]any{
		"log": map[string]any{
			"version": "1.2",
			"creator": map[string]string{"name": "ratchet", "version": "1"},
			"pages":   []any{},
			"entries": entries,
		},
	}
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal har: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
