package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultTimeout bounds a single fetch attempt
	DefaultTimeout = 20 * time.Second
	// DefaultRetryDelay is the pause before the single retry
	DefaultRetryDelay = 3 * time.Second

	maxBodySize = 4 << 20
)

// ErrNoSource is returned when neither a registry URL nor a file is configured
var ErrNoSource = errors.New("no registry source configured")

// Source fetches the current agent list from wherever the registry lives
type Source interface {
	Fetch(ctx context.Context) ([]Agent, error)
}

// HTTPSource fetches the registry from an HTTP endpoint
type HTTPSource struct {
	// URL is the full registry URL (e.g., "http://registry:8080/agents")
	URL string

	// Headers are added to every request
	Headers map[string]string

	// Timeout bounds each attempt
	Timeout time.Duration

	// RetryDelay is waited before the single retry
	RetryDelay time.Duration

	// Client is the HTTP client to use
	Client *http.Client
}

// NewHTTPSource creates an HTTP source with default timeout and retry delay
func NewHTTPSource(url string) *HTTPSource {
	return &HTTPSource{
		URL:        url,
		Headers:    make(map[string]string),
		Timeout:    DefaultTimeout,
		RetryDelay: DefaultRetryDelay,
		Client:     &http.Client{},
	}
}

// Fetch performs the request, retrying once after RetryDelay on failure
func (s *HTTPSource) Fetch(ctx context.Context) ([]Agent, error) {
	agents, err := s.attempt(ctx)
	if err == nil {
		return agents, nil
	}

	select {
	case <-time.After(s.RetryDelay):
	case <-ctx.Done():
		return nil, fmt.Errorf("registry fetch: %w", err)
	}

	agents, retryErr := s.attempt(ctx)
	if retryErr != nil {
		return nil, fmt.Errorf("registry fetch (after retry): %w", retryErr)
	}
	return agents, nil
}

func (s *HTTPSource) attempt(ctx context.Context) ([]Agent, error) {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for key, value := range s.Headers {
		req.Header.Set(key, value)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read body: %w", err)
	}
	return Normalize(body)
}

// FileSource reads a static registry from a YAML file:
//
//	agents:
//	  - id: planner
//	    name: Planner
//	    capabilities: [plan]
type FileSource struct {
	Path string
}

// NewFileSource creates a file-backed source
func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

// Fetch re-reads the file on every call so edits are picked up on the next tick
func (s *FileSource) Fetch(_ context.Context) ([]Agent, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}

	var doc struct {
		Agents []Agent `yaml:"agents"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse registry file: %w", err)
	}

	agents := make([]Agent, 0, len(doc.Agents))
	for _, a := range doc.Agents {
		if a.ID == "" {
			continue
		}
		if a.Name == "" {
			a.Name = a.ID
		}
		agents = append(agents, a)
	}
	return agents, nil
}

// NewSource picks the HTTP source when url is set, otherwise the file source
func NewSource(url, file string) (Source, error) {
	switch {
	case url != "":
		return NewHTTPSource(url), nil
	case file != "":
		return NewFileSource(file), nil
	default:
		return nil, ErrNoSource
	}
}
