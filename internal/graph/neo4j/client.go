// File path: internal/graph/neo4j/client.go
package neo4j

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sqlmind-ai/sqlmind/internal/common"
	"github.com/sqlmind-ai/sqlmind/internal/common/telemetry"
)

// Client speaks the Neo4j transactional Cypher HTTP endpoint with a
// lightweight lease pool bounding concurrent queries.
type Client struct {
	cfg        Config
	httpClient *http.Client
	transport  *http.Transport
	baseURL    string

	pool      chan struct{}
	closing   chan struct{}
	closeOnce sync.Once

	mu        sync.RWMutex
	available bool
}

// Session represents a logical lease from the client's connection pool.
type Session struct {
	client *Client
	once   sync.Once
}

type statement struct {
	Statement  string                 `json:"statement"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

type txRequest struct {
	Statements []statement `json:"statements"`
}

type txResponse struct {
	Results []struct {
		Columns []string `json:"columns"`
		Data    []struct {
			Row []json.RawMessage `json:"row"`
		} `json:"data"`
	} `json:"results"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// Rows holds the raw row payloads returned by one Cypher statement.
type Rows struct {
	Columns []string
	Values  [][]json.RawMessage
}

// NewClient constructs a client from the provided configuration.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if !cfg.Enabled() {
		return nil, errors.New("neo4j disabled")
	}
	logger := common.Logger()
	logger.Info("graph: initializing neo4j client",
		"endpoint", cfg.Endpoint, "database", cfg.Database,
		"pool", cfg.MaxConnections, "timeout", cfg.Timeout)

	transport := &http.Transport{
		MaxIdleConns:        cfg.HTTPMaxIdleConns,
		MaxIdleConnsPerHost: cfg.HTTPMaxIdlePerHost,
		MaxConnsPerHost:     cfg.HTTPMaxConnsPerHost,
		IdleConnTimeout:     cfg.HTTPIdleConnTimeout,
	}
	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout, Transport: transport},
		transport:  transport,
		baseURL:    strings.TrimRight(cfg.Endpoint, "/"),
		pool:       make(chan struct{}, cfg.MaxConnections),
		closing:    make(chan struct{}),
	}
	for i := 0; i < cfg.MaxConnections; i++ {
		client.pool <- struct{}{}
	}
	client.setAvailable(true)
	if err := client.ping(ctx); err != nil {
		logger.Warn("graph: neo4j ping failed", "error", err)
		client.setAvailable(false)
		return client, nil
	}
	logger.Info("graph: neo4j client ready")
	return client, nil
}

// NewFromEnv loads configuration and constructs a client instance. A nil
// client with nil error means the backend is not configured.
func NewFromEnv(ctx context.Context) (*Client, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled() {
		return nil, nil
	}
	return NewClient(ctx, cfg)
}

// Available reports whether the client is ready for use.
func (c *Client) Available() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.available
}

// Close releases the underlying HTTP client resources.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		close(c.closing)
		c.setAvailable(false)
		if c.transport != nil {
			c.transport.CloseIdleConnections()
		}
	})
	return nil
}

// Exec runs a Cypher statement and discards any returned rows.
func (c *Client) Exec(ctx context.Context, query string, params map[string]interface{}) error {
	_, err := c.Query(ctx, query, params)
	return err
}

// Query runs a Cypher statement under a pooled lease and returns its rows.
func (c *Client) Query(ctx context.Context, query string, params map[string]interface{}) (Rows, error) {
	session, err := c.acquire(ctx)
	if err != nil {
		return Rows{}, err
	}
	defer session.Close()
	return c.execute(ctx, query, params)
}

// Close releases the session back to the pool.
func (s *Session) Close() {
	if s == nil || s.client == nil {
		return
	}
	s.once.Do(func() {
		select {
		case s.client.pool <- struct{}{}:
		default:
		}
		s.client = nil
	})
}

func (c *Client) execute(ctx context.Context, query string, params map[string]interface{}) (Rows, error) {
	if c == nil {
		return Rows{}, errors.New("neo4j client not configured")
	}
	spanCtx, finish := telemetry.StartSpan(ctx, "graph.neo4j.query")
	start := time.Now()
	defer func() {
		telemetry.RecordGraphQuery("neo4j_http", time.Since(start))
		finish()
	}()

	payload := txRequest{Statements: []statement{{Statement: query, Parameters: params}}}
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(payload); err != nil {
		return Rows{}, fmt.Errorf("encode query: %w", err)
	}
	endpoint := fmt.Sprintf("%s/db/%s/tx/commit", c.baseURL, c.cfg.Database)
	request, err := http.NewRequestWithContext(spanCtx, http.MethodPost, endpoint, buf)
	if err != nil {
		return Rows{}, fmt.Errorf("build request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	if c.cfg.Username != "" {
		request.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}
	resp, err := c.httpClient.Do(request)
	if err != nil {
		c.setAvailable(false)
		return Rows{}, fmt.Errorf("neo4j request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		c.setAvailable(false)
		return Rows{}, fmt.Errorf("neo4j query failed: status %d", resp.StatusCode)
	}
	var decoded txResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return Rows{}, fmt.Errorf("decode neo4j response: %w", err)
	}
	if len(decoded.Errors) > 0 {
		return Rows{}, fmt.Errorf("neo4j: %s: %s", decoded.Errors[0].Code, decoded.Errors[0].Message)
	}
	c.setAvailable(true)
	rows := Rows{}
	if len(decoded.Results) > 0 {
		rows.Columns = decoded.Results[0].Columns
		for _, datum := range decoded.Results[0].Data {
			rows.Values = append(rows.Values, datum.Row)
		}
	}
	return rows, nil
}

func (c *Client) ping(ctx context.Context) error {
	pingTimeout := c.cfg.Timeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return c.Exec(ctx, "RETURN 1", nil)
}

func (c *Client) setAvailable(ready bool) {
	c.mu.Lock()
	c.available = ready
	c.mu.Unlock()
}

func (c *Client) acquire(ctx context.Context) (*Session, error) {
	if c == nil {
		return nil, errors.New("neo4j client not configured")
	}
	select {
	case <-c.closing:
		return nil, errors.New("neo4j client closed")
	default:
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closing:
		return nil, errors.New("neo4j client closed")
	case <-c.pool:
		return &Session{client: c}, nil
	}
}
