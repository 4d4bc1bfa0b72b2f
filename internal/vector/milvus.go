// File path: internal/vector/milvus.go
package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sqlmind-ai/sqlmind/internal/common"
	"github.com/sqlmind-ai/sqlmind/internal/common/telemetry"
	"github.com/sqlmind-ai/sqlmind/internal/corpus"
)

// Store is the per-scope vector collection contract. One physical collection
// exists per scope, named deterministically via corpus.CollectionName.
//
// Update is delete-then-reinsert: callers must tolerate a transient window in
// which the updated record is invisible to concurrent searches.
type Store interface {
	Available() bool
	EnsureCollection(ctx context.Context, scope string, dim int) error
	HasCollection(ctx context.Context, scope string) (bool, error)
	Insert(ctx context.Context, scope string, pair corpus.QAPair, vec []float32) error
	Search(ctx context.Context, scope string, vec []float32, topK int, filter string) ([]SearchHit, error)
	Get(ctx context.Context, scope, id string) (corpus.QAPair, []float32, bool, error)
	List(ctx context.Context, scope string, limit int) ([]corpus.QAPair, error)
	Update(ctx context.Context, scope, id string, patch corpus.Patch, newVec []float32) error
	Delete(ctx context.Context, scope, id string) error
	Stats(ctx context.Context, scope string) (CollectionStats, error)
	Close() error
}

// SearchHit pairs a stored record with its cosine-derived similarity in [0,1].
type SearchHit struct {
	Pair  corpus.QAPair
	Score float64
}

// CollectionStats summarizes one scope's collection.
type CollectionStats struct {
	Collection string `json:"collection"`
	Count      int64  `json:"count"`
}

var errNotFound = errors.New("resource not found")

const vectorField = "vector"

// Client implements Store against the Milvus REST v2 API.
type Client struct {
	httpClient *http.Client
	transport  *http.Transport
	baseURL    string
	token      string
	cfg        Config

	mu        sync.RWMutex
	available bool
	// ensured tracks collections already verified against the expected
	// schema during this client's lifetime.
	ensured map[string]struct{}
}

func NewFromEnv(ctx context.Context) (*Client, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	return New(ctx, cfg)
}

// New constructs a client using the provided configuration. Connectivity
// failures leave the client constructed but unavailable.
func New(ctx context.Context, cfg Config) (*Client, error) {
	logger := common.Logger()
	logger.Info("vector: initializing milvus client",
		"host", cfg.Host, "port", cfg.Port, "timeout", cfg.Timeout)

	transport := &http.Transport{
		MaxIdleConns:        cfg.HTTPMaxIdleConns,
		MaxIdleConnsPerHost: cfg.HTTPMaxIdlePerHost,
		MaxConnsPerHost:     cfg.HTTPMaxConnsPerHost,
		IdleConnTimeout:     cfg.HTTPIdleConnTimeout,
	}
	client := &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout, Transport: transport},
		transport:  transport,
		baseURL:    fmt.Sprintf("%s://%s:%s/v2/vectordb", cfg.Scheme, cfg.Host, cfg.Port),
		token:      cfg.Token,
		cfg:        cfg,
		ensured:    make(map[string]struct{}),
	}
	if err := client.ping(ctx); err != nil {
		logger.Warn("vector: milvus ping failed", "error", err)
		return client, nil
	}
	client.setAvailable(true)
	logger.Info("vector: milvus connection established")
	return client, nil
}

func (c *Client) Available() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.available
}

func (c *Client) setAvailable(ready bool) {
	c.mu.Lock()
	c.available = ready
	c.mu.Unlock()
}

func (c *Client) ping(ctx context.Context) error {
	var out json.RawMessage
	return c.doRequest(ctx, "/collections/list", map[string]interface{}{}, &out)
}

// HasCollection reports whether the scope's collection exists.
func (c *Client) HasCollection(ctx context.Context, scope string) (bool, error) {
	name := corpus.CollectionName(scope)
	var out struct {
		Has bool `json:"has"`
	}
	if err := c.doRequest(ctx, "/collections/has", map[string]interface{}{"collectionName": name}, &out); err != nil {
		return false, err
	}
	return out.Has, nil
}

// EnsureCollection creates the scope's collection when absent. An existing
// collection missing the vector field is schema-incompatible: it is dropped
// and recreated, which is destructive and therefore logged loudly. The drop
// only ever triggers on detected incompatibility.
func (c *Client) EnsureCollection(ctx context.Context, scope string, dim int) error {
	if dim <= 0 {
		return errors.New("vector: invalid dimension")
	}
	name := corpus.CollectionName(scope)
	c.mu.RLock()
	_, done := c.ensured[name]
	c.mu.RUnlock()
	if done {
		return nil
	}
	has, err := c.HasCollection(ctx, scope)
	if err != nil {
		return err
	}
	if has {
		compatible, err := c.describeCompatible(ctx, name)
		if err != nil {
			return err
		}
		if !compatible {
			common.Logger().Warn("vector: collection schema incompatible, dropping and recreating",
				"collection", name)
			if err := c.doRequest(ctx, "/collections/drop", map[string]interface{}{"collectionName": name}, nil); err != nil {
				return fmt.Errorf("drop incompatible collection: %w", err)
			}
			has = false
		}
	}
	if !has {
		if err := c.createCollection(ctx, name, dim); err != nil {
			return err
		}
	}
	if err := c.doRequest(ctx, "/collections/load", map[string]interface{}{"collectionName": name}, nil); err != nil {
		common.Logger().Warn("vector: collection load failed", "collection", name, "error", err)
	}
	c.mu.Lock()
	c.ensured[name] = struct{}{}
	c.mu.Unlock()
	return nil
}

func (c *Client) describeCompatible(ctx context.Context, name string) (bool, error) {
	var out struct {
		Fields []struct {
			Name string `json:"name"`
		} `json:"fields"`
	}
	if err := c.doRequest(ctx, "/collections/describe", map[string]interface{}{"collectionName": name}, &out); err != nil {
		if errors.Is(err, errNotFound) {
			return false, nil
		}
		return false, err
	}
	for _, field := range out.Fields {
		if field.Name == vectorField {
			return true, nil
		}
	}
	return false, nil
}

func (c *Client) createCollection(ctx context.Context, name string, dim int) error {
	payload := map[string]interface{}{
		"collectionName": name,
		"schema": map[string]interface{}{
			"fields": []map[string]interface{}{
				{"fieldName": "id", "dataType": "VarChar", "isPrimary": true,
					"elementTypeParams": map[string]string{"max_length": "128"}},
				{"fieldName": "question", "dataType": "VarChar",
					"elementTypeParams": map[string]string{"max_length": "4096"}},
				{"fieldName": "sql", "dataType": "VarChar",
					"elementTypeParams": map[string]string{"max_length": "16384"}},
				{"fieldName": "scope_id", "dataType": "Int64"},
				{"fieldName": "difficulty_level", "dataType": "Int64"},
				{"fieldName": "query_type", "dataType": "VarChar",
					"elementTypeParams": map[string]string{"max_length": "64"}},
				{"fieldName": "success_rate", "dataType": "Float"},
				{"fieldName": "verified", "dataType": "Bool"},
				{"fieldName": vectorField, "dataType": "FloatVector",
					"elementTypeParams": map[string]string{"dim": fmt.Sprintf("%d", dim)}},
			},
		},
		"indexParams": []map[string]interface{}{
			{"fieldName": vectorField, "indexName": "vector_idx", "metricType": "COSINE"},
		},
	}
	if err := c.doRequest(ctx, "/collections/create", payload, nil); err != nil {
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	common.Logger().Info("vector: collection created", "collection", name, "dim", dim)
	return nil
}

// Insert upserts one record; re-inserting an id overwrites the prior record.
func (c *Client) Insert(ctx context.Context, scope string, pair corpus.QAPair, vec []float32) error {
	if strings.TrimSpace(pair.ID) == "" {
		return errors.New("vector: pair id required")
	}
	if len(vec) == 0 {
		return errors.New("vector: empty embedding")
	}
	name := corpus.CollectionName(scope)
	payload := map[string]interface{}{
		"collectionName": name,
		"data":           []map[string]interface{}{entityFromPair(pair, vec)},
	}
	return c.doRequest(ctx, "/entities/upsert", payload, nil)
}

func entityFromPair(pair corpus.QAPair, vec []float32) map[string]interface{} {
	return map[string]interface{}{
		"id":               pair.ID,
		"question":         pair.Question,
		"sql":              pair.SQL,
		"scope_id":         corpus.ScopeID(pair.Scope),
		"difficulty_level": int64(pair.DifficultyLevel),
		"query_type":       pair.QueryType,
		"success_rate":     pair.SuccessRate,
		"verified":         pair.Verified,
		vectorField:        vec,
	}
}

var outputFields = []string{"id", "question", "sql", "scope_id", "difficulty_level", "query_type", "success_rate", "verified"}

// Search runs a cosine nearest-neighbor query, optionally constrained by an
// exact-filter expression (e.g. `scope_id == 42`).
func (c *Client) Search(ctx context.Context, scope string, vec []float32, topK int, filter string) ([]SearchHit, error) {
	if topK <= 0 {
		topK = 5
	}
	name := corpus.CollectionName(scope)
	payload := map[string]interface{}{
		"collectionName": name,
		"data":           [][]float32{vec},
		"annsField":      vectorField,
		"limit":          topK,
		"outputFields":   outputFields,
	}
	if strings.TrimSpace(filter) != "" {
		payload["filter"] = filter
	}
	var rows []map[string]json.RawMessage
	start := time.Now()
	err := c.doRequest(ctx, "/entities/search", payload, &rows)
	telemetry.RecordVectorSearch(time.Since(start))
	if err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		return nil, err
	}
	hits := make([]SearchHit, 0, len(rows))
	for _, row := range rows {
		pair := pairFromRow(row, scope)
		// COSINE metric reports similarity in [-1, 1]; clamp to [0, 1].
		score := floatFromRow(row, "distance")
		if score < 0 {
			score = 0
		} else if score > 1 {
			score = 1
		}
		hits = append(hits, SearchHit{Pair: pair, Score: score})
	}
	return hits, nil
}

// Get fetches a single record by id, including its stored vector so that
// delete-then-reinsert updates can reuse it.
func (c *Client) Get(ctx context.Context, scope, id string) (corpus.QAPair, []float32, bool, error) {
	name := corpus.CollectionName(scope)
	payload := map[string]interface{}{
		"collectionName": name,
		"filter":         fmt.Sprintf("id == %q", id),
		"outputFields":   append(append([]string(nil), outputFields...), vectorField),
		"limit":          1,
	}
	var rows []map[string]json.RawMessage
	if err := c.doRequest(ctx, "/entities/query", payload, &rows); err != nil {
		if errors.Is(err, errNotFound) {
			return corpus.QAPair{}, nil, false, nil
		}
		return corpus.QAPair{}, nil, false, err
	}
	if len(rows) == 0 {
		return corpus.QAPair{}, nil, false, nil
	}
	pair := pairFromRow(rows[0], scope)
	var vec []float32
	if raw, ok := rows[0][vectorField]; ok {
		_ = json.Unmarshal(raw, &vec)
	}
	return pair, vec, true, nil
}

// List returns up to limit records for the scope.
func (c *Client) List(ctx context.Context, scope string, limit int) ([]corpus.QAPair, error) {
	if limit <= 0 {
		limit = 100
	}
	name := corpus.CollectionName(scope)
	payload := map[string]interface{}{
		"collectionName": name,
		"filter":         fmt.Sprintf("scope_id == %d", corpus.ScopeID(scope)),
		"outputFields":   outputFields,
		"limit":          limit,
	}
	var rows []map[string]json.RawMessage
	if err := c.doRequest(ctx, "/entities/query", payload, &rows); err != nil {
		if errors.Is(err, errNotFound) {
			return nil, nil
		}
		return nil, err
	}
	pairs := make([]corpus.QAPair, 0, len(rows))
	for _, row := range rows {
		pairs = append(pairs, pairFromRow(row, scope))
	}
	return pairs, nil
}

// Update applies the patch via delete-then-reinsert. When newVec is nil the
// stored vector is reused; callers re-embed when the patch touches the
// question text.
func (c *Client) Update(ctx context.Context, scope, id string, patch corpus.Patch, newVec []float32) error {
	pair, vec, found, err := c.Get(ctx, scope, id)
	if err != nil {
		return err
	}
	if !found {
		return corpus.ErrNotFound
	}
	updated := patch.Apply(pair)
	if newVec != nil {
		vec = newVec
	}
	if len(vec) == 0 {
		return errors.New("vector: stored record has no vector")
	}
	if err := c.Delete(ctx, scope, id); err != nil {
		return err
	}
	return c.Insert(ctx, scope, updated, vec)
}

func (c *Client) Delete(ctx context.Context, scope, id string) error {
	name := corpus.CollectionName(scope)
	payload := map[string]interface{}{
		"collectionName": name,
		"filter":         fmt.Sprintf("id == %q", id),
	}
	return c.doRequest(ctx, "/entities/delete", payload, nil)
}

// Stats reports the record count for the scope's collection.
func (c *Client) Stats(ctx context.Context, scope string) (CollectionStats, error) {
	name := corpus.CollectionName(scope)
	payload := map[string]interface{}{
		"collectionName": name,
		"filter":         "",
		"outputFields":   []string{"count(*)"},
	}
	var rows []map[string]json.RawMessage
	if err := c.doRequest(ctx, "/entities/query", payload, &rows); err != nil {
		if errors.Is(err, errNotFound) {
			return CollectionStats{Collection: name}, nil
		}
		return CollectionStats{}, err
	}
	stats := CollectionStats{Collection: name}
	if len(rows) > 0 {
		stats.Count = int64(floatFromRow(rows[0], "count(*)"))
	}
	return stats, nil
}

func pairFromRow(row map[string]json.RawMessage, scope string) corpus.QAPair {
	pair := corpus.QAPair{Scope: scope}
	pair.ID = stringFromRow(row, "id")
	pair.Question = stringFromRow(row, "question")
	pair.SQL = stringFromRow(row, "sql")
	pair.DifficultyLevel = int(floatFromRow(row, "difficulty_level"))
	pair.QueryType = stringFromRow(row, "query_type")
	pair.SuccessRate = floatFromRow(row, "success_rate")
	if raw, ok := row["verified"]; ok {
		_ = json.Unmarshal(raw, &pair.Verified)
	}
	return pair
}

func stringFromRow(row map[string]json.RawMessage, key string) string {
	raw, ok := row[key]
	if !ok {
		return ""
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return ""
	}
	return value
}

func floatFromRow(row map[string]json.RawMessage, key string) float64 {
	raw, ok := row[key]
	if !ok {
		return 0
	}
	var value float64
	if err := json.Unmarshal(raw, &value); err != nil {
		return 0
	}
	return value
}

type milvusResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Milvus REST error codes that map onto the not-found sentinel.
const (
	codeCollectionNotFound = 100
	codeOK                 = 0
)

func (c *Client) doRequest(ctx context.Context, path string, body interface{}, out interface{}) error {
	if c == nil {
		return errors.New("milvus client not configured")
	}
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.setAvailable(false)
		return fmt.Errorf("milvus request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.setAvailable(false)
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("milvus %s failed: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var envelope milvusResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode milvus response: %w", err)
	}
	c.setAvailable(true)
	if envelope.Code != codeOK {
		if envelope.Code == codeCollectionNotFound || strings.Contains(envelope.Message, "can't find collection") {
			return errNotFound
		}
		return fmt.Errorf("milvus %s failed: code %d: %s", path, envelope.Code, envelope.Message)
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Data, out)
}

// Close releases pooled transport resources.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	if c.transport != nil {
		c.transport.CloseIdleConnections()
	}
	return nil
}

var _ Store = (*Client)(nil)
