// File path: internal/graph/neo4j/client_test.go
package neo4j

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeNeo4j emulates the transactional Cypher HTTP endpoint. rowsFor
// scripts the rows returned for a given statement.
type fakeNeo4j struct {
	mu         sync.Mutex
	statements []string
	rowsFor    func(statement string) (columns []string, rows [][]interface{})
	failWith   string
	lastAuthOK bool
	username   string
	password   string
}

func (f *fakeNeo4j) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/tx/commit") {
			http.NotFound(w, r)
			return
		}
		var body struct {
			Statements []struct {
				Statement string `json:"statement"`
			} `json:"statements"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		if f.username != "" {
			user, pass, ok := r.BasicAuth()
			f.lastAuthOK = ok && user == f.username && pass == f.password
		}
		var stmt string
		if len(body.Statements) > 0 {
			stmt = body.Statements[0].Statement
			f.statements = append(f.statements, stmt)
		}
		rowsFor := f.rowsFor
		failWith := f.failWith
		f.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if failWith != "" {
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"results": []interface{}{},
				"errors": []map[string]string{
					{"code": "Neo.ClientError.Statement.SyntaxError", "message": failWith},
				},
			})
			return
		}
		var columns []string
		var rows [][]interface{}
		if rowsFor != nil {
			columns, rows = rowsFor(stmt)
		}
		data := make([]map[string]interface{}, 0, len(rows))
		for _, row := range rows {
			data = append(data, map[string]interface{}{"row": row})
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"results": []map[string]interface{}{{"columns": columns, "data": data}},
			"errors":  []interface{}{},
		})
	})
}

func (f *fakeNeo4j) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.statements...)
}

func newTestClient(t *testing.T, fake *fakeNeo4j) *Client {
	t.Helper()
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)
	cfg := Config{
		Endpoint:       server.URL,
		Database:       "neo4j",
		Username:       fake.username,
		Password:       fake.password,
		Timeout:        5 * time.Second,
		MaxConnections: 2,
	}
	cfg.applyDefaults()
	client, err := NewClient(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	if !client.Available() {
		t.Fatal("client should be available against the fake")
	}
	return client
}

func TestClientQueryParsesRows(t *testing.T) {
	fake := &fakeNeo4j{
		rowsFor: func(stmt string) ([]string, [][]interface{}) {
			if strings.Contains(stmt, "RETURN q.id") {
				return []string{"q.id", "q.question"}, [][]interface{}{
					{"p1", "how many orders"},
					{"p2", "list users"},
				}
			}
			return nil, nil
		},
	}
	client := newTestClient(t, fake)
	rows, err := client.Query(context.Background(), "MATCH (q:QAPair) RETURN q.id, q.question", nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(rows.Columns) != 2 || rows.Columns[0] != "q.id" {
		t.Fatalf("columns = %v", rows.Columns)
	}
	if len(rows.Values) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows.Values))
	}
	if got := rawString(rows.Values[0][0]); got != "p1" {
		t.Fatalf("row value = %q", got)
	}
}

func TestClientSurfacesCypherErrors(t *testing.T) {
	fake := &fakeNeo4j{failWith: "bad statement"}
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)
	cfg := Config{Endpoint: server.URL, Timeout: time.Second, MaxConnections: 1}
	cfg.applyDefaults()
	client, err := NewClient(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	if client.Available() {
		t.Fatal("ping against failing backend should leave client unavailable")
	}
	if err := client.Exec(context.Background(), "RETURN 1", nil); err == nil {
		t.Fatal("expected cypher error")
	} else if !strings.Contains(err.Error(), "bad statement") {
		t.Fatalf("error does not carry backend message: %v", err)
	}
}

func TestClientSendsBasicAuth(t *testing.T) {
	fake := &fakeNeo4j{username: "neo4j", password: "secret"}
	client := newTestClient(t, fake)
	if err := client.Exec(context.Background(), "RETURN 1", nil); err != nil {
		t.Fatalf("exec: %v", err)
	}
	fake.mu.Lock()
	ok := fake.lastAuthOK
	fake.mu.Unlock()
	if !ok {
		t.Fatal("basic auth credentials not forwarded")
	}
}

func TestClientRejectsQueriesAfterClose(t *testing.T) {
	fake := &fakeNeo4j{}
	client := newTestClient(t, fake)
	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := client.Query(context.Background(), "RETURN 1", nil); err == nil {
		t.Fatal("expected error after close")
	}
}

func TestNewClientRequiresEndpoint(t *testing.T) {
	if _, err := NewClient(context.Background(), Config{}); err == nil {
		t.Fatal("expected error for missing endpoint")
	}
}
