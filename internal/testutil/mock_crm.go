// Package testutil provides testing utilities for the CRM ingestion pipeline.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

// Record is a raw CRM record. Raw maps keep full control over wire
// representations in tests (numeric vs string status flags, null due dates).
type Record map[string]any

// MockCRM is a configurable mock CRM API server for testing.
type MockCRM struct {
	server *httptest.Server

	mu          sync.Mutex
	users       []Record
	deals       []Record
	tasksByDeal map[string][]Record

	// ExposeMetaTotal controls whether list responses carry meta.total.
	ExposeMetaTotal bool

	// RequireToken, when set, rejects requests without the matching bearer token.
	RequireToken string

	// failPaths maps a URL path to a status code returned instead of data.
	failPaths map[string]int

	// Tracking
	RequestCount  int
	PathCounts    map[string]int
	inFlight      int
	MaxConcurrent int
}

// NewMockCRM creates a new mock CRM server.
func NewMockCRM() *MockCRM {
	mock := &MockCRM{
		tasksByDeal: make(map[string][]Record),
		failPaths:   make(map[string]int),
		PathCounts:  make(map[string]int),
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the mock server URL.
func (m *MockCRM) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockCRM) Close() {
	m.server.Close()
}

// AddUser seeds one user directory entry.
func (m *MockCRM) AddUser(id, firstName, lastName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = append(m.users, Record{
		"id":         id,
		"first_name": firstName,
		"last_name":  lastName,
	})
}

// AddUserRecord seeds a raw user record.
func (m *MockCRM) AddUserRecord(rec Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = append(m.users, rec)
}

// AddDeal seeds one deal owned by the given owner.
func (m *MockCRM) AddDeal(id, ownerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deals = append(m.deals, Record{
		"id":       id,
		"name":     "Deal " + id,
		"owner_id": ownerID,
	})
}

// AddDealTask seeds one raw task record under a deal.
func (m *MockCRM) AddDealTask(dealID string, rec Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasksByDeal[dealID] = append(m.tasksByDeal[dealID], rec)
}

// FailPath makes the given URL path return the status code instead of data.
func (m *MockCRM) FailPath(path string, status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPaths[path] = status
}

// Reset clears all tracking counters.
func (m *MockCRM) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RequestCount = 0
	m.PathCounts = make(map[string]int)
	m.MaxConcurrent = 0
}

// Requests returns the total request count.
func (m *MockCRM) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.RequestCount
}

// RequestsFor returns the request count for one URL path.
func (m *MockCRM) RequestsFor(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.PathCounts[path]
}

// Concurrency returns the maximum number of simultaneously served requests
// observed so far.
func (m *MockCRM) Concurrency() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.MaxConcurrent
}

func (m *MockCRM) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.RequestCount++
	m.PathCounts[r.URL.Path]++
	m.inFlight++
	if m.inFlight > m.MaxConcurrent {
		m.MaxConcurrent = m.inFlight
	}
	failStatus := m.failPaths[r.URL.Path]
	token := m.RequireToken
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	if failStatus != 0 {
		http.Error(w, `{"error":"injected failure"}`, failStatus)
		return
	}

	switch {
	case r.URL.Path == "/users":
		m.list(w, r, "users", m.snapshotUsers())
	case r.URL.Path == "/deals":
		owner := r.URL.Query().Get("filters[owner_id]")
		m.list(w, r, "deals", m.snapshotDeals(owner))
	case strings.HasPrefix(r.URL.Path, "/deals/") && strings.HasSuffix(r.URL.Path, "/tasks"):
		dealID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/deals/"), "/tasks")
		m.writeJSON(w, map[string]any{"tasks": m.snapshotTasks(dealID)})
	default:
		http.NotFound(w, r)
	}
}

// list serves a limit/offset page of records under the given resource key.
func (m *MockCRM) list(w http.ResponseWriter, r *http.Request, key string, records []Record) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	page := []Record{}
	if offset < len(records) {
		end := offset + limit
		if end > len(records) {
			end = len(records)
		}
		page = records[offset:end]
	}

	body := map[string]any{key: page}
	if m.ExposeMetaTotal {
		body["meta"] = map[string]any{"total": len(records)}
	}
	m.writeJSON(w, body)
}

func (m *MockCRM) writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		http.Error(w, fmt.Sprintf(`{"error":%q}`, err), http.StatusInternalServerError)
	}
}

func (m *MockCRM) snapshotUsers() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.users...)
}

func (m *MockCRM) snapshotDeals(ownerID string) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ownerID == "" {
		return append([]Record(nil), m.deals...)
	}
	var filtered []Record
	for _, d := range m.deals {
		if d["owner_id"] == ownerID {
			filtered = append(filtered, d)
		}
	}
	return filtered
}

func (m *MockCRM) snapshotTasks(dealID string) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	tasks := m.tasksByDeal[dealID]
	if tasks == nil {
		return []Record{}
	}
	return append([]Record(nil), tasks...)
}
