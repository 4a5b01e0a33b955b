// Package testutil provides testing utilities for the PokeAPI client and
// the retrieval pipeline.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// PokemonPath is the path prefix served by MockPokeAPI.
const PokemonPath = "/api/v2/pokemon"

// MockResponse defines the behavior for one mock response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockPokeAPI is a configurable mock PokeAPI server for testing.
//
// Ids without a configured response are answered with a generated entity
// (see DefaultEntity). Ids above MaxID are answered with 404.
type MockPokeAPI struct {
	server *httptest.Server

	mu        sync.RWMutex
	sequences map[int][]MockResponse
	handlers  map[int]http.HandlerFunc
	requests  map[int]int
	total     int
	maxID     int

	lastHeader http.Header
}

// NewMockPokeAPI creates and starts a mock server serving ids 1..maxID.
func NewMockPokeAPI(maxID int) *MockPokeAPI {
	mock := &MockPokeAPI{
		sequences: make(map[int][]MockResponse),
		handlers:  make(map[int]http.HandlerFunc),
		requests:  make(map[int]int),
		maxID:     maxID,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+PokemonPath+"/{id}", mock.serve)
	mock.server = httptest.NewServer(mux)
	return mock
}

// URL returns the mock server root URL.
func (m *MockPokeAPI) URL() string {
	return m.server.URL
}

// BaseURL returns the collection URL to configure the client with.
func (m *MockPokeAPI) BaseURL() string {
	return m.server.URL + PokemonPath
}

// Close shuts down the mock server.
func (m *MockPokeAPI) Close() {
	m.server.Close()
}

// SetResponse configures a fixed response for an id.
func (m *MockPokeAPI) SetResponse(id int, resp MockResponse) {
	m.SetSequence(id, resp)
}

// SetSequence configures successive responses for an id. Once the sequence
// is exhausted its last response is repeated.
func (m *MockPokeAPI) SetSequence(id int, responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequences[id] = responses
}

// SetHandler installs a custom handler for an id.
func (m *MockPokeAPI) SetHandler(id int, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[id] = handler
}

// RequestCount returns how often an id was requested.
func (m *MockPokeAPI) RequestCount(id int) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requests[id]
}

// TotalRequests returns the number of requests served.
func (m *MockPokeAPI) TotalRequests() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.total
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockPokeAPI) LastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastHeader.Clone()
}

func (m *MockPokeAPI) serve(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}

	m.mu.Lock()
	m.total++
	m.requests[id]++
	m.lastHeader = r.Header.Clone()
	call := m.requests[id]
	handler := m.handlers[id]
	seq := m.sequences[id]
	m.mu.Unlock()

	if handler != nil {
		handler(w, r)
		return
	}

	if len(seq) > 0 {
		resp := seq[min(call, len(seq))-1]
		write(w, r, resp)
		return
	}

	if id < 1 || id > m.maxID {
		write(w, r, NewNotFoundResponse())
		return
	}
	write(w, r, NewEntityResponse(DefaultEntity(id)))
}

func write(w http.ResponseWriter, r *http.Request, resp MockResponse) {
	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-r.Context().Done():
			return
		}
	}

	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// Entity is the subset of a PokeAPI pokemon document the mock emits.
type Entity struct {
	ID     int
	Name   string
	Height int
	Weight int
}

// DefaultEntity generates a deterministic entity for an id.
func DefaultEntity(id int) Entity {
	return Entity{
		ID:     id,
		Name:   fmt.Sprintf("pokemon-%d", id),
		Height: 1 + id%23,
		Weight: 10 + (id*37)%997,
	}
}

// JSON renders the entity the way PokeAPI does, with extra fields the
// client must ignore.
func (e Entity) JSON() string {
	return fmt.Sprintf(
		`{"id":%d,"name":%q,"height":%d,"weight":%d,"base_experience":64,"is_default":true,"order":%d,"abilities":[],"types":[{"slot":1,"type":{"name":"grass"}}]}`,
		e.ID, e.Name, e.Height, e.Weight, e.ID,
	)
}

// NewEntityResponse creates a 200 OK response carrying an entity.
func NewEntityResponse(e Entity) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       e.JSON(),
		Headers: map[string]string{
			"Content-Type":  "application/json; charset=utf-8",
			"Cache-Control": "public, max-age=86400, s-maxage=86400",
			"ETag":          fmt.Sprintf(`W/"pokemon-%d"`, e.ID),
		},
	}
}

// NewNotFoundResponse creates a 404 response as PokeAPI sends it.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       "Not Found",
		Headers:    map[string]string{"Content-Type": "text/plain; charset=utf-8"},
	}
}

// NewServerErrorResponse creates a 500 response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewRateLimitResponse creates a 429 response with a Retry-After header.
func NewRateLimitResponse(retryAfter string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate limit exceeded"}`,
		Headers: map[string]string{
			"Content-Type":          "application/json; charset=utf-8",
			"Retry-After":           retryAfter,
			"X-RateLimit-Remaining": "0",
		},
	}
}

// NewMalformedResponse creates a 200 response whose body is not valid JSON.
func NewMalformedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       `{"id": 1, "name": "bulba`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}
