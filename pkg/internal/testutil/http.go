package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// MockHTTPDoer implements github.HTTPDoer by serving canned routes keyed on
// method and URL. Unrouted requests get a 404. Bodies are rebuilt per call,
// so one route can answer any number of requests.
type MockHTTPDoer struct {
	routes map[string]*route
	calls  []HTTPCall
	mu     sync.Mutex
}

type route struct {
	err     error
	body    []byte
	status  int
	failing int // remaining 502 answers before the route is served
}

// HTTPCall is one request seen by the mock.
type HTTPCall struct {
	Header http.Header
	Method string
	URL    string
	Body   []byte
}

// NewMockHTTPDoer returns a mock with no routes.
func NewMockHTTPDoer() *MockHTTPDoer {
	return &MockHTTPDoer{routes: make(map[string]*route)}
}

// Do records req and answers from its route.
func (m *MockHTTPDoer) Do(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	call := HTTPCall{Header: req.Header.Clone(), Method: req.Method, URL: req.URL.String()}
	if req.Body != nil {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return respond(http.StatusBadRequest, []byte(`{"error":"failed to read request body"}`)), nil
		}
		call.Body = body
	}
	m.calls = append(m.calls, call)

	r, ok := m.routes[req.Method+" "+call.URL]
	switch {
	case !ok:
		return respond(http.StatusNotFound, []byte(`{"message":"not found"}`)), nil
	case r.failing > 0:
		r.failing--
		return respond(http.StatusBadGateway, []byte(`{"message":"bad gateway"}`)), nil
	case r.err != nil:
		return nil, r.err
	default:
		return respond(r.status, r.body), nil
	}
}

// route returns the route for method and url, creating it. The caller holds mu.
func (m *MockHTTPDoer) route(method, url string) *route {
	k := method + " " + url
	r, ok := m.routes[k]
	if !ok {
		r = &route{status: http.StatusOK}
		m.routes[k] = r
	}
	return r
}

// SetResponse serves body encoded as JSON.
func (m *MockHTTPDoer) SetResponse(method, url string, status int, body any) {
	var raw []byte
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			panic(fmt.Sprintf("mock response for %s %s: %v", method, url, err))
		}
	}
	m.SetRawResponse(method, url, status, string(raw))
}

// SetRawResponse serves body verbatim.
func (m *MockHTTPDoer) SetRawResponse(method, url string, status int, body string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := m.route(method, url)
	r.status, r.body, r.err = status, []byte(body), nil
}

// SetError makes requests to method and url fail at the transport.
func (m *MockHTTPDoer) SetError(method, url string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.route(method, url).err = err
}

// FailTimes answers the next n requests to method and url with 502.
func (m *MockHTTPDoer) FailTimes(method, url string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.route(method, url).failing = n
}

// Calls returns a copy of the requests seen so far.
func (m *MockHTTPDoer) Calls() []HTTPCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]HTTPCall(nil), m.calls...)
}

// Reset drops all routes and recorded calls.
func (m *MockHTTPDoer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes = make(map[string]*route)
	m.calls = nil
}

func respond(status int, body []byte) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Body:       io.NopCloser(bytes.NewReader(body)),
		Header:     make(http.Header),
	}
}
