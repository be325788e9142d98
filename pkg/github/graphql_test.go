package github

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/codeGROOVE-dev/marvin/pkg/internal/testutil"
)

func TestValidateGraphQLVariables(t *testing.T) {
	blameVars := func(path string) map[string]any {
		return map[string]any{
			"owner":    "codeGROOVE-dev",
			"repo":     "marvin",
			"expr":     "2222222^",
			"path":     path,
			"blobExpr": "2222222^:" + path,
		}
	}

	tests := []struct {
		name      string
		variables map[string]any
		wantErr   bool
	}{
		{"nil variables", nil, false},
		{"empty variables", map[string]any{}, false},
		{"blame lookup", blameVars("app/models/user.rb"), false},
		{"blame of a dotfile", blameVars(".github/workflows/ci.yml"), false},
		{"nested values", map[string]any{"input": map[string]any{"tags": []string{"a"}, "count": 5}}, false},
		{"nil value", map[string]any{"value": nil}, false},
		{"zero int", map[string]any{"value": 0}, false},
		{"invalid character in key", map[string]any{"key{with}braces": "value"}, true},
		{"introspection attempt", map[string]any{"query": "__schema"}, true},
		{"too long string value", map[string]any{"data": strings.Repeat("a", maxGraphQLVarLength+1)}, true},
		{"owner with path traversal", map[string]any{"owner": "../etc/passwd"}, true},
		{"empty owner", map[string]any{"owner": ""}, true},
		{"owner too long", map[string]any{"owner": strings.Repeat("a", maxGitHubNameLength+1)}, true},
		{"negative number", map[string]any{"count": -1}, true},
		{"number too large", map[string]any{"count": maxGraphQLVarNum + 1}, true},
		{"path traversal", blameVars("../secrets.txt"), true},
		{"absolute path", blameVars("/etc/passwd"), true},
		{"NUL in path", blameVars("a\x00b"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateGraphQLVariables(tt.variables)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateGraphQLVariables() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestExtractGraphQLQueryType(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"blame query", blameQuery, "repository-blame"},
		{"repository query", "query($owner: String!) {\n  repository(owner: $owner, name: \"r\") { name }\n}", "repository-query"},
		{"pull request", "query($n: Int!) {\n  repository(owner: \"o\", name: \"r\") { pullRequest(number: $n) { title } }\n}", "repository-pullrequest"},
		{"query without fields", "query($n: Int!) {", "unknown-query"},
		{"empty query", "", "unknown-graphql"},
		{"whitespace only", "   \n\t  ", "unknown-graphql"},
		{"no parameters", "{ viewer { login } }", "unknown-graphql"},
		{"other field", "query($login: String!) {\n  customField(param: \"value\") { data }\n}", "customField"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractGraphQLQueryType(tt.query); got != tt.want {
				t.Errorf("extractGraphQLQueryType() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClient_GraphQL_ValidateVariables(t *testing.T) {
	mock := testutil.NewMockHTTPDoer()
	c := newTestClient(mock)

	var out map[string]any
	err := c.graphQL(context.Background(), blameQuery, map[string]any{"owner": "../etc/passwd"}, &out)
	if err == nil || !strings.Contains(err.Error(), "invalid GraphQL variables") {
		t.Errorf("expected invalid GraphQL variables error, got %v", err)
	}
	if calls := mock.Calls(); len(calls) != 0 {
		t.Errorf("expected no request to be sent, got %d", len(calls))
	}
}

func TestClient_GraphQL_QueryTooLarge(t *testing.T) {
	c := newTestClient(testutil.NewMockHTTPDoer())

	var out map[string]any
	err := c.graphQL(context.Background(), strings.Repeat("a", maxQuerySize+1), nil, &out)
	if err == nil || !strings.Contains(err.Error(), "GraphQL query too large") {
		t.Errorf("expected query too large error, got %v", err)
	}
}

func TestClient_GraphQL(t *testing.T) {
	mock := testutil.NewMockHTTPDoer()
	mock.SetRawResponse(http.MethodPost, graphQLEndpoint, http.StatusOK, `{"data":{"viewer":{"login":"octocat"}}}`)
	c := newTestClient(mock)

	var result map[string]any
	if err := c.graphQL(context.Background(), "{ viewer { login } }", map[string]any{"owner": "octo"}, &result); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, ok := result["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data object, got %v", result)
	}
	if viewer, ok := data["viewer"].(map[string]any); !ok || viewer["login"] != "octocat" {
		t.Errorf("expected viewer octocat, got %v", data["viewer"])
	}

	calls := mock.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if got := calls[0].Header.Get("Authorization"); got != "Bearer "+c.token {
		t.Errorf("expected bearer auth, got %q", got)
	}
	var payload map[string]any
	if err := json.Unmarshal(calls[0].Body, &payload); err != nil {
		t.Fatalf("failed to decode payload: %v", err)
	}
	if payload["query"] != "{ viewer { login } }" {
		t.Errorf("expected query in payload, got %v", payload["query"])
	}
}

func TestClient_GraphQL_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"graphql errors", http.StatusOK, `{"errors":[{"type":"NOT_FOUND","message":"Could not resolve"}]}`, "Could not resolve"},
		{"bad status", http.StatusUnauthorized, `{"message":"Bad credentials"}`, "status 401"},
		{"invalid json", http.StatusOK, `{`, "failed to decode"},
		{"server error", http.StatusBadGateway, `oops`, "server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockHTTPDoer()
			mock.SetRawResponse(http.MethodPost, graphQLEndpoint, tt.status, tt.body)

			var out map[string]any
			err := newTestClient(mock).graphQL(context.Background(), "{ viewer { login } }", nil, &out)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
