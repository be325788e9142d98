package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	maxQuerySize        = 100000
	maxGraphQLVarLength = 10000
	maxGraphQLVarNum    = 1000000
	maxGitHubNameLength = 100
	graphQLEndpoint     = apiBaseURL + "/graphql"
)

// graphQLError is one entry of a GraphQL "errors" array.
type graphQLError struct {
	Type    string   `json:"type"`
	Message string   `json:"message"`
	Path    []string `json:"path"`
}

// graphQL executes query and decodes the full response envelope into out.
// A response carrying an "errors" array is returned as an error.
func (c *Client) graphQL(ctx context.Context, query string, variables map[string]any, out any) error {
	if err := validateGraphQLVariables(variables); err != nil {
		return fmt.Errorf("invalid GraphQL variables: %w", err)
	}

	queryType := extractGraphQLQueryType(query)
	querySize := len(query)
	if querySize > maxQuerySize {
		return fmt.Errorf("GraphQL query too large: %d chars (max %d)", querySize, maxQuerySize)
	}

	c.log().InfoContext(ctx, "Executing GraphQL query", "type", queryType, "size", querySize)
	if len(variables) > 0 {
		c.log().DebugContext(ctx, "GraphQL query variables", "type", queryType, "count", len(variables))
	}

	bodyBytes, err := json.Marshal(map[string]any{
		"query":     query,
		"variables": variables,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal GraphQL request: %w", err)
	}

	if err := c.refreshJWTIfNeeded(); err != nil {
		return fmt.Errorf("failed to refresh JWT: %w", err)
	}

	start := time.Now()
	err = c.retry.do(ctx, c.log(), fmt.Sprintf("GraphQL %s query", queryType), func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, graphQLEndpoint, bytes.NewReader(bodyBytes))
		if err != nil {
			return fmt.Errorf("failed to create GraphQL request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.authToken(ctx))
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("graphql request failed: %w", err)
		}
		defer drainAndCloseBody(resp.Body)

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("graphql http %d: rate limited", resp.StatusCode)
		case resp.StatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("graphql http %d: server error", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			c.log().ErrorContext(ctx, "GraphQL query failed", "type", queryType, "status", resp.StatusCode, "body", string(body))
			return fmt.Errorf("graphql request failed with status %d: %s", resp.StatusCode, string(body))
		}

		var envelope struct {
			Errors []graphQLError `json:"errors"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return fmt.Errorf("failed to decode GraphQL response: %w", err)
		}
		if len(envelope.Errors) > 0 {
			c.log().ErrorContext(ctx, "GraphQL query returned errors", "type", queryType, "errors", envelope.Errors)
			return fmt.Errorf("graphql errors: %s", envelope.Errors[0].Message)
		}

		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("failed to decode GraphQL response: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.log().InfoContext(ctx, "GraphQL query completed", "type", queryType, "duration", time.Since(start))
	return nil
}

// validateGraphQLVariables validates GraphQL variables to prevent injection.
func validateGraphQLVariables(variables map[string]any) error {
	for key, value := range variables {
		if strings.ContainsAny(key, "{}[]\"'\n\r\t") {
			return fmt.Errorf("invalid character in variable key: %s", key)
		}

		if str, ok := value.(string); ok {
			if strings.Contains(str, "__schema") || strings.Contains(str, "__type") {
				return errors.New("introspection queries not allowed in variables")
			}
			if len(str) > maxGraphQLVarLength {
				return fmt.Errorf("variable value too long: %d chars", len(str))
			}
			if key == "owner" || key == "repo" || key == "org" || key == "login" {
				if strings.ContainsAny(str, "../\\\n\r\x00") || len(str) > maxGitHubNameLength || str == "" {
					return fmt.Errorf("invalid GitHub name in variable %s: %s", key, str)
				}
			}
			if key == "path" && (strings.Contains(str, "..") || strings.HasPrefix(str, "/") || strings.ContainsRune(str, 0)) {
				return fmt.Errorf("invalid file path in variable %s: %s", key, str)
			}
		}

		if num, ok := value.(int); ok {
			if num < 0 || num > maxGraphQLVarNum {
				return fmt.Errorf("numeric variable out of range: %d", num)
			}
		}
	}
	return nil
}

// extractGraphQLQueryType extracts a descriptive query type from GraphQL query for debugging.
func extractGraphQLQueryType(query string) string {
	query = strings.TrimSpace(query)
	lines := strings.Split(query, "\n")

	for i, line := range lines {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "query(") && !strings.HasPrefix(line, "query ") {
			continue
		}
		for _, fieldLine := range lines[i+1:] {
			fieldLine = strings.TrimSpace(fieldLine)
			if fieldLine == "" || strings.HasPrefix(fieldLine, "}") {
				continue
			}

			if strings.Contains(fieldLine, "repository(") {
				switch {
				case strings.Contains(query, "blame("):
					return "repository-blame"
				case strings.Contains(query, "pullRequest("):
					return "repository-pullrequest"
				default:
					return "repository-query"
				}
			}

			if idx := strings.Index(fieldLine, "("); idx != -1 {
				return strings.TrimSpace(fieldLine[:idx])
			}
			if idx := strings.Index(fieldLine, " "); idx != -1 {
				return strings.TrimSpace(fieldLine[:idx])
			}
			return fieldLine
		}
		return "unknown-query"
	}

	if strings.Contains(query, "blame") {
		return "blame"
	}
	return "unknown-graphql"
}
