// Package query is the consumer-side read helper: it prepares outgoing
// GraphQL queries for normalization-friendly responses and post-processes
// what comes back. Errors are categorized and returned, never panicked.
package query

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
	"github.com/vektah/gqlparser/v2/parser"
)

// ErrorCategory classifies a failed query.
type ErrorCategory string

const (
	// ErrorNetwork covers transport failures and non-2xx responses.
	ErrorNetwork ErrorCategory = "network"
	// ErrorGraphQL covers server-reported errors in a 2xx response.
	ErrorGraphQL ErrorCategory = "graphql"
	// ErrorUnknown covers local failures (bad query, unparseable body).
	ErrorUnknown ErrorCategory = "unknown"
)

// Error is a categorized query failure.
type Error struct {
	Category ErrorCategory
	Message  string
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// CategoryOf returns the category of a query error, or ErrorUnknown for
// anything else.
func CategoryOf(err error) ErrorCategory {
	if qe, ok := err.(*Error); ok {
		return qe.Category
	}
	return ErrorUnknown
}

// InjectTypename rewrites a query so every selection set also selects
// the introspection __typename field. Leaf selections are untouched.
func InjectTypename(query string) (string, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: query})
	if err != nil {
		return "", &Error{Category: ErrorUnknown, Message: "unparseable query", Err: err}
	}

	for _, op := range doc.Operations {
		injectTypename(&op.SelectionSet)
	}
	for _, frag := range doc.Fragments {
		injectTypename(&frag.SelectionSet)
	}

	var buf bytes.Buffer
	formatter.NewFormatter(&buf).FormatQueryDocument(doc)
	return buf.String(), nil
}

func injectTypename(set *ast.SelectionSet) {
	if len(*set) == 0 {
		return
	}
	seen := false
	for _, sel := range *set {
		switch s := sel.(type) {
		case *ast.Field:
			if s.Name == "__typename" {
				seen = true
			}
			injectTypename(&s.SelectionSet)
		case *ast.InlineFragment:
			injectTypename(&s.SelectionSet)
		}
	}
	if !seen {
		*set = append(*set, &ast.Field{Name: "__typename", Alias: "__typename"})
	}
}

// RootField returns the first operation's single top-level field name.
func RootField(query string) (string, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: query})
	if err != nil {
		return "", &Error{Category: ErrorUnknown, Message: "unparseable query", Err: err}
	}
	if len(doc.Operations) == 0 {
		return "", &Error{Category: ErrorUnknown, Message: "query has no operations"}
	}
	for _, sel := range doc.Operations[0].SelectionSet {
		if f, ok := sel.(*ast.Field); ok {
			if f.Alias != "" {
				return f.Alias, nil
			}
			return f.Name, nil
		}
	}
	return "", &Error{Category: ErrorUnknown, Message: "query has no root field"}
}

// UnwrapRoot extracts the named top-level field's value from a response
// body. Absent root fields leave the response untouched.
func UnwrapRoot(data any, rootField string) any {
	m, ok := data.(map[string]any)
	if !ok {
		return data
	}
	if inner, ok := m[rootField]; ok {
		return inner
	}
	return data
}

// Relink rehydrates a normalized response. A body shaped
// { data, $entities } has its { $ref: key } placeholders replaced by the
// named entity, recursively; a visited set keeps circular entity graphs
// from recursing forever (a re-visited entity stays a placeholder).
func Relink(response any) any {
	m, ok := response.(map[string]any)
	if !ok {
		return response
	}
	entities, ok := m["$entities"].(map[string]any)
	if !ok {
		return response
	}
	data, ok := m["data"]
	if !ok {
		return response
	}
	return relink(data, entities, map[string]bool{})
}

func relink(value any, entities map[string]any, visited map[string]bool) any {
	switch v := value.(type) {
	case map[string]any:
		if ref, ok := v["$ref"].(string); ok && len(v) == 1 {
			entity, found := entities[ref]
			if !found || visited[ref] {
				return v
			}
			visited[ref] = true
			out := relink(entity, entities, visited)
			delete(visited, ref)
			return out
		}
		out := make(map[string]any, len(v))
		for key, elem := range v {
			out[key] = relink(elem, entities, visited)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			out[i] = relink(elem, entities, visited)
		}
		return out
	default:
		return value
	}
}

// Client executes queries against a GraphQL endpoint and applies the
// full read pipeline: typename injection, root unwrap, relinking.
type Client struct {
	Endpoint   string
	HTTPClient *http.Client
}

// NewClient creates a query client for the endpoint.
func NewClient(endpoint string) *Client {
	return &Client{Endpoint: endpoint, HTTPClient: &http.Client{}}
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphqlResponse struct {
	Data   map[string]any `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Do runs the query and returns the unwrapped, relinked data. The error
// carries one of the three categories; data and error are exclusive.
func (c *Client) Do(ctx context.Context, query string, variables map[string]any) (any, error) {
	prepared, err := InjectTypename(query)
	if err != nil {
		return nil, err
	}
	rootField, err := RootField(query)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(graphqlRequest{Query: prepared, Variables: variables})
	if err != nil {
		return nil, &Error{Category: ErrorUnknown, Message: "unencodable variables", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Category: ErrorUnknown, Message: "bad endpoint", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, &Error{Category: ErrorNetwork, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Category: ErrorNetwork, Message: "response read failed", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{
			Category: ErrorNetwork,
			Message:  fmt.Sprintf("endpoint returned %d", resp.StatusCode),
		}
	}

	var parsed graphqlResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &Error{Category: ErrorUnknown, Message: "unparseable response", Err: err}
	}
	if len(parsed.Errors) > 0 {
		return nil, &Error{Category: ErrorGraphQL, Message: parsed.Errors[0].Message}
	}

	if _, normalized := parsed.Data["$entities"]; normalized {
		return Relink(parsed.Data), nil
	}
	return UnwrapRoot(parsed.Data, rootField), nil
}
