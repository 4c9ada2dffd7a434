package backend

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// GraphQLError is one entry of a GraphQL errors array.
type GraphQLError struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// APIError is returned for non-2xx responses and for GraphQL errors.
type APIError struct {
	Operation  string
	StatusCode int
	Message    string
	Errors     []GraphQLError
}

func (e *APIError) Error() string {
	if len(e.Errors) > 0 {
		msgs := make([]string, len(e.Errors))
		for i, ge := range e.Errors {
			msgs[i] = ge.Message
		}
		return fmt.Sprintf("backend %s: [%d] %s", e.Operation, e.StatusCode, strings.Join(msgs, "; "))
	}
	return fmt.Sprintf("backend %s: [%d] %s", e.Operation, e.StatusCode, e.Message)
}

// Code returns the extensions.code of the first GraphQL error, if any.
func (e *APIError) Code() string {
	for _, ge := range e.Errors {
		if code, ok := ge.Extensions["code"].(string); ok {
			return code
		}
	}
	return ""
}

// IsUnauthorized checks if err is due to a missing or rejected access token.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusUnauthorized || apiErr.Code() == "UNAUTHENTICATED"
}
