package kraken

import (
	"fmt"
	"net/http"
	"strings"
)

// Upstream error codes returned in GraphQL error extensions.
const (
	CodeJWTExpired         = "KT-CT-1124"
	CodeInvalidCredentials = "KT-CT-1138"
	CodeInvalidToken       = "KT-CT-1139"
	CodeTokenRevoked       = "KT-CT-1143"
	CodeTooManyRequests    = "KT-CT-1199"
	CodeNotFound           = "KT-CT-4301"
)

// GraphQLError is a single entry of the "errors" array of a response.
type GraphQLError struct {
	Message    string `json:"message"`
	Path       []any  `json:"path,omitempty"`
	Extensions struct {
		ErrorCode        string `json:"errorCode"`
		ErrorDescription string `json:"errorDescription,omitempty"`
	} `json:"extensions"`
}

// Code returns the upstream error code, if any.
func (e GraphQLError) Code() string {
	return e.Extensions.ErrorCode
}

// PathRoot returns the first element of the error path, which is the top
// level field that failed.
func (e GraphQLError) PathRoot() string {
	if len(e.Path) == 0 {
		return ""
	}
	s, _ := e.Path[0].(string)
	return s
}

func isTokenExpiredCode(code string) bool {
	switch code {
	case CodeJWTExpired, CodeInvalidToken, CodeTokenRevoked:
		return true
	default:
		return false
	}
}

// APIError is returned for non-2xx responses and for GraphQL error payloads
// that could not be recovered from.
type APIError struct {
	StatusCode int
	Operation  string
	Codes      []string
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "kraken api error")
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (%d)", e.StatusCode)
	}
	if e.Operation != "" {
		fmt.Fprintf(&b, " in %s", e.Operation)
	}
	if len(e.Codes) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(e.Codes, ","))
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, " (caused by: %v)", e.Err)
	}
	return b.String()
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// HasCode reports whether the upstream returned the given error code.
func (e *APIError) HasCode(code string) bool {
	for _, c := range e.Codes {
		if c == code {
			return true
		}
	}
	return false
}

// Retryable reports whether the request may succeed if sent again later.
func (e *APIError) Retryable() bool {
	return isRetryableStatus(e.StatusCode) || e.HasCode(CodeTooManyRequests)
}

func newGraphQLError(operation string, errs []GraphQLError) *APIError {
	ae := &APIError{Operation: operation}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		if c := e.Code(); c != "" {
			ae.Codes = append(ae.Codes, c)
		}
		if e.Message != "" {
			msgs = append(msgs, e.Message)
		}
	}
	ae.Message = strings.Join(msgs, "; ")
	return ae
}

func isRetryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// AuthError is returned when the credentials were rejected.
type AuthError struct {
	Code    string
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("authentication error [%s]: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("authentication error: %s", e.Message)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// TokenExpiredError signals that the access token was rejected and a new
// one is needed. Execute recovers from it by refreshing once.
type TokenExpiredError struct {
	Code       string
	StatusCode int
}

func (e *TokenExpiredError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("token expired [%s]", e.Code)
	}
	return fmt.Sprintf("token rejected (%d)", e.StatusCode)
}

// NetworkError wraps a transport failure. The next poll will try again.
type NetworkError struct {
	Operation string
	Err       error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error in %s: %v", e.Operation, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
