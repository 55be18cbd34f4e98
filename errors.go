package authkit

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
)

var (
	// ErrInvalidToken is wrapped by every token decode failure.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenExpired marks a well-formed token whose exp has passed.
	ErrTokenExpired = fmt.Errorf("%w: token expired", ErrInvalidToken)
	// ErrNotAuthenticated means no credential was presented.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrUserNotFound is returned by repositories on a miss.
	ErrUserNotFound = errors.New("user not found")
	// ErrUserInactive means the user exists but is disabled.
	ErrUserInactive = errors.New("user is inactive")
	// ErrInvalidCredentials means a login password did not match.
	ErrInvalidCredentials = errors.New("incorrect username or password")
)

// AuthenticationError reports that the caller could not be identified.
// Reason is safe to show to clients; Err is the internal cause.
type AuthenticationError struct {
	Reason string
	Err    error
}

func (e *AuthenticationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Err)
	}
	return "authentication failed: " + e.Reason
}

func (e *AuthenticationError) Unwrap() error { return e.Err }

// AuthorizationError reports that an identified caller lacks a capability.
type AuthorizationError struct {
	Reason              string
	RequiredPermissions []string
	RequiredScope       string
}

func (e *AuthorizationError) Error() string {
	switch {
	case len(e.RequiredPermissions) > 0:
		return fmt.Sprintf("authorization failed: %s: required permissions %v", e.Reason, e.RequiredPermissions)
	case e.RequiredScope != "":
		return fmt.Sprintf("authorization failed: %s: required scope %q", e.Reason, e.RequiredScope)
	}
	return "authorization failed: " + e.Reason
}

// Details returns the structured requirement that was not met.
func (e *AuthorizationError) Details() map[string]any {
	d := map[string]any{}
	if len(e.RequiredPermissions) > 0 {
		d["required_permissions"] = slices.Clone(e.RequiredPermissions)
	}
	if e.RequiredScope != "" {
		d["required_scope"] = e.RequiredScope
	}
	return d
}

// TokenCreationError reports a signing failure. It is a server fault.
type TokenCreationError struct {
	Err error
}

func (e *TokenCreationError) Error() string { return "token creation failed: " + e.Err.Error() }

func (e *TokenCreationError) Unwrap() error { return e.Err }

func unauthenticated(reason string, err error) *AuthenticationError {
	return &AuthenticationError{Reason: reason, Err: err}
}

// HTTPStatus maps an error from this package to an HTTP status code.
func HTTPStatus(err error) int {
	var (
		authnErr *AuthenticationError
		authzErr *AuthorizationError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &authnErr):
		return http.StatusUnauthorized
	case errors.As(err, &authzErr):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// ErrorBody renders err as a JSON-friendly response body. Internal causes
// are never included.
func ErrorBody(err error) map[string]any {
	var (
		authnErr *AuthenticationError
		authzErr *AuthorizationError
	)
	switch {
	case errors.As(err, &authnErr):
		return map[string]any{"error": authnErr.Reason}
	case errors.As(err, &authzErr):
		body := map[string]any{"error": authzErr.Reason}
		if d := authzErr.Details(); len(d) > 0 {
			body["details"] = d
		}
		return body
	}
	return map[string]any{"error": "internal server error"}
}
