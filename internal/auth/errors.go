package auth

import (
	"errors"
	"sort"
	"strings"
)

var (
	// ErrInvalidCredentials covers both an unknown email and a wrong password.
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountDisabled    = errors.New("account is disabled")
	ErrEmailTaken         = errors.New("email already registered")
)

type TokenErrorKind int

const (
	TokenInvalid TokenErrorKind = iota + 1
	TokenExpired
	TokenReused
	TokenAlreadyUsed
)

func (k TokenErrorKind) String() string {
	switch k {
	case TokenInvalid:
		return "invalid"
	case TokenExpired:
		return "expired"
	case TokenReused:
		return "reused"
	case TokenAlreadyUsed:
		return "already used"
	default:
		return "unknown"
	}
}

// TokenError reports why a token was refused. errors.Is matches on Kind.
type TokenError struct {
	Kind TokenErrorKind
}

func (e *TokenError) Error() string {
	return "token " + e.Kind.String()
}

func (e *TokenError) Is(target error) bool {
	t, ok := target.(*TokenError)
	return ok && t.Kind == e.Kind
}

var (
	ErrTokenInvalid     = &TokenError{Kind: TokenInvalid}
	ErrTokenExpired     = &TokenError{Kind: TokenExpired}
	ErrTokenReused      = &TokenError{Kind: TokenReused}
	ErrTokenAlreadyUsed = &TokenError{Kind: TokenAlreadyUsed}
)

// ValidationError maps request field names to a human readable problem.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// InternalError wraps an infrastructure failure. Clients only ever see a
// generic message; Op names the operation for the logs.
type InternalError struct {
	Op  string
	Err error
}

func (e *InternalError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *InternalError) Unwrap() error {
	return e.Err
}
