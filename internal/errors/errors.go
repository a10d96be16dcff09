// Package errors holds the sentinel errors shared by the token and OAuth
// packages. Callers wrap them with fmt.Errorf("...: %w") and match with
// errors.Is.
package errors

import "errors"

// Token resolution errors.
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidClientState = errors.New("invalid client state")
)

// Handler and consumer configuration errors.
var (
	ErrNoHandler         = errors.New("no oauth handler for request")
	ErrAmbiguousHandler  = errors.New("more than one oauth handler for request")
	ErrConsumerNotFound  = errors.New("oauth consumer not found")
	ErrDuplicateConsumer = errors.New("duplicate oauth consumer")
)

// Handshake errors.
var (
	ErrUnknownState        = errors.New("unknown or expired oauth state")
	ErrTokenEndpoint       = errors.New("token endpoint request failed")
	ErrAuthorizationDenied = errors.New("authorization denied by user")
	ErrRefreshUnsupported  = errors.New("token refresh not supported")
)

// Proxy errors.
var (
	ErrMissingTarget   = errors.New("missing or invalid target url")
	ErrInvalidPostData = errors.New("postData is not valid form data")
	ErrBlockedTarget   = errors.New("target host is not allowed")
)
