package shared

import "fmt"

var ErrNotImplemented = fmt.Errorf("not implemented")

// Config and credentials
var (
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")
	ErrNotAuthenticated   = fmt.Errorf("not authenticated")
	ErrRefreshFailed      = fmt.Errorf("token refresh failed")
)

// Providers, streams and queues
var (
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
	ErrTrackNotFound      = fmt.Errorf("track not found")
	ErrQueueNotFound      = fmt.Errorf("queue not found")
)

// Caller input
var (
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)
