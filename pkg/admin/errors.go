package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/x/mongo/driver"
	"go.mongodb.org/mongo-driver/x/mongo/driver/auth"
	"go.mongodb.org/mongo-driver/x/mongo/driver/topology"
)

// Kind separates failures reaching the server from failures reported by it
type Kind int

const (
	// KindConnection covers network, server selection and authentication failures
	KindConnection Kind = iota + 1
	// KindRejected covers commands the server refused
	KindRejected
)

func (k Kind) String() string {
	switch k {
	case KindConnection:
		return "connection"
	case KindRejected:
		return "rejected"
	}
	return "unknown"
}

// Server error codes the bootstrap routines care about
const (
	CodeUnauthorized         int32 = 13
	CodeAuthenticationFailed int32 = 18
	CodeAlreadyInitialized   int32 = 23
	CodeNotYetInitialized    int32 = 94
	CodeUserAlreadyExists    int32 = 51003
)

// Error is returned by every admin operation that fails
type Error struct {
	Op       string
	Kind     Kind
	Code     int32
	CodeName string
	Err      error
}

func (e *Error) Error() string {
	switch e.Op {
	case "connect", "createUser":
		return fmt.Sprintf("provisioning failed: %s (%s): %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s failed (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// classify wraps err into an *Error for op
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var existing *Error
	if errors.As(err, &existing) {
		return err
	}

	e := &Error{Op: op, Kind: KindRejected, Err: err}

	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) {
		e.Code = cmdErr.Code
		e.CodeName = cmdErr.Name
		if cmdErr.Code == CodeAuthenticationFailed || cmdErr.HasErrorLabel("NetworkError") {
			e.Kind = KindConnection
		}
		return e
	}

	if isConnectionFailure(err) {
		e.Kind = KindConnection
	}
	return e
}

func isConnectionFailure(err error) bool {
	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, mongo.ErrClientDisconnected) {
		return true
	}

	var (
		selErr  topology.ServerSelectionError
		connErr topology.ConnectionError
		authErr *auth.Error
		drvErr  driver.Error
	)
	switch {
	case errors.As(err, &selErr), errors.As(err, &connErr), errors.As(err, &authErr):
		return true
	case errors.As(err, &drvErr):
		return drvErr.NetworkError() || drvErr.Code == CodeAuthenticationFailed
	}
	return false
}

func kindOf(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsConnectionError reports whether err came from reaching the server
func IsConnectionError(err error) bool {
	e, ok := kindOf(err)
	return ok && e.Kind == KindConnection
}

// IsRejected reports whether the server refused a command
func IsRejected(err error) bool {
	e, ok := kindOf(err)
	return ok && e.Kind == KindRejected
}

// IsUserExists reports whether createUser failed because the user exists
func IsUserExists(err error) bool {
	e, ok := kindOf(err)
	if !ok || e.Kind != KindRejected {
		return false
	}
	return e.Code == CodeUserAlreadyExists || strings.Contains(e.Err.Error(), "already exists")
}

// IsAlreadyInitialized reports whether replSetInitiate failed because the
// node already belongs to a replica set
func IsAlreadyInitialized(err error) bool {
	e, ok := kindOf(err)
	if !ok || e.Kind != KindRejected {
		return false
	}
	if e.Code == CodeAlreadyInitialized {
		return true
	}
	msg := e.Err.Error()
	return strings.Contains(msg, "already initialized") ||
		strings.Contains(msg, "already been initiated")
}
