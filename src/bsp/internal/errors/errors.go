// Package errors defines the typed error taxonomy shared across the build
// server and its client library.
package errors

import stderr "errors"

// New returns an error that formats as the given text.
// Each call to New returns a distinct error value even if the text is identical.
func New(msg string) error {
	return stderr.New(msg)
}

// TransportErrorKind classifies a failure to open or use a byte-stream channel.
type TransportErrorKind string

const (
	// TransportRefused indicates the peer actively refused the connection.
	TransportRefused TransportErrorKind = "connection-refused"
	// TransportTimeout indicates the dial or I/O deadline elapsed.
	TransportTimeout TransportErrorKind = "timeout"
	// TransportPermissionDenied indicates the OS denied access to the endpoint.
	TransportPermissionDenied TransportErrorKind = "permission-denied"
	// TransportMalformedAddress indicates the endpoint spec could not be parsed.
	TransportMalformedAddress TransportErrorKind = "malformed-address"
)

// TransportError reports a connectivity failure on a transport endpoint.
type TransportError struct {
	Kind     TransportErrorKind
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	msg := "transport " + string(e.Kind) + ": " + e.Endpoint
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TransportError) Unwrap() error { return e.Err }

// LauncherErrorKind classifies a failure to make a build server reachable.
type LauncherErrorKind string

const (
	// LauncherSpawnFailed indicates the server process could not be started.
	LauncherSpawnFailed LauncherErrorKind = "spawn-failed"
	// LauncherReadinessTimeout indicates the spawned server never signaled readiness.
	LauncherReadinessTimeout LauncherErrorKind = "readiness-timeout"
	// LauncherVersionMismatch indicates the server rejected the protocol version token.
	LauncherVersionMismatch LauncherErrorKind = "version-incompatible"
)

// LauncherError reports a spawn or readiness failure.
type LauncherError struct {
	Kind     LauncherErrorKind
	Endpoint string
	Err      error
}

func (e *LauncherError) Error() string {
	msg := "launcher " + string(e.Kind) + ": " + e.Endpoint
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LauncherError) Unwrap() error { return e.Err }

// ProtocolErrorKind classifies a fatal protocol-level failure on a live connection.
type ProtocolErrorKind string

const (
	// ProtocolVersionIncompatible indicates the handshake versions do not match.
	ProtocolVersionIncompatible ProtocolErrorKind = "version-incompatible"
	// ProtocolMalformedHandshake indicates the initialize exchange was malformed.
	ProtocolMalformedHandshake ProtocolErrorKind = "malformed-handshake"
)

// ProtocolError reports a malformed or incompatible handshake or frame.
// A ProtocolError is fatal to its connection but never to the process.
type ProtocolError struct {
	Kind ProtocolErrorKind
	Err  error
}

func (e *ProtocolError) Error() string {
	msg := "protocol " + string(e.Kind)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// UnknownTargetError reports a request referencing a build target id that is
// not present in the current target graph.
type UnknownTargetError struct {
	Target string
}

func (e *UnknownTargetError) Error() string {
	return "unknown build target: " + e.Target
}

// CacheErrorKind classifies a compile-result cache failure.
type CacheErrorKind string

const (
	// CacheNotFound indicates the (origin, target) pair was never referenced.
	CacheNotFound CacheErrorKind = "not-found"
	// CacheTimeout indicates the caller's await deadline elapsed.
	CacheTimeout CacheErrorKind = "timeout"
	// CacheDecodeFailed indicates the analysis payload could not be decoded.
	CacheDecodeFailed CacheErrorKind = "decode-failed"
	// CacheConnectionLost indicates the session's connection failed while awaiting.
	CacheConnectionLost CacheErrorKind = "connection-lost"
)

// CacheError reports a failure awaiting a compile outcome.
type CacheError struct {
	Kind   CacheErrorKind
	Origin string
	Target string
	Err    error
}

func (e *CacheError) Error() string {
	msg := "compile result " + string(e.Kind) + ": origin " + e.Origin
	if e.Target != "" {
		msg += " target " + e.Target
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CacheError) Unwrap() error { return e.Err }

// IsConnectionLost reports whether the error indicates a lost connection.
func IsConnectionLost(err error) bool {
	var ce *CacheError
	if stderr.As(err, &ce) {
		return ce.Kind == CacheConnectionLost
	}
	return false
}
