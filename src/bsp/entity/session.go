// Package entity contains the domain types for the build server.
package entity

import (
	"github.com/gofrs/uuid"
	"github.com/uber/bsp-go/src/bsp/protocol"
	"go.lsp.dev/jsonrpc2"
)

type keyType string

// SessionContextKey indicates the key to be used to identify the session UUID in the context.
const SessionContextKey keyType = "SessionUUID"

// SessionState tracks a session's position in its lifecycle.
type SessionState int

const (
	// SessionUninitialized is the state before build/initialize arrives.
	SessionUninitialized SessionState = iota
	// SessionInitializing means build/initialize was received but not yet acknowledged with build/initialized.
	SessionInitializing
	// SessionActive means the session accepts all requests.
	SessionActive
	// SessionShuttingDown means build/shutdown was received.
	SessionShuttingDown
)

// Session represents one client connection to the build server.
type Session struct {
	UUID             uuid.UUID                       `json:"uuid"`
	Conn             *jsonrpc2.Conn                  `json:"-"`
	InitializeParams *protocol.InitializeBuildParams `json:"-"`
	State            SessionState                    `json:"state"`
}
