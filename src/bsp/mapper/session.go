package mapper

import (
	"context"

	"github.com/gofrs/uuid"
	"github.com/uber/bsp-go/src/bsp/entity"
	"github.com/uber/bsp-go/src/bsp/internal/errors"
	"go.lsp.dev/jsonrpc2"
)

// ContextToSessionUUID extracts the session UUID stored in the request context.
func ContextToSessionUUID(ctx context.Context) (uuid.UUID, error) {
	id, ok := ctx.Value(entity.SessionContextKey).(uuid.UUID)
	if !ok {
		return uuid.Nil, errors.New("no session UUID in context")
	}
	return id, nil
}

// UUIDToSession creates a fresh uninitialized session for a new connection.
func UUIDToSession(id uuid.UUID, conn *jsonrpc2.Conn) *entity.Session {
	return &entity.Session{
		UUID:  id,
		Conn:  conn,
		State: entity.SessionUninitialized,
	}
}
