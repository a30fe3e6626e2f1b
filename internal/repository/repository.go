// Package repository persists stream and TAK server configuration. The
// pipeline core depends only on the Repository interface; the Postgres
// implementation lives alongside it but schema migration is handled outside
// this service.
package repository

import (
	"context"
	"errors"

	"github.com/emfoursolutions/trakbridge-sub002/internal/model"
)

// ErrNotFound is returned when a stream or server id does not exist.
var ErrNotFound = errors.New("not found")

// Repository is the configuration store contract consumed by the
// orchestrator and the ops API.
type Repository interface {
	ListStreams(ctx context.Context) ([]model.StreamConfig, error)
	GetStream(ctx context.Context, id int64) (model.StreamConfig, error)
	SaveStream(ctx context.Context, s model.StreamConfig) (model.StreamConfig, error)
	DeleteStream(ctx context.Context, id int64) error

	ListServers(ctx context.Context) ([]model.ServerConfig, error)
	GetServer(ctx context.Context, id int64) (model.ServerConfig, error)
	SaveServer(ctx context.Context, s model.ServerConfig) (model.ServerConfig, error)
	DeleteServer(ctx context.Context, id int64) error
}
