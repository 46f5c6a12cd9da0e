package audit

import (
	"context"
	"errors"
	"time"

	"github.com/bturcanu/toolbelt/pkg/types"
)

var (
	// ErrNotFound is returned for an unknown event.
	ErrNotFound = errors.New("audit: event not found")
	// ErrDuplicate is returned by Record when the tenant already has an event
	// with the same idempotency key.
	ErrDuplicate = errors.New("audit: duplicate idempotency key")
)

// Store is the audit log used by the gateway.
type Store interface {
	// Record appends env to its tenant's chain, filling Seq, Hash, PrevHash
	// and PayloadCanon.
	Record(ctx context.Context, env *types.ToolCallEnvelope) error
	// FindByIdempotencyKey returns nil, nil when no event matches.
	FindByIdempotencyKey(ctx context.Context, tenantID, key string) (*types.ToolCallEnvelope, error)
	GetEvent(ctx context.Context, tenantID, eventID string) (*types.ToolCallEnvelope, error)
	Ping(ctx context.Context) error
}

// Checkpoint marks how far a tenant's chain has been archived.
type Checkpoint struct {
	TenantID string
	Seq      int64
	Hash     string
	At       time.Time
}

// ChainReader exposes the chain to the archiver.
type ChainReader interface {
	ListTenantIDs(ctx context.Context) ([]string, error)
	// GetChainEvents returns up to limit events with seq > afterSeq, oldest first.
	GetChainEvents(ctx context.Context, tenantID string, afterSeq int64, limit int) ([]ChainEvent, error)
	// GetArchiveCheckpoint returns a zero Checkpoint for a tenant never archived.
	GetArchiveCheckpoint(ctx context.Context, tenantID string) (Checkpoint, error)
	UpsertArchiveCheckpoint(ctx context.Context, cp Checkpoint) error
}
