// Package archiver exports verified slices of each tenant's audit chain to
// object storage and advances the tenant's archive checkpoint.
package archiver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bturcanu/toolbelt/pkg/audit"
)

// DefaultBatchSize caps the events in one bundle.
const DefaultBatchSize = 5000

// Uploader stores one object.
type Uploader interface {
	Upload(ctx context.Context, key string, body []byte) error
}

type Service struct {
	store     audit.ChainReader
	uploader  Uploader
	log       *slog.Logger
	batchSize int
	now       func() time.Time
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option { return func(s *Service) { s.log = l } }

func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

func New(store audit.ChainReader, uploader Uploader, opts ...Option) *Service {
	s := &Service{
		store:     store,
		uploader:  uploader,
		log:       slog.New(slog.DiscardHandler),
		batchSize: DefaultBatchSize,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bundle is the archived document. Records continue the chain from
// PrevHash; anyone can re-run audit.VerifyChainFrom over them.
type Bundle struct {
	TenantID     string             `json:"tenant_id"`
	CreatedAt    time.Time          `json:"created_at"`
	EventCount   int                `json:"event_count"`
	FirstSeq     int64              `json:"first_seq"`
	LastSeq      int64              `json:"last_seq"`
	PrevHash     string             `json:"prev_hash"`
	Checkpoint   string             `json:"checkpoint_hash"`
	Since        time.Time          `json:"since"`
	Until        time.Time          `json:"until"`
	ChainRecords []audit.ChainEvent `json:"chain_records"`
}

// Key returns the object key for a bundle:
// audit/<tenant>/<yyyy>/<mm>/<dd>/<last-hash>.json.
func Key(tenantID string, day time.Time, lastHash string) string {
	return fmt.Sprintf("audit/%s/%04d/%02d/%02d/%s.json", tenantID, day.Year(), day.Month(), day.Day(), lastHash)
}

// ArchiveTenant uploads the next bundle for tenantID and returns its key, or
// "" when nothing is pending.
func (s *Service) ArchiveTenant(ctx context.Context, tenantID string) (string, error) {
	cp, err := s.store.GetArchiveCheckpoint(ctx, tenantID)
	if err != nil {
		return "", err
	}
	events, err := s.store.GetChainEvents(ctx, tenantID, cp.Seq, s.batchSize)
	if err != nil {
		return "", err
	}
	if len(events) == 0 {
		return "", nil
	}
	if err := audit.VerifyChainFrom(cp.Hash, events); err != nil {
		return "", fmt.Errorf("archiver: tenant %s: verify chain: %w", tenantID, err)
	}

	first, last := events[0], events[len(events)-1]
	now := s.now()
	bundle := Bundle{
		TenantID:     tenantID,
		CreatedAt:    now,
		EventCount:   len(events),
		FirstSeq:     first.Seq,
		LastSeq:      last.Seq,
		PrevHash:     cp.Hash,
		Checkpoint:   last.Hash,
		Since:        first.ReceivedAt,
		Until:        last.ReceivedAt,
		ChainRecords: events,
	}
	body, err := json.Marshal(bundle)
	if err != nil {
		return "", fmt.Errorf("archiver: marshal bundle: %w", err)
	}

	key := Key(tenantID, now, last.Hash)
	if err := s.uploader.Upload(ctx, key, body); err != nil {
		return "", err
	}
	next := audit.Checkpoint{TenantID: tenantID, Seq: last.Seq, Hash: last.Hash, At: last.ReceivedAt}
	if err := s.store.UpsertArchiveCheckpoint(ctx, next); err != nil {
		return "", err
	}
	s.log.InfoContext(ctx, "archived audit bundle",
		"tenant_id", tenantID,
		"key", key,
		"events", len(events),
		"last_seq", last.Seq,
	)
	return key, nil
}

// ArchiveAll drains every tenant's pending events, or just tenantIDs when
// given. Failures for one tenant do not stop the others.
func (s *Service) ArchiveAll(ctx context.Context, tenantIDs ...string) ([]string, error) {
	if len(tenantIDs) == 0 {
		all, err := s.store.ListTenantIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("archiver: list tenants: %w", err)
		}
		tenantIDs = all
	}
	var (
		keys []string
		errs []error
	)
	for _, tenantID := range tenantIDs {
		for {
			key, err := s.ArchiveTenant(ctx, tenantID)
			if err != nil {
				s.log.ErrorContext(ctx, "archive tenant failed", "tenant_id", tenantID, "error", err)
				errs = append(errs, err)
				break
			}
			if key == "" {
				break
			}
			keys = append(keys, key)
		}
		if ctx.Err() != nil {
			return keys, ctx.Err()
		}
	}
	return keys, errors.Join(errs...)
}
