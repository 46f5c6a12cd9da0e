package audit

import (
	"context"
	_ "embed"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bturcanu/toolbelt/pkg/types"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore keeps the audit log in Postgres. Safe for concurrent use.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("audit.Migrate: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// ──────────────────────────────────────────────────────────────────────────────
// Write path
// ──────────────────────────────────────────────────────────────────────────────

// Record appends env inside one transaction. A per-tenant advisory lock
// serialises appends so concurrent writers cannot fork the chain.
func (s *PostgresStore) Record(ctx context.Context, env *types.ToolCallEnvelope) error {
	tenantID := env.Request.TenantID
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("audit.Record begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", tenantLockID(tenantID)); err != nil {
		return fmt.Errorf("audit.Record lock: %w", err)
	}

	var (
		lastSeq  int64
		lastHash string
	)
	err = tx.QueryRow(ctx, `
		SELECT seq, hash FROM tool_invocations
		WHERE tenant_id = $1
		ORDER BY seq DESC LIMIT 1`, tenantID).Scan(&lastSeq, &lastHash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("audit.Record head: %w", err)
	}

	canonResult, err := seal(env, lastSeq+1, lastHash)
	if err != nil {
		return fmt.Errorf("audit.Record: %w", err)
	}
	payload := env.PayloadJSON
	if len(payload) == 0 {
		payload = env.PayloadCanon
	}
	res := env.ExecutionResult

	_, err = tx.Exec(ctx, `
		INSERT INTO tool_invocations (
			event_id, tenant_id, seq, agent_id, tool, action, idempotency_key,
			payload_json, payload_canon, status, result_canon, http_code, duration_ms,
			received_at, hash, prev_hash
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		env.EventID, tenantID, env.Seq, env.Request.AgentID,
		env.Request.Tool, env.Request.Action, env.Request.IdempotencyKey,
		payload, env.PayloadCanon, res.Status, canonResult, res.HTTPCode, res.DurationMS,
		env.ReceivedAt, env.Hash, env.PrevHash,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && strings.Contains(pgErr.ConstraintName, "idempotency") {
			return ErrDuplicate
		}
		return fmt.Errorf("audit.Record insert: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("audit.Record commit: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Read path
// ──────────────────────────────────────────────────────────────────────────────

const envelopeColumns = `event_id::text, seq, payload_json, payload_canon, result_canon, received_at, hash, prev_hash`

func scanEnvelope(row pgx.Row) (*types.ToolCallEnvelope, error) {
	var (
		env         types.ToolCallEnvelope
		payload     []byte
		canonResult []byte
	)
	err := row.Scan(&env.EventID, &env.Seq, &payload, &env.PayloadCanon, &canonResult, &env.ReceivedAt, &env.Hash, &env.PrevHash)
	if err != nil {
		return nil, err
	}
	env.PayloadJSON = payload
	if err := json.Unmarshal(env.PayloadCanon, &env.Request); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	env.ExecutionResult = &types.ExecutionResult{}
	if err := json.Unmarshal(canonResult, env.ExecutionResult); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &env, nil
}

func (s *PostgresStore) FindByIdempotencyKey(ctx context.Context, tenantID, key string) (*types.ToolCallEnvelope, error) {
	env, err := scanEnvelope(s.pool.QueryRow(ctx,
		`SELECT `+envelopeColumns+` FROM tool_invocations WHERE tenant_id = $1 AND idempotency_key = $2`,
		tenantID, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("audit.FindByIdempotencyKey: %w", err)
	}
	return env, nil
}

func (s *PostgresStore) GetEvent(ctx context.Context, tenantID, eventID string) (*types.ToolCallEnvelope, error) {
	env, err := scanEnvelope(s.pool.QueryRow(ctx,
		`SELECT `+envelopeColumns+` FROM tool_invocations WHERE tenant_id = $1 AND event_id::text = $2`,
		tenantID, eventID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("audit.GetEvent: %w", err)
	}
	return env, nil
}

func (s *PostgresStore) GetChainEvents(ctx context.Context, tenantID string, afterSeq int64, limit int) ([]ChainEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT seq, event_id::text, hash, prev_hash, payload_canon, result_canon, received_at
		FROM tool_invocations
		WHERE tenant_id = $1 AND seq > $2
		ORDER BY seq ASC
		LIMIT $3`, tenantID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("audit.GetChainEvents: %w", err)
	}
	events, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (ChainEvent, error) {
		var ev ChainEvent
		var payload, result []byte
		err := row.Scan(&ev.Seq, &ev.EventID, &ev.Hash, &ev.PrevHash, &payload, &result, &ev.ReceivedAt)
		ev.CanonPayload, ev.CanonResult = payload, result
		return ev, err
	})
	if err != nil {
		return nil, fmt.Errorf("audit.GetChainEvents: %w", err)
	}
	return events, nil
}

func (s *PostgresStore) ListTenantIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT tenant_id FROM tool_invocations ORDER BY tenant_id`)
	if err != nil {
		return nil, fmt.Errorf("audit.ListTenantIDs: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("audit.ListTenantIDs: %w", err)
	}
	return ids, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Archive checkpoints
// ──────────────────────────────────────────────────────────────────────────────

func (s *PostgresStore) GetArchiveCheckpoint(ctx context.Context, tenantID string) (Checkpoint, error) {
	cp := Checkpoint{TenantID: tenantID}
	err := s.pool.QueryRow(ctx, `
		SELECT last_seq, last_hash, checkpoint_at FROM archive_checkpoints WHERE tenant_id = $1`,
		tenantID).Scan(&cp.Seq, &cp.Hash, &cp.At)
	if errors.Is(err, pgx.ErrNoRows) {
		return cp, nil
	}
	if err != nil {
		return cp, fmt.Errorf("audit.GetArchiveCheckpoint: %w", err)
	}
	return cp, nil
}

func (s *PostgresStore) UpsertArchiveCheckpoint(ctx context.Context, cp Checkpoint) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO archive_checkpoints (tenant_id, last_seq, last_hash, checkpoint_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id) DO UPDATE
		SET last_seq = EXCLUDED.last_seq,
		    last_hash = EXCLUDED.last_hash,
		    checkpoint_at = EXCLUDED.checkpoint_at,
		    updated_at = now()
		WHERE archive_checkpoints.last_seq < EXCLUDED.last_seq`,
		cp.TenantID, cp.Seq, cp.Hash, cp.At)
	if err != nil {
		return fmt.Errorf("audit.UpsertArchiveCheckpoint: %w", err)
	}
	return nil
}

// tenantLockID maps a tenant to an advisory lock key.
func tenantLockID(tenantID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(tenantID))
	return int64(binary.BigEndian.Uint64(h.Sum(nil)))
}
