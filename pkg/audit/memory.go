package audit

import (
	"context"
	"slices"
	"sync"

	"github.com/bturcanu/toolbelt/pkg/types"
)

type memEvent struct {
	env         types.ToolCallEnvelope
	canonResult []byte
}

// MemoryStore is an in-process Store and ChainReader for development and
// tests. Its chain is lost on restart.
type MemoryStore struct {
	mu          sync.RWMutex
	chains      map[string][]memEvent
	byID        map[string]memEvent
	checkpoints map[string]Checkpoint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chains:      make(map[string][]memEvent),
		byID:        make(map[string]memEvent),
		checkpoints: make(map[string]Checkpoint),
	}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Record(_ context.Context, env *types.ToolCallEnvelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tenantID := env.Request.TenantID
	chain := m.chains[tenantID]
	for _, ev := range chain {
		if ev.env.Request.IdempotencyKey == env.Request.IdempotencyKey {
			return ErrDuplicate
		}
	}
	var (
		seq  int64 = 1
		prev string
	)
	if n := len(chain); n > 0 {
		seq, prev = chain[n-1].env.Seq+1, chain[n-1].env.Hash
	}
	canonResult, err := seal(env, seq, prev)
	if err != nil {
		return err
	}
	ev := memEvent{env: *env, canonResult: canonResult}
	m.chains[tenantID] = append(chain, ev)
	m.byID[env.EventID] = ev
	return nil
}

func (m *MemoryStore) FindByIdempotencyKey(_ context.Context, tenantID, key string) (*types.ToolCallEnvelope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, ev := range m.chains[tenantID] {
		if ev.env.Request.IdempotencyKey == key {
			env := ev.env
			return &env, nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) GetEvent(_ context.Context, tenantID, eventID string) (*types.ToolCallEnvelope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ev, ok := m.byID[eventID]
	if !ok || ev.env.Request.TenantID != tenantID {
		return nil, ErrNotFound
	}
	env := ev.env
	return &env, nil
}

func (m *MemoryStore) ListTenantIDs(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.chains))
	for id := range m.chains {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (m *MemoryStore) GetChainEvents(_ context.Context, tenantID string, afterSeq int64, limit int) ([]ChainEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ChainEvent
	for _, ev := range m.chains[tenantID] {
		if ev.env.Seq <= afterSeq {
			continue
		}
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, chainEvent(&ev.env, ev.canonResult))
	}
	return out, nil
}

func (m *MemoryStore) GetArchiveCheckpoint(_ context.Context, tenantID string) (Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if cp, ok := m.checkpoints[tenantID]; ok {
		return cp, nil
	}
	return Checkpoint{TenantID: tenantID}, nil
}

func (m *MemoryStore) UpsertArchiveCheckpoint(_ context.Context, cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.checkpoints[cp.TenantID]; ok && cur.Seq >= cp.Seq {
		return nil
	}
	m.checkpoints[cp.TenantID] = cp
	return nil
}

// Tamper overwrites the stored result of an event without re-hashing. It
// exists so chain verification can be exercised.
func (m *MemoryStore) Tamper(eventID string, result types.ExecutionResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ev, ok := m.byID[eventID]
	if !ok {
		return
	}
	canon, _ := CanonicalJSON(result)
	chain := m.chains[ev.env.Request.TenantID]
	for i := range chain {
		if chain[i].env.EventID == eventID {
			chain[i].canonResult = canon
			chain[i].env.ExecutionResult = &result
			m.byID[eventID] = chain[i]
		}
	}
}

var (
	_ Store       = (*MemoryStore)(nil)
	_ ChainReader = (*MemoryStore)(nil)
	_ Store       = (*PostgresStore)(nil)
	_ ChainReader = (*PostgresStore)(nil)
)
