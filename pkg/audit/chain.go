package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bturcanu/toolbelt/pkg/types"
)

// ChainHash computes the next link of a tenant's chain:
//
//	hash = SHA-256( prevHash || canonicalRequest || canonicalResult )
func ChainHash(prevHash string, canonRequest, canonResult []byte) string {
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(canonRequest)
	h.Write(canonResult)
	return hex.EncodeToString(h.Sum(nil))
}

// ChainEvent is the part of a stored invocation needed to re-derive its hash.
type ChainEvent struct {
	Seq          int64           `json:"seq"`
	EventID      string          `json:"event_id"`
	Hash         string          `json:"hash"`
	PrevHash     string          `json:"prev_hash"`
	CanonPayload json.RawMessage `json:"payload_canon"`
	CanonResult  json.RawMessage `json:"result_canon,omitempty"`
	ReceivedAt   time.Time       `json:"received_at"`
}

// VerifyChain checks a chain from its first event.
func VerifyChain(events []ChainEvent) error {
	return VerifyChainFrom("", events)
}

// VerifyChainFrom checks that events continue a chain whose last hash was
// prevHash: every event must link to its predecessor, hash to its recorded
// value, and carry a strictly increasing seq.
func VerifyChainFrom(prevHash string, events []ChainEvent) error {
	prev := prevHash
	var lastSeq int64
	for i, ev := range events {
		if i > 0 && ev.Seq <= lastSeq {
			return fmt.Errorf("chain out of order at index %d (event %s): seq %d after %d", i, ev.EventID, ev.Seq, lastSeq)
		}
		if ev.PrevHash != "" && ev.PrevHash != prev {
			return fmt.Errorf("chain gap at index %d (event %s): links to %s, expected %s", i, ev.EventID, ev.PrevHash, prev)
		}
		if want := ChainHash(prev, ev.CanonPayload, ev.CanonResult); ev.Hash != want {
			return fmt.Errorf("chain broken at index %d (event %s): expected %s, got %s", i, ev.EventID, want, ev.Hash)
		}
		prev, lastSeq = ev.Hash, ev.Seq
	}
	return nil
}

// seal fills the chain fields of env as the successor of prevHash.
func seal(env *types.ToolCallEnvelope, seq int64, prevHash string) (canonResult []byte, err error) {
	if env.ExecutionResult == nil {
		return nil, fmt.Errorf("audit: event %s has no execution result", env.EventID)
	}
	canonRequest, err := CanonicalJSON(env.Request)
	if err != nil {
		return nil, err
	}
	canonResult, err = CanonicalJSON(env.ExecutionResult)
	if err != nil {
		return nil, err
	}
	env.Seq = seq
	env.PrevHash = prevHash
	env.PayloadCanon = canonRequest
	env.Hash = ChainHash(prevHash, canonRequest, canonResult)
	return canonResult, nil
}

func chainEvent(env *types.ToolCallEnvelope, canonResult []byte) ChainEvent {
	return ChainEvent{
		Seq:          env.Seq,
		EventID:      env.EventID,
		Hash:         env.Hash,
		PrevHash:     env.PrevHash,
		CanonPayload: env.PayloadCanon,
		CanonResult:  canonResult,
		ReceivedAt:   env.ReceivedAt,
	}
}
