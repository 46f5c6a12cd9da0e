package auth

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"sync"
)

// KeyStore maps API keys to tenant IDs. Only SHA-256 digests of the keys are
// held in memory. Safe for concurrent use.
type KeyStore struct {
	mu   sync.RWMutex
	keys map[[sha256.Size]byte]string
}

// NewKeyStore builds a KeyStore from a comma-separated "tenant:key" list such
// as "acme:sk-abc,globex:sk-def". Malformed pairs are skipped; use ParseKeys
// to reject them instead.
func NewKeyStore(raw string) *KeyStore {
	ks, _ := parse(raw, false)
	return ks
}

// ParseKeys is NewKeyStore that fails on a malformed pair or a key shared by
// two tenants.
func ParseKeys(raw string) (*KeyStore, error) {
	return parse(raw, true)
}

func parse(raw string, strict bool) (*KeyStore, error) {
	ks := &KeyStore{keys: make(map[[sha256.Size]byte]string)}
	for i, pair := range strings.Split(raw, ",") {
		if strings.TrimSpace(pair) == "" {
			continue
		}
		tenant, key, ok := strings.Cut(pair, ":")
		tenant, key = strings.TrimSpace(tenant), strings.TrimSpace(key)
		if !ok || tenant == "" || key == "" {
			if strict {
				return nil, fmt.Errorf("auth.ParseKeys: entry %d is not tenant:key", i+1)
			}
			continue
		}
		sum := sha256.Sum256([]byte(key))
		if prev, dup := ks.keys[sum]; dup && prev != tenant && strict {
			return nil, fmt.Errorf("auth.ParseKeys: key for %q already assigned to %q", tenant, prev)
		}
		ks.keys[sum] = tenant
	}
	return ks, nil
}

// Add registers one key, replacing any tenant it was mapped to.
func (ks *KeyStore) Add(tenantID, apiKey string) {
	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.keys[sha256.Sum256([]byte(apiKey))] = tenantID
}

// Lookup returns the tenant ID for apiKey.
func (ks *KeyStore) Lookup(apiKey string) (tenantID string, ok bool) {
	if apiKey == "" {
		return "", false
	}
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	tenantID, ok = ks.keys[sha256.Sum256([]byte(apiKey))]
	return
}

func (ks *KeyStore) Len() int {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return len(ks.keys)
}
