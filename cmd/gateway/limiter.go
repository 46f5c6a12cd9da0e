package main

import (
	"container/list"
	"sync"

	"golang.org/x/time/rate"
)

// tenantLimiter holds one token bucket per tenant, evicting the least
// recently used tenant once max buckets exist.
type tenantLimiter struct {
	mu    sync.Mutex
	rps   int
	max   int
	order *list.List
	byKey map[string]*list.Element
}

type limiterEntry struct {
	tenant string
	lim    *rate.Limiter
}

func newTenantLimiter(rps, max int) *tenantLimiter {
	return &tenantLimiter{
		rps:   rps,
		max:   max,
		order: list.New(),
		byKey: make(map[string]*list.Element),
	}
}

// Allow reports whether tenantID may make a call now. A non-positive rps
// disables limiting.
func (t *tenantLimiter) Allow(tenantID string) bool {
	if t.rps <= 0 {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if el, ok := t.byKey[tenantID]; ok {
		t.order.MoveToBack(el)
		return el.Value.(*limiterEntry).lim.Allow()
	}
	if t.order.Len() >= t.max {
		oldest := t.order.Front()
		t.order.Remove(oldest)
		delete(t.byKey, oldest.Value.(*limiterEntry).tenant)
	}
	e := &limiterEntry{tenant: tenantID, lim: rate.NewLimiter(rate.Limit(t.rps), t.rps*2)}
	t.byKey[tenantID] = t.order.PushBack(e)
	return e.lim.Allow()
}

func (t *tenantLimiter) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.order.Len()
}
