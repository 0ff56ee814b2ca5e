package repository

import (
	"hash/fnv"
	"sync"
)

// stripedLock serializes work per symbol. The same symbol always maps to the
// same stripe; distinct symbols rarely share one.
type stripedLock struct {
	stripes []sync.Mutex
}

func newStripedLock(n int) *stripedLock {
	if n <= 0 {
		n = 1
	}
	return &stripedLock{stripes: make([]sync.Mutex, n)}
}

func (l *stripedLock) lock(symbol string) (unlock func()) {
	m := &l.stripes[stripeFor(symbol, len(l.stripes))]
	m.Lock()
	return m.Unlock
}

func stripeFor(symbol string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	return int(h.Sum32() % uint32(n))
}
