package engine

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// ChildAddressSet is the shared, mutable record of factory-discovered
// addresses for one chain. A chain's feeder goroutine reads a snapshot of it
// before decoding every block; a handler invoked by the executor adds to it
// when it discovers a new child; a Reorg control event removes the addresses
// listed in its reorged blocks' RemovedChildAddresses.
type ChildAddressSet struct {
	mu sync.RWMutex
	m  map[common.Address]struct{}
}

// NewChildAddressSet creates an empty set.
func NewChildAddressSet() *ChildAddressSet {
	return &ChildAddressSet{m: make(map[common.Address]struct{})}
}

// Add records addr as a known factory child.
func (s *ChildAddressSet) Add(addr common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[addr] = struct{}{}
}

// Remove forgets addr, used when the block that discovered it is reorged away.
func (s *ChildAddressSet) Remove(addr common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, addr)
}

// Snapshot returns a point-in-time copy suitable for passing into
// ingest.Builder.Build, which never mutates it.
func (s *ChildAddressSet) Snapshot() map[common.Address]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[common.Address]struct{}, len(s.m))
	for addr := range s.m {
		out[addr] = struct{}{}
	}
	return out
}
