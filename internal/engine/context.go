package engine

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
)

// ChainInfo identifies the chain an event belongs to, passed to every
// handler invocation.
type ChainInfo struct {
	ID   uint64
	Name string
}

// ReadonlyClient is the request-response blockchain client surface handlers
// use to look up on-chain state. Implementations MUST cache by (method,
// params) so the same call made twice during historical replay returns the
// same response; the concrete RPC transport is out of scope here (see
// SPEC_FULL.md §1) and is supplied by the caller.
type ReadonlyClient interface {
	Call(ctx context.Context, method string, params ...interface{}) (json.RawMessage, error)
}

// ContractInfo describes one entry of a Context's Contracts map.
type ContractInfo struct {
	ABI     string
	Address *common.Address
	Factory bool
}

// TableAccessors is the CRUD surface a handler uses to read and write
// indexed tables. In historical mode it is backed by a WriteBuffer (staged
// writes, bulk flush at batch end); in realtime mode it writes straight
// through to the database. Both honor read-your-writes within the scope
// they're attached to.
type TableAccessors interface {
	Insert(ctx context.Context, table string, row map[string]interface{}) error
	Update(ctx context.Context, table string, pk map[string]interface{}, values map[string]interface{}) error
	Delete(ctx context.Context, table string, pk map[string]interface{}) error
	Find(ctx context.Context, table string, pk map[string]interface{}) (map[string]interface{}, bool, error)
}

// Context is the per-event surface passed to user handlers (SPEC_FULL.md
// §4.7). It is a value constructed fresh for each handler invocation from
// non-owning borrows; nothing it holds outlives that invocation.
type Context struct {
	Chain     ChainInfo
	Client    ReadonlyClient
	DB        TableAccessors
	Contracts map[string]ContractInfo
	addrs     *ChildAddressSet
}

// DiscoverChildAddress registers addr as a factory-discovered child for this
// context's chain. The set does not record which block discovered addr; a
// Reorg removes addr only when a reorged block lists it in
// RemovedChildAddresses, and syncsource leaves that list empty.
func (c Context) DiscoverChildAddress(addr common.Address) {
	if c.addrs != nil {
		c.addrs.Add(addr)
	}
}
