package chain

import (
	"encoding/hex"
	"sync"

	"github.com/btcsuite/btcd/wire"
)

// filter holds the two relevance sets the Observer matches incoming chain
// data against: relevantOutputs (scriptPubKeys awaiting funding) and
// relevantInputs (outpoints awaiting spend detection for claim/refund). Both
// sets are guarded by a single read-write lock -- there is no scenario where
// the two sets need independent locking, and a single lock keeps
// add/remove/check trivially consistent.
type filter struct {
	mu sync.RWMutex

	relevantOutputs map[string]struct{} // hex(scriptPubKey) -> present
	relevantInputs  map[wire.OutPoint]struct{}
}

func newFilter() *filter {
	return &filter{
		relevantOutputs: make(map[string]struct{}),
		relevantInputs:  make(map[wire.OutPoint]struct{}),
	}
}

func (f *filter) addOutput(pkScript []byte) {
	key := hex.EncodeToString(pkScript)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.relevantOutputs[key] = struct{}{}
}

func (f *filter) removeOutput(pkScript []byte) {
	key := hex.EncodeToString(pkScript)

	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.relevantOutputs, key)
}

func (f *filter) hasOutput(pkScript []byte) bool {
	key := hex.EncodeToString(pkScript)

	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.relevantOutputs[key]
	return ok
}

func (f *filter) addInput(op wire.OutPoint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relevantInputs[op] = struct{}{}
}

func (f *filter) removeInput(op wire.OutPoint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.relevantInputs, op)
}

func (f *filter) hasInput(op wire.OutPoint) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.relevantInputs[op]
	return ok
}
