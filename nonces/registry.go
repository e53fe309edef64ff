// Package nonces keeps per-signer replay counters.
package nonces

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ametist/accountbox"
	"github.com/ametist/accountbox/chain"
	"github.com/ametist/accountbox/mechanisms/evm"
)

// Registry maps each signer to a monotonic counter. The check-then-increment of one signer
// runs inside that signer's exclusive section; different signers never contend.
//
// Every advance is recorded in the request journal, so an aborted request gives its nonce back.
//
// The lock table holds one entry per signer ever seen and the spent ledger one entry per
// consumed signature. Neither is pruned, so both grow without bound for the life of the
// registry. The ledger only decides that a replayed signature fails with InvalidNonce.
type Registry struct {
	mu      sync.Mutex
	locks   map[common.Address]*sync.Mutex
	current map[common.Address]uint64
	spent   map[[32]byte]common.Address
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		locks:   make(map[common.Address]*sync.Mutex),
		current: make(map[common.Address]uint64),
		spent:   make(map[[32]byte]common.Address),
	}
}

// Current returns the next nonce signer must use
func (r *Registry) Current(signer common.Address) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current[signer]
}

// Consume advances signer's nonce if provided is the current value and returns it
func (r *Registry) Consume(j *chain.Journal, signer common.Address, provided uint64) (uint64, error) {
	return r.ConsumeWith(j, signer, func(current uint64) error {
		if provided != current {
			return &accountbox.InvalidNonceError{Account: signer, Current: current}
		}
		return nil
	})
}

// ConsumeWith runs check against signer's current nonce and advances it when check passes.
// Nothing changes when check fails.
func (r *Registry) ConsumeWith(j *chain.Journal, signer common.Address, check func(current uint64) error) (uint64, error) {
	unlock := r.lock(signer)
	defer unlock()

	current := r.Current(signer)
	if err := check(current); err != nil {
		return 0, err
	}
	r.advance(j, signer, current)
	return current, nil
}

// ConsumeSigned is ConsumeWith for a signed authorization. A signature that already consumed a
// nonce is rejected with InvalidNonce before check runs, whatever it would recover to now.
func (r *Registry) ConsumeSigned(j *chain.Journal, signer common.Address, signature []byte, check func(current uint64) error) (uint64, error) {
	key := evm.SignatureKey(signature)

	unlock := r.lock(signer)
	defer unlock()

	current := r.Current(signer)
	if r.Spent(signature) {
		return 0, &accountbox.InvalidNonceError{Account: signer, Current: current}
	}
	if err := check(current); err != nil {
		return 0, err
	}
	r.advance(j, signer, current)

	r.mu.Lock()
	r.spent[key] = signer
	r.mu.Unlock()
	j.Append(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.spent, key)
	})
	return current, nil
}

// Spent reports whether signature has already consumed a nonce
func (r *Registry) Spent(signature []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.spent[evm.SignatureKey(signature)]
	return ok
}

func (r *Registry) advance(j *chain.Journal, signer common.Address, current uint64) {
	r.mu.Lock()
	r.current[signer] = current + 1
	r.mu.Unlock()

	j.Append(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if current == 0 {
			delete(r.current, signer)
		} else {
			r.current[signer] = current
		}
	})
}

func (r *Registry) lock(signer common.Address) func() {
	r.mu.Lock()
	l, ok := r.locks[signer]
	if !ok {
		l = new(sync.Mutex)
		r.locks[signer] = l
	}
	r.mu.Unlock()

	l.Lock()
	return l.Unlock
}
