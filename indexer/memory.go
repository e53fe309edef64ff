package indexer

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryRepository keeps records in process. It is used when no database is configured.
type MemoryRepository struct {
	mu        sync.RWMutex
	accounts  map[Position]AccountCreated
	forwarded map[Position]ForwardedRequest
	approvals map[Position]Approval
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository returns an empty repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts:  make(map[Position]AccountCreated),
		forwarded: make(map[Position]ForwardedRequest),
		approvals: make(map[Position]Approval),
	}
}

func (r *MemoryRepository) SaveAccountCreated(_ context.Context, e *AccountCreated) error {
	save(&r.mu, r.accounts, e.Position, *e)
	return nil
}

func (r *MemoryRepository) ListAccounts(_ context.Context, owner common.Address) ([]AccountCreated, error) {
	return list(&r.mu, r.accounts, func(e AccountCreated) bool { return e.Owner == owner },
		func(e AccountCreated) Position { return e.Position }), nil
}

func (r *MemoryRepository) SaveForwardedRequest(_ context.Context, e *ForwardedRequest) error {
	save(&r.mu, r.forwarded, e.Position, *e)
	return nil
}

func (r *MemoryRepository) ListForwardedRequests(_ context.Context, signer common.Address) ([]ForwardedRequest, error) {
	return list(&r.mu, r.forwarded, func(e ForwardedRequest) bool { return e.Signer == signer },
		func(e ForwardedRequest) Position { return e.Position }), nil
}

func (r *MemoryRepository) SaveApproval(_ context.Context, e *Approval) error {
	save(&r.mu, r.approvals, e.Position, *e)
	return nil
}

func (r *MemoryRepository) ListApprovals(_ context.Context, owner common.Address) ([]Approval, error) {
	return list(&r.mu, r.approvals, func(e Approval) bool { return e.Owner == owner },
		func(e Approval) Position { return e.Position }), nil
}

func (r *MemoryRepository) Ping(context.Context) error { return nil }

func (r *MemoryRepository) Close() error { return nil }

func save[T any](mu *sync.RWMutex, m map[Position]T, pos Position, v T) {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := m[pos]; !ok {
		m[pos] = v
	}
}

// list returns the matching records in chain order
func list[T any](mu *sync.RWMutex, m map[Position]T, keep func(T) bool, pos func(T) Position) []T {
	mu.RLock()
	defer mu.RUnlock()

	var out []T
	for _, v := range m {
		if keep(v) {
			out = append(out, v)
		}
	}
	slices.SortFunc(out, func(a, b T) int {
		pa, pb := pos(a), pos(b)
		if c := cmp.Compare(pa.BlockNumber, pb.BlockNumber); c != 0 {
			return c
		}
		return cmp.Compare(pa.LogIndex, pb.LogIndex)
	})
	return out
}
