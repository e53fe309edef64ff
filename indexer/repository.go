package indexer

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Repository persists decoded events. Saving a record whose Position is already stored is a
// no-op, so logs can be replayed.
type Repository interface {
	SaveAccountCreated(ctx context.Context, e *AccountCreated) error
	ListAccounts(ctx context.Context, owner common.Address) ([]AccountCreated, error)

	SaveForwardedRequest(ctx context.Context, e *ForwardedRequest) error
	ListForwardedRequests(ctx context.Context, signer common.Address) ([]ForwardedRequest, error)

	SaveApproval(ctx context.Context, e *Approval) error
	ListApprovals(ctx context.Context, owner common.Address) ([]Approval, error)

	Ping(ctx context.Context) error
	Close() error
}
