package indexer

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Position locates a log on chain. It is the identity of every indexed record.
type Position struct {
	BlockNumber uint64      `json:"blockNumber"`
	TxHash      common.Hash `json:"txHash"`
	LogIndex    uint        `json:"logIndex"`
}

// AccountCreated is an account provisioned by a factory
type AccountCreated struct {
	Position
	Factory common.Address `json:"factory"`
	Owner   common.Address `json:"owner"`
	ID      uuid.UUID      `json:"id"`
	Account common.Address `json:"account"`
}

// ForwardedRequest is a request executed by a forwarder
type ForwardedRequest struct {
	Position
	Forwarder common.Address `json:"forwarder"`
	Signer    common.Address `json:"signer"`
	Nonce     uint64         `json:"nonce"`
	Success   bool           `json:"success"`
}

// Approval is an allowance change on a token
type Approval struct {
	Position
	Token   common.Address `json:"token"`
	Owner   common.Address `json:"owner"`
	Spender common.Address `json:"spender"`
	Value   *big.Int       `json:"value"`
}
