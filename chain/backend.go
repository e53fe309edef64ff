package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
)

// estimateOverhead pads gas estimates for the work done around forwarded calls
const estimateOverhead = 100_000

// ChainID returns the chain identifier used for EIP-155 signing
func (c *Chain) ChainID(ctx context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.chainID), nil
}

// BlockNumber returns the most recent block number
func (c *Chain) BlockNumber(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blockNumber, nil
}

// BalanceAt returns the wei balance of account. Only the latest state is kept.
func (c *Chain) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.balanceOf(account)), nil
}

// CodeAt returns the code of a contract, or nil for a plain account
func (c *Chain) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	contract, ok := c.code[account]
	if !ok {
		return nil, nil
	}
	if coder, ok := contract.(Coder); ok {
		return coder.Code(), nil
	}
	return []byte{0xfe}, nil
}

// NonceAt returns the transaction count of account
func (c *Chain) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonces[account], nil
}

// PendingNonceAt returns the nonce the next transaction of account must carry
func (c *Chain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return c.NonceAt(ctx, account, nil)
}

// SuggestGasPrice returns the configured gas price, zero by default
func (c *Chain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return new(big.Int).Set(c.gasPrice), nil
}

// CallContract executes msg against the latest state without committing anything
func (c *Chain) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	out, _, err := c.simulate(msg)
	return out, err
}

// EstimateGas simulates msg and returns the gas it needs, including gas handed to nested calls
func (c *Chain) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	_, forwarded, err := c.simulate(msg)
	if err != nil {
		return 0, err
	}
	return IntrinsicGas(msg.Data) + forwarded + estimateOverhead, nil
}

func (c *Chain) simulate(msg ethereum.CallMsg) ([]byte, uint64, error) {
	if msg.To == nil {
		return nil, 0, ErrContractCreation
	}
	value := msg.Value
	if value == nil {
		value = new(big.Int)
	}
	gas := msg.Gas
	if gas == 0 {
		gas = DefaultGasLimit
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.journal.Reset()
	c.pending = nil
	c.forwarded = 0
	defer func() {
		c.journal.RevertTo(0)
		c.pending = nil
	}()

	out, err := c.call(nil, msg.From, msg.From, *msg.To, value, gas, msg.Data)
	return out, c.forwarded, err
}

// SendTransaction validates a signed transaction and applies it. Execution failures do not
// surface here; they produce a receipt with a failed status.
func (c *Chain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	from, err := types.Sender(c.signer, tx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidChainID, err)
	}
	if tx.To() == nil {
		return ErrContractCreation
	}

	c.mu.Lock()
	state := c.nonces[from]
	switch {
	case tx.Nonce() < state:
		c.mu.Unlock()
		return fmt.Errorf("%w: address %s, tx: %d state: %d", ErrNonceTooLow, from.Hex(), tx.Nonce(), state)
	case tx.Nonce() > state:
		c.mu.Unlock()
		return fmt.Errorf("%w: address %s, tx: %d state: %d", ErrNonceTooHigh, from.Hex(), tx.Nonce(), state)
	}

	fee := new(big.Int).Mul(new(big.Int).SetUint64(tx.Gas()), tx.GasPrice())
	cost := new(big.Int).Add(fee, tx.Value())
	if balance := c.balanceOf(from); balance.Cmp(cost) < 0 {
		c.mu.Unlock()
		return fmt.Errorf("%w: address %s have %v want %v", ErrInsufficientFunds, from.Hex(), balance, cost)
	}
	if fee.Sign() > 0 {
		c.balances[from] = new(big.Int).Sub(c.balanceOf(from), fee)
	}

	to := *tx.To()
	receipt, _, logs, err := c.applyLocked(from, tx.Hash(), tx.Data(), func() ([]byte, error) {
		return c.call(nil, from, from, to, tx.Value(), tx.Gas(), tx.Data())
	})
	c.publish(logs)

	if err != nil {
		log.Debug("Transaction reverted", "hash", tx.Hash(), "from", from, "to", to, "err", err)
	} else {
		log.Debug("Transaction applied", "hash", tx.Hash(), "from", from, "to", to, "block", receipt.BlockNumber)
	}
	return nil
}

// TransactionReceipt returns the receipt of a mined transaction or ethereum.NotFound
func (c *Chain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	receipt, ok := c.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return receipt, nil
}

// RevertReason returns the error a failed transaction reverted with
func (c *Chain) RevertReason(txHash common.Hash) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reverts[txHash]
}
