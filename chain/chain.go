// Package chain is an in-memory execution substrate for the account contracts.
//
// Requests are applied one at a time under a single lock. Every state change made by a
// contract is recorded in a journal so a failing request, or a failing nested call, is
// rolled back completely. The read side mirrors the subset of the ethclient API the
// signers and the relayer use.
package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"
)

const (
	// DefaultGasLimit is the gas given to messages that do not set one (hardhat block gas limit)
	DefaultGasLimit = 30_000_000

	// TxGas is the intrinsic cost of any transaction
	TxGas = 21_000

	maxCallDepth = 1024
)

// Contract is code living at an address. Run executes one call frame.
type Contract interface {
	Run(env *Env) ([]byte, error)
}

// Coder is implemented by contracts that expose bytecode through CodeAt
type Coder interface {
	Code() []byte
}

// Constructor initialises a contract at env.Self and returns it
type Constructor func(env *Env) (Contract, error)

// Message is an unsigned call applied on behalf of From
type Message struct {
	From  common.Address
	To    common.Address
	Value *big.Int
	Gas   uint64
	Data  []byte
}

// Config holds genesis parameters
type Config struct {
	ChainID *big.Int
	Alloc   map[common.Address]*big.Int
	Time    time.Time
}

// Chain is the in-memory substrate
type Chain struct {
	mu    sync.Mutex
	pubMu sync.Mutex

	chainID  *big.Int
	signer   types.Signer
	gasPrice *big.Int
	now      time.Time

	balances map[common.Address]*big.Int
	nonces   map[common.Address]uint64
	code     map[common.Address]Contract

	journal   *Journal
	pending   []*types.Log
	forwarded uint64

	blockNumber uint64
	receipts    map[common.Hash]*types.Receipt
	reverts     map[common.Hash]error
	history     []types.Log

	logFeed event.Feed
}

// New creates a chain from its genesis configuration
func New(cfg Config) *Chain {
	chainID := cfg.ChainID
	if chainID == nil {
		chainID = big.NewInt(1337)
	}
	now := cfg.Time
	if now.IsZero() {
		now = time.Now()
	}

	c := &Chain{
		chainID:  new(big.Int).Set(chainID),
		signer:   types.LatestSignerForChainID(chainID),
		gasPrice: new(big.Int),
		now:      now.Truncate(time.Second),
		balances: make(map[common.Address]*big.Int),
		nonces:   make(map[common.Address]uint64),
		code:     make(map[common.Address]Contract),
		journal:  NewJournal(),
		receipts: make(map[common.Hash]*types.Receipt),
		reverts:  make(map[common.Hash]error),
	}
	for addr, amount := range cfg.Alloc {
		c.balances[addr] = new(big.Int).Set(amount)
	}
	return c
}

// Now returns the timestamp of the next block
func (c *Chain) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// SetTime moves the clock to t
func (c *Chain) SetTime(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.Truncate(time.Second)
}

// AdvanceTime moves the clock forward by d
func (c *Chain) AdvanceTime(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d).Truncate(time.Second)
}

// FollowClock sets the chain time to the wall clock every interval until ctx is done
func (c *Chain) FollowClock(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		c.SetTime(time.Now())
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

// Fund credits amount to addr outside of any transaction
func (c *Chain) Fund(addr common.Address, amount *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[addr] = new(big.Int).Add(c.balanceOf(addr), amount)
}

// SetGasPrice changes the price SuggestGasPrice reports and SendTransaction charges
func (c *Chain) SetGasPrice(price *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gasPrice = new(big.Int).Set(price)
}

// ContractAt returns the contract deployed at addr, or nil
func (c *Chain) ContractAt(addr common.Address) Contract {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code[addr]
}

// Deploy creates a contract with the CREATE address of from and its current nonce
func (c *Chain) Deploy(from common.Address, ctor Constructor) (common.Address, *types.Receipt, error) {
	c.mu.Lock()
	nonce := c.nonces[from]
	addr := crypto.CreateAddress(from, nonce)
	hash := messageHash(from, nonce, common.Address{}, nil, nil)

	receipt, _, logs, err := c.applyLocked(from, hash, nil, func() ([]byte, error) {
		return nil, c.create(&Env{chain: c, Caller: from, Origin: from, Gas: DefaultGasLimit}, addr, new(big.Int), ctor)
	})
	receipt.ContractAddress = addr
	c.publish(logs)

	if err != nil {
		return common.Address{}, receipt, err
	}
	log.Debug("Deployed contract", "address", addr, "deployer", from, "block", receipt.BlockNumber)
	return addr, receipt, nil
}

// ApplyMessage executes an unsigned message as if From had signed it.
// The returned error is the revert reason of a failed execution.
func (c *Chain) ApplyMessage(msg Message) (*types.Receipt, []byte, error) {
	value := msg.Value
	if value == nil {
		value = new(big.Int)
	}
	gas := msg.Gas
	if gas == 0 {
		gas = DefaultGasLimit
	}

	c.mu.Lock()
	nonce := c.nonces[msg.From]
	hash := messageHash(msg.From, nonce, msg.To, value, msg.Data)

	receipt, out, logs, err := c.applyLocked(msg.From, hash, msg.Data, func() ([]byte, error) {
		return c.call(nil, msg.From, msg.From, msg.To, value, gas, msg.Data)
	})
	c.publish(logs)
	return receipt, out, err
}

// applyLocked runs exec as one transaction and mines it into its own block.
// It must be called with c.mu held and leaves c.pubMu held for publish.
func (c *Chain) applyLocked(from common.Address, hash common.Hash, data []byte, exec func() ([]byte, error)) (*types.Receipt, []byte, []*types.Log, error) {
	c.journal.Reset()
	c.pending = nil
	c.forwarded = 0
	c.nonces[from]++

	out, err := exec()
	if err != nil {
		c.journal.RevertTo(0)
		c.pending = nil
	}
	c.journal.Reset()

	c.blockNumber++
	receipt := &types.Receipt{
		Type:              types.LegacyTxType,
		Status:            types.ReceiptStatusSuccessful,
		CumulativeGasUsed: IntrinsicGas(data) + c.forwarded,
		GasUsed:           IntrinsicGas(data) + c.forwarded,
		TxHash:            hash,
		BlockNumber:       new(big.Int).SetUint64(c.blockNumber),
		Logs:              []*types.Log{},
	}
	if err != nil {
		receipt.Status = types.ReceiptStatusFailed
		c.reverts[hash] = err
	}
	for i, l := range c.pending {
		l.TxHash = hash
		l.BlockNumber = c.blockNumber
		l.Index = uint(i)
		receipt.Logs = append(receipt.Logs, l)
		c.history = append(c.history, *l)
	}
	c.receipts[hash] = receipt
	logs := c.pending
	c.pending = nil

	c.pubMu.Lock()
	c.mu.Unlock()
	return receipt, out, logs, err
}

// publish delivers logs to subscribers in block order and releases c.pubMu
func (c *Chain) publish(logs []*types.Log) {
	defer c.pubMu.Unlock()
	for _, l := range logs {
		c.logFeed.Send(*l)
	}
}

// call executes one frame. A failing frame reverts only its own changes.
func (c *Chain) call(parent *Env, origin, caller, to common.Address, value *big.Int, gas uint64, input []byte) ([]byte, error) {
	depth := 0
	if parent != nil {
		depth = parent.depth + 1
		if gas > c.forwarded {
			c.forwarded = gas
		}
		if gas > parent.Gas {
			gas = parent.Gas
		}
	}
	if depth > maxCallDepth {
		return nil, ErrDepth
	}

	snapshot := c.journal.Snapshot()
	if err := c.transfer(caller, to, value); err != nil {
		return nil, err
	}

	contract := c.code[to]
	if contract == nil {
		return nil, nil
	}
	env := &Env{
		chain:  c,
		Caller: caller,
		Self:   to,
		Origin: origin,
		Value:  value,
		Gas:    gas,
		Input:  input,
		depth:  depth,
	}
	out, err := contract.Run(env)
	if err != nil {
		c.journal.RevertTo(snapshot)
		return nil, err
	}
	return out, nil
}

// create runs ctor at addr on behalf of parent
func (c *Chain) create(parent *Env, addr common.Address, value *big.Int, ctor Constructor) error {
	if _, exists := c.code[addr]; exists {
		return ErrAddressCollision
	}
	snapshot := c.journal.Snapshot()
	if err := c.transfer(parent.Self, addr, value); err != nil {
		return err
	}
	env := &Env{
		chain:  c,
		Caller: parent.Caller,
		Self:   addr,
		Origin: parent.Origin,
		Value:  value,
		Gas:    parent.Gas,
		depth:  parent.depth + 1,
	}
	if parent.Self != (common.Address{}) {
		env.Caller = parent.Self
	}
	contract, err := ctor(env)
	if err != nil {
		c.journal.RevertTo(snapshot)
		return err
	}
	Put(c.journal, c.code, addr, contract)
	return nil
}

func (c *Chain) transfer(from, to common.Address, value *big.Int) error {
	if value == nil || value.Sign() == 0 {
		return nil
	}
	balance := c.balanceOf(from)
	if balance.Cmp(value) < 0 {
		return fmt.Errorf("%w: address %s have %v want %v", ErrInsufficientBalance, from.Hex(), balance, value)
	}
	Put(c.journal, c.balances, from, new(big.Int).Sub(balance, value))
	Put(c.journal, c.balances, to, new(big.Int).Add(c.balanceOf(to), value))
	return nil
}

// IntrinsicGas is the base cost of a transaction carrying data
func IntrinsicGas(data []byte) uint64 {
	gas := uint64(TxGas)
	for _, b := range data {
		if b == 0 {
			gas += 4
		} else {
			gas += 16
		}
	}
	return gas
}

func (c *Chain) balanceOf(addr common.Address) *big.Int {
	if b, ok := c.balances[addr]; ok {
		return b
	}
	return new(big.Int)
}

func (c *Chain) addLog(l *types.Log) {
	Push(c.journal, &c.pending, l)
}

// messageHash derives a transaction hash for unsigned messages
func messageHash(from common.Address, nonce uint64, to common.Address, value *big.Int, data []byte) common.Hash {
	if value == nil {
		value = new(big.Int)
	}
	enc, err := rlp.EncodeToBytes([]interface{}{from, nonce, to, value, data})
	if err != nil {
		panic(fmt.Sprintf("rlp: %v", err))
	}
	return crypto.Keccak256Hash(enc)
}
