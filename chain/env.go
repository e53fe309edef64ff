package chain

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Env is a single call frame
type Env struct {
	chain *Chain

	Caller common.Address // msg.sender
	Self   common.Address // address(this)
	Origin common.Address // tx.origin
	Value  *big.Int
	Gas    uint64
	Input  []byte

	// Storage is the state a delegated frame operates on. It is nil unless the frame was
	// entered through Delegate.
	Storage interface{}

	depth int
}

// Delegate returns a copy of the frame that runs input against storage, keeping caller, value
// and address. It is the substrate's delegatecall.
func (e *Env) Delegate(storage interface{}, input []byte) *Env {
	d := *e
	d.Storage = storage
	d.Input = input
	return &d
}

// Now is the current block timestamp
func (e *Env) Now() time.Time {
	return e.chain.now
}

// ChainID of the executing chain
func (e *Env) ChainID() *big.Int {
	return new(big.Int).Set(e.chain.chainID)
}

// Journal records undo operations for contract state changed in this request
func (e *Env) Journal() *Journal {
	return e.chain.journal
}

// Balance of addr
func (e *Env) Balance(addr common.Address) *big.Int {
	return new(big.Int).Set(e.chain.balanceOf(addr))
}

// Call runs a nested frame from Self. Only the nested frame is reverted when it fails.
func (e *Env) Call(to common.Address, value *big.Int, gas uint64, input []byte) ([]byte, error) {
	if value == nil {
		value = new(big.Int)
	}
	return e.chain.call(e, e.Origin, e.Self, to, value, gas, input)
}

// StaticCall runs a nested frame whose state changes are always discarded
func (e *Env) StaticCall(to common.Address, input []byte) ([]byte, error) {
	snapshot := e.chain.journal.Snapshot()
	defer e.chain.journal.RevertTo(snapshot)
	return e.chain.call(e, e.Origin, e.Self, to, new(big.Int), e.Gas, input)
}

// Transfer sends value from Self to a plain address, running its code if it has any
func (e *Env) Transfer(to common.Address, amount *big.Int) error {
	_, err := e.Call(to, amount, e.Gas, nil)
	return err
}

// Create deploys a contract from Self at the CREATE address of Self's nonce
func (e *Env) Create(value *big.Int, ctor Constructor) (common.Address, error) {
	if value == nil {
		value = new(big.Int)
	}
	nonce := e.chain.nonces[e.Self]
	addr := crypto.CreateAddress(e.Self, nonce)
	Put(e.chain.journal, e.chain.nonces, e.Self, nonce+1)

	if err := e.chain.create(e, addr, value, ctor); err != nil {
		return common.Address{}, err
	}
	return addr, nil
}

// ContractAt returns the contract at addr, or nil
func (e *Env) ContractAt(addr common.Address) Contract {
	return e.chain.code[addr]
}

// Emit appends an ABI-encoded event log from Self. Arguments follow the event's declared order.
func (e *Env) Emit(contractABI abi.ABI, name string, args ...interface{}) error {
	ev, ok := contractABI.Events[name]
	if !ok {
		return fmt.Errorf("unknown event %q", name)
	}
	if len(args) != len(ev.Inputs) {
		return fmt.Errorf("event %s: expected %d arguments, got %d", name, len(ev.Inputs), len(args))
	}

	var indexed, data []interface{}
	for i, input := range ev.Inputs {
		if input.Indexed {
			indexed = append(indexed, args[i])
		} else {
			data = append(data, args[i])
		}
	}

	topics := []common.Hash{ev.ID}
	if len(indexed) > 0 {
		query := make([][]interface{}, len(indexed))
		for i, arg := range indexed {
			query[i] = []interface{}{arg}
		}
		encoded, err := abi.MakeTopics(query...)
		if err != nil {
			return fmt.Errorf("event %s: failed to encode topics: %w", name, err)
		}
		for _, t := range encoded {
			topics = append(topics, t[0])
		}
	}

	payload, err := ev.Inputs.NonIndexed().Pack(data...)
	if err != nil {
		return fmt.Errorf("event %s: failed to pack data: %w", name, err)
	}

	e.chain.addLog(&types.Log{
		Address: e.Self,
		Topics:  topics,
		Data:    payload,
	})
	return nil
}
