// Package account implements the ether account that owners control directly or through the
// trusted forwarder.
//
// Accounts are clones: each Instance holds its own owner and id and resolves the shared Logic
// through the address of the template it was cloned from.
package account

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/ametist/accountbox"
	"github.com/ametist/accountbox/chain"
	"github.com/ametist/accountbox/forwarder"
	"github.com/ametist/accountbox/mechanisms/evm"
)

var accountABI = evm.MustParseABI(evm.AccountABI)

var (
	clonePrefix = common.FromHex("0x363d3d373d3d3d363d73")
	cloneSuffix = common.FromHex("0x5af43d82803e903d91602b57fd5bf3")
)

// Logic is the behaviour shared by every clone of a template. It only carries the trusted
// forwarder, which is fixed when the template is deployed.
type Logic struct {
	forwarder common.Address
	dispatch  *chain.Dispatcher
}

// NewLogic creates the shared behaviour for accounts trusting forwarder
func NewLogic(trustedForwarder common.Address) *Logic {
	l := &Logic{forwarder: trustedForwarder}
	l.dispatch = chain.NewDispatcher(accountABI)
	forwarder.RegisterTrust(l.dispatch, l.TrustedForwarder)
	return l
}

// Template deploys l as a template
func (l *Logic) Template() chain.Constructor {
	return func(env *chain.Env) (chain.Contract, error) {
		return l, nil
	}
}

// TrustedForwarder returns the forwarder every clone of this template trusts
func (l *Logic) TrustedForwarder() common.Address {
	return l.forwarder
}

// Run answers trust queries. Account methods are only served by clones.
func (l *Logic) Run(env *chain.Env) ([]byte, error) {
	if l.dispatch.Handles(env.Input) {
		return l.dispatch.Dispatch(env)
	}
	return nil, accountbox.ErrDirectCall
}

// Instance is the per-account state
type Instance struct {
	template common.Address
	logic    *Logic // set for standalone accounts, which carry their own behaviour

	owner       common.Address
	id          uuid.UUID
	initialized bool

	dispatch *chain.Dispatcher
}

// Clone creates an uninitialised clone of the template at template
func Clone(template common.Address) chain.Constructor {
	return func(env *chain.Env) (chain.Contract, error) {
		if _, ok := env.ContractAt(template).(*Logic); !ok {
			return nil, fmt.Errorf("%w: %s is not an account template", chain.ErrNotContract, template.Hex())
		}
		return newInstance(template, nil), nil
	}
}

// Standalone deploys an account that is not a clone. The deployer becomes its owner.
func Standalone(id uuid.UUID, trustedForwarder common.Address) chain.Constructor {
	return func(env *chain.Env) (chain.Contract, error) {
		in := newInstance(common.Address{}, NewLogic(trustedForwarder))
		in.owner = env.Caller
		in.id = id
		in.initialized = true
		return in, nil
	}
}

func newInstance(template common.Address, logic *Logic) *Instance {
	in := &Instance{template: template, logic: logic}
	in.dispatch = chain.NewDispatcher(accountABI).
		OnReceive(in.deposit).
		On("initialize", in.handleInitialize).
		On("deposit", func(env *chain.Env, _ []interface{}) ([]interface{}, error) {
			return nil, in.deposit(env)
		}).
		On("withdraw", in.handleWithdraw).
		On(evm.FunctionIsValidSignature, func(_ *chain.Env, args []interface{}) ([]interface{}, error) {
			signature, _ := args[1].([]byte)
			if in.IsValidSignature(args[0].([32]byte), signature) {
				return []interface{}{evm.EIP1271MagicValue}, nil
			}
			return []interface{}{evm.EIP1271InvalidValue}, nil
		}).
		On("accountID", func(*chain.Env, []interface{}) ([]interface{}, error) {
			return []interface{}{[16]byte(in.id)}, nil
		}).
		On("owner", func(*chain.Env, []interface{}) ([]interface{}, error) {
			return []interface{}{in.owner}, nil
		}).
		On("trustedForwarder", func(env *chain.Env, _ []interface{}) ([]interface{}, error) {
			logic, err := in.resolve(env)
			if err != nil {
				return nil, err
			}
			return []interface{}{logic.forwarder}, nil
		}).
		On("isTrustedForwarder", func(env *chain.Env, args []interface{}) ([]interface{}, error) {
			logic, err := in.resolve(env)
			if err != nil {
				return nil, err
			}
			candidate := args[0].(common.Address)
			return []interface{}{candidate != (common.Address{}) && candidate == logic.forwarder}, nil
		})
	return in
}

// Run implements chain.Contract
func (in *Instance) Run(env *chain.Env) ([]byte, error) {
	return in.dispatch.Dispatch(env)
}

// Code returns EIP-1167 minimal proxy bytecode pointing at the template
func (in *Instance) Code() []byte {
	if in.logic != nil {
		return []byte{0xfe}
	}
	code := make([]byte, 0, len(clonePrefix)+common.AddressLength+len(cloneSuffix))
	code = append(code, clonePrefix...)
	code = append(code, in.template.Bytes()...)
	return append(code, cloneSuffix...)
}

// Owner of the account
func (in *Instance) Owner() common.Address { return in.owner }

// ID assigned at creation
func (in *Instance) ID() uuid.UUID { return in.id }

// Template the account was cloned from; zero for standalone accounts
func (in *Instance) Template() common.Address { return in.template }

// Initialize sets the owner and id of a fresh clone
func (in *Instance) Initialize(env *chain.Env, owner common.Address, id uuid.UUID) error {
	if in.initialized {
		return accountbox.ErrAlreadyInitialized
	}
	j := env.Journal()
	chain.Assign(j, &in.initialized, true)
	chain.Assign(j, &in.owner, owner)
	chain.Assign(j, &in.id, id)
	return nil
}

// IsValidSignature reports whether the owner signed hash. Malformed signatures are invalid.
func (in *Instance) IsValidSignature(hash [32]byte, signature []byte) bool {
	signer, err := evm.RecoverSigner(hash[:], signature)
	return err == nil && in.initialized && signer == in.owner
}

// Withdraw sends amount to to. The apparent caller must be the owner.
func (in *Instance) Withdraw(env *chain.Env, to common.Address, amount *big.Int) error {
	logic, err := in.resolve(env)
	if err != nil {
		return err
	}
	sender := forwarder.MsgSender(env, logic.forwarder)
	if sender != in.owner {
		return &accountbox.UnauthorizedAccountError{Caller: sender}
	}

	balance := env.Balance(env.Self)
	if amount.Cmp(balance) > 0 {
		return &accountbox.InsufficientFundsError{Amount: new(big.Int).Set(amount), Balance: balance}
	}
	if err := env.Transfer(to, amount); err != nil {
		return fmt.Errorf("failed to send %v to %s: %w", amount, to.Hex(), err)
	}
	return env.Emit(accountABI, accountbox.EventWithdrawal, to, amount)
}

func (in *Instance) deposit(env *chain.Env) error {
	logic, err := in.resolve(env)
	if err != nil {
		return err
	}
	return env.Emit(accountABI, accountbox.EventDeposit, forwarder.MsgSender(env, logic.forwarder), new(big.Int).Set(env.Value))
}

func (in *Instance) handleInitialize(env *chain.Env, args []interface{}) ([]interface{}, error) {
	id, ok := args[1].([16]byte)
	if !ok {
		return nil, errors.New("initialize: malformed id")
	}
	return nil, in.Initialize(env, args[0].(common.Address), uuid.UUID(id))
}

func (in *Instance) handleWithdraw(env *chain.Env, args []interface{}) ([]interface{}, error) {
	return nil, in.Withdraw(env, args[0].(common.Address), args[1].(*big.Int))
}

// resolve returns the shared behaviour, read through the template for clones
func (in *Instance) resolve(env *chain.Env) (*Logic, error) {
	if in.logic != nil {
		return in.logic, nil
	}
	logic, ok := env.ContractAt(in.template).(*Logic)
	if !ok {
		return nil, fmt.Errorf("%w: template %s", chain.ErrNotContract, in.template.Hex())
	}
	return logic, nil
}

// CloneTemplate extracts the template address from EIP-1167 bytecode
func CloneTemplate(code []byte) (common.Address, bool) {
	if len(code) != len(clonePrefix)+common.AddressLength+len(cloneSuffix) {
		return common.Address{}, false
	}
	if !bytes.HasPrefix(code, clonePrefix) || !bytes.HasSuffix(code, cloneSuffix) {
		return common.Address{}, false
	}
	return common.BytesToAddress(code[len(clonePrefix) : len(clonePrefix)+common.AddressLength]), true
}
