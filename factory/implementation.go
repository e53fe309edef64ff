// Package factory provisions account clones and keeps the owner and id registries.
//
// Implementations (V1, V2) are stateless contracts that operate on the State of the Handle
// that delegates to them. The Handle keeps its address and storage across upgrades; only its
// implementation pointer changes.
package factory

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/ametist/accountbox"
	"github.com/ametist/accountbox/account"
	"github.com/ametist/accountbox/chain"
	"github.com/ametist/accountbox/forwarder"
	"github.com/ametist/accountbox/mechanisms/evm"
)

var (
	factoryABI = evm.MustParseABI(evm.FactoryABI)
	accountABI = evm.MustParseABI(evm.AccountABI)
)

// initializersDisabled marks storage whose initializers can never run
const initializersDisabled = math.MaxUint64

// ErrInvalidOwner is returned when ownership is transferred to the zero address
var ErrInvalidOwner = errors.New("invalid owner")

// Implementation is factory behaviour a Handle can point at
type Implementation interface {
	chain.Contract
	Version() uint64
	Layout() Layout
}

// V1 creates accounts and resolves them by owner index
type V1 struct {
	dispatch *chain.Dispatcher
}

// NewV1 returns the first factory implementation
func NewV1() *V1 {
	v := &V1{}
	v.dispatch = chain.NewDispatcher(factoryABI)
	v.register(v.dispatch, v)
	unsupported := func(*chain.Env, []interface{}) ([]interface{}, error) {
		return nil, accountbox.ErrUnsupportedCapability
	}
	v.dispatch.
		On("initializeV2", unsupported).
		On("getAccountById", unsupported).
		On("totalAccounts", unsupported)
	return v
}

// Version implements Implementation
func (v *V1) Version() uint64 { return accountbox.FactoryVersionV1 }

// Layout implements Implementation
func (v *V1) Layout() Layout { return LayoutV1 }

// Run implements chain.Contract. Calls that do not come through a handle are rejected.
func (v *V1) Run(env *chain.Env) ([]byte, error) {
	if _, ok := env.Storage.(*State); !ok {
		return nil, accountbox.ErrDirectCall
	}
	return v.dispatch.Dispatch(env)
}

// register installs the V1 methods on d. impl answers version() and is the receiver V2 passes
// when it reuses them.
func (v *V1) register(d *chain.Dispatcher, impl Implementation) {
	d.On("initialize", func(env *chain.Env, args []interface{}) ([]interface{}, error) {
		return nil, Initialize(env, args[0].(common.Address), args[1].(common.Address))
	}).
		On("createClone", func(env *chain.Env, _ []interface{}) ([]interface{}, error) {
			r, err := CreateAccount(env)
			if err != nil {
				return nil, err
			}
			return []interface{}{r.Address}, nil
		}).
		On("getAccountByIndex", func(env *chain.Env, args []interface{}) ([]interface{}, error) {
			index := args[1].(*big.Int)
			if !index.IsUint64() {
				return nil, fmt.Errorf("%w: index %v", accountbox.ErrAccountNotFound, index)
			}
			addr, err := storage(env).ByIndex(args[0].(common.Address), index.Uint64())
			if err != nil {
				return nil, err
			}
			return []interface{}{addr}, nil
		}).
		On("userCounters", func(env *chain.Env, args []interface{}) ([]interface{}, error) {
			return []interface{}{new(big.Int).SetUint64(storage(env).Counter(args[0].(common.Address)))}, nil
		}).
		On("implementation", func(env *chain.Env, _ []interface{}) ([]interface{}, error) {
			return []interface{}{storage(env).template}, nil
		}).
		On("version", func(*chain.Env, []interface{}) ([]interface{}, error) {
			return []interface{}{impl.Version()}, nil
		}).
		On("trustedForwarder", func(env *chain.Env, _ []interface{}) ([]interface{}, error) {
			return []interface{}{storage(env).trustedForwarder}, nil
		}).
		On("isTrustedForwarder", func(env *chain.Env, args []interface{}) ([]interface{}, error) {
			candidate := args[0].(common.Address)
			trusted := storage(env).trustedForwarder
			return []interface{}{candidate != (common.Address{}) && candidate == trusted}, nil
		}).
		On("owner", func(env *chain.Env, _ []interface{}) ([]interface{}, error) {
			return []interface{}{storage(env).owner}, nil
		}).
		On("transferOwnership", func(env *chain.Env, args []interface{}) ([]interface{}, error) {
			return nil, TransferOwnership(env, args[0].(common.Address))
		})
}

// Initialize runs once per storage: it records owner and forwarder and deploys the account
// template the clones will share.
func Initialize(env *chain.Env, trustedForwarder, owner common.Address) error {
	s := storage(env)
	if s.initialized != 0 {
		return accountbox.ErrAlreadyInitialized
	}
	if owner == (common.Address{}) {
		return ErrInvalidOwner
	}

	j := env.Journal()
	chain.Assign(j, &s.initialized, accountbox.FactoryVersionV1)
	chain.Assign(j, &s.trustedForwarder, trustedForwarder)

	template, err := env.Create(nil, account.NewLogic(trustedForwarder).Template())
	if err != nil {
		return fmt.Errorf("failed to deploy account template: %w", err)
	}
	chain.Assign(j, &s.template, template)

	if err := setOwner(env, s, owner); err != nil {
		return err
	}
	return env.Emit(factoryABI, accountbox.EventInitialized, uint64(accountbox.FactoryVersionV1))
}

// CreateAccount clones the template for the apparent caller, initialises it and records it
// under the caller's next index and a fresh id.
func CreateAccount(env *chain.Env) (Record, error) {
	s := storage(env)
	if s.template == (common.Address{}) {
		return Record{}, fmt.Errorf("%w: factory not initialized", chain.ErrNotContract)
	}
	owner := forwarder.MsgSender(env, s.trustedForwarder)

	r := Record{
		Owner: owner,
		Index: s.counters[owner],
		ID:    s.NextID(env.Self, owner),
	}
	if _, err := s.ByID(owner, r.ID); err == nil {
		return Record{}, fmt.Errorf("account id %s already registered", r.ID)
	}

	addr, err := env.Create(nil, account.Clone(s.template))
	if err != nil {
		return Record{}, fmt.Errorf("failed to clone template: %w", err)
	}
	r.Address = addr

	input, err := accountABI.Pack("initialize", owner, [16]byte(r.ID))
	if err != nil {
		return Record{}, err
	}
	if _, err := env.Call(addr, nil, env.Gas, input); err != nil {
		return Record{}, fmt.Errorf("failed to initialize account: %w", err)
	}

	s.record(env.Journal(), r)
	if err := env.Emit(factoryABI, accountbox.EventAccountCreated, owner, [16]byte(r.ID), addr); err != nil {
		return Record{}, err
	}

	log.Debug("Created account", "owner", owner, "index", r.Index, "id", r.ID, "address", addr)
	return r, nil
}

// TransferOwnership hands the upgrade right to newOwner. Only the current owner may call it.
func TransferOwnership(env *chain.Env, newOwner common.Address) error {
	s := storage(env)
	if sender := forwarder.MsgSender(env, s.trustedForwarder); sender != s.owner {
		return &accountbox.UnauthorizedAccountError{Caller: sender}
	}
	if newOwner == (common.Address{}) {
		return ErrInvalidOwner
	}
	return setOwner(env, s, newOwner)
}

func setOwner(env *chain.Env, s *State, owner common.Address) error {
	previous := s.owner
	chain.Assign(env.Journal(), &s.owner, owner)
	return env.Emit(factoryABI, accountbox.EventOwnershipTransferred, previous, owner)
}

// storage returns the delegated state of a frame. Run has already checked it is present.
func storage(env *chain.Env) *State {
	return env.Storage.(*State)
}

func idArg(arg interface{}) (uuid.UUID, error) {
	id, ok := arg.([16]byte)
	if !ok {
		return uuid.UUID{}, errors.New("malformed account id")
	}
	return uuid.UUID(id), nil
}
