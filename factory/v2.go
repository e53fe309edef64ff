package factory

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ametist/accountbox"
	"github.com/ametist/accountbox/chain"
	"github.com/ametist/accountbox/forwarder"
)

// V2 adds id lookup and a total account counter on top of V1
type V2 struct {
	V1
}

// NewV2 returns the second factory implementation
func NewV2() *V2 {
	v := &V2{}
	v.dispatch = chain.NewDispatcher(factoryABI)
	v.register(v.dispatch, v)
	v.dispatch.
		On("createClone", func(env *chain.Env, _ []interface{}) ([]interface{}, error) {
			r, err := CreateAccount(env)
			if err != nil {
				return nil, err
			}
			s := storage(env)
			chain.Assign(env.Journal(), &s.totalAccounts, s.totalAccounts+1)
			return []interface{}{r.Address}, nil
		}).
		On("initializeV2", func(env *chain.Env, _ []interface{}) ([]interface{}, error) {
			return nil, InitializeV2(env)
		}).
		On("getAccountById", func(env *chain.Env, args []interface{}) ([]interface{}, error) {
			id, err := idArg(args[1])
			if err != nil {
				return nil, err
			}
			addr, err := storage(env).ByID(args[0].(common.Address), id)
			if err != nil {
				return nil, err
			}
			return []interface{}{addr}, nil
		}).
		On("totalAccounts", func(env *chain.Env, _ []interface{}) ([]interface{}, error) {
			return []interface{}{new(big.Int).SetUint64(storage(env).totalAccounts)}, nil
		})
	return v
}

// Version implements Implementation
func (v *V2) Version() uint64 { return accountbox.FactoryVersionV2 }

// Layout implements Implementation
func (v *V2) Layout() Layout { return LayoutV2 }

// InitializeV2 is the V2 reinitializer. It backfills the total counter from the accounts
// created under V1. Only the owner may run it, normally as the init call of an upgrade.
func InitializeV2(env *chain.Env) error {
	s := storage(env)
	if s.initialized >= accountbox.FactoryVersionV2 {
		return accountbox.ErrAlreadyInitialized
	}
	if sender := forwarder.MsgSender(env, s.trustedForwarder); sender != s.owner {
		return &accountbox.UnauthorizedAccountError{Caller: sender}
	}

	j := env.Journal()
	chain.Assign(j, &s.initialized, accountbox.FactoryVersionV2)
	chain.Assign(j, &s.totalAccounts, s.countAccounts())
	return env.Emit(factoryABI, accountbox.EventInitialized, uint64(accountbox.FactoryVersionV2))
}
