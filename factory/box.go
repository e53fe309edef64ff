package factory

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/ametist/accountbox/account"
	"github.com/ametist/accountbox/chain"
)

// Box is a factory without a handle. It owns its state and runs fixed V2 behaviour; it has no
// owner and cannot be upgraded.
type Box struct {
	state *State
	logic *V2
}

// NewBox deploys a non-upgradeable factory whose accounts trust trustedForwarder
func NewBox(trustedForwarder common.Address) chain.Constructor {
	return func(env *chain.Env) (chain.Contract, error) {
		s := NewState()
		s.initialized = initializersDisabled
		s.trustedForwarder = trustedForwarder
		s.layout = LayoutV2

		template, err := env.Create(nil, account.NewLogic(trustedForwarder).Template())
		if err != nil {
			return nil, err
		}
		s.template = template
		return &Box{state: s, logic: NewV2()}, nil
	}
}

// Run implements chain.Contract
func (b *Box) Run(env *chain.Env) ([]byte, error) {
	return b.logic.Run(env.Delegate(b.state, env.Input))
}

// State exposes the box's storage for inspection
func (b *Box) State() *State {
	return b.state
}
