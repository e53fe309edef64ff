package factory

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ametist/accountbox"
	"github.com/ametist/accountbox/chain"
	"github.com/ametist/accountbox/forwarder"
)

// Handle is the stable factory address. It owns the State and delegates every call it does
// not serve itself to the active implementation.
type Handle struct {
	state    *State
	dispatch *chain.Dispatcher
}

// NewHandle deploys a handle pointing at impl and runs initData against it
func NewHandle(impl common.Address, initData []byte) chain.Constructor {
	return func(env *chain.Env) (chain.Contract, error) {
		h := &Handle{state: NewState()}
		h.dispatch = chain.NewDispatcher(factoryABI).
			On("upgradeToAndCall", h.handleUpgrade).
			On("getImplementation", func(*chain.Env, []interface{}) ([]interface{}, error) {
				return []interface{}{h.state.implementation}, nil
			})

		if err := h.setImplementation(env, impl, initData); err != nil {
			return nil, err
		}
		return h, nil
	}
}

// Run implements chain.Contract
func (h *Handle) Run(env *chain.Env) ([]byte, error) {
	if h.dispatch.Handles(env.Input) {
		return h.dispatch.Dispatch(env)
	}
	impl, ok := env.ContractAt(h.state.implementation).(Implementation)
	if !ok {
		return nil, fmt.Errorf("%w: %s", accountbox.ErrNotImplementation, h.state.implementation.Hex())
	}
	return impl.Run(env.Delegate(h.state, env.Input))
}

// State exposes the handle's storage for inspection
func (h *Handle) State() *State {
	return h.state
}

// Upgrade points the handle at newImpl and optionally runs data against it. Only the owner
// may upgrade; registries and counters are left untouched.
func (h *Handle) Upgrade(env *chain.Env, newImpl common.Address, data []byte) error {
	s := h.state
	if sender := forwarder.MsgSender(env, s.trustedForwarder); sender != s.owner {
		return &accountbox.UnauthorizedUpgradeError{Caller: sender}
	}
	return h.setImplementation(env, newImpl, data)
}

func (h *Handle) setImplementation(env *chain.Env, newImpl common.Address, data []byte) error {
	impl, ok := env.ContractAt(newImpl).(Implementation)
	if !ok {
		return fmt.Errorf("%w: %s", accountbox.ErrNotImplementation, newImpl.Hex())
	}
	layout := impl.Layout()
	if err := layout.Extends(h.state.layout); err != nil {
		return err
	}

	j := env.Journal()
	previous := h.state.implementation
	chain.Assign(j, &h.state.implementation, newImpl)
	chain.Assign(j, &h.state.layout, layout)
	if err := env.Emit(factoryABI, accountbox.EventUpgraded, newImpl); err != nil {
		return err
	}

	if len(data) > 0 {
		if _, err := impl.Run(env.Delegate(h.state, data)); err != nil {
			return fmt.Errorf("upgrade initialization failed: %w", err)
		}
	}
	log.Debug("Factory implementation set", "handle", env.Self, "previous", previous, "implementation", newImpl, "version", impl.Version())
	return nil
}

func (h *Handle) handleUpgrade(env *chain.Env, args []interface{}) ([]interface{}, error) {
	return nil, h.Upgrade(env, args[0].(common.Address), args[1].([]byte))
}
