package chain

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Handler implements one ABI method. args are the unpacked inputs; the returned values are
// packed as the method outputs.
type Handler func(env *Env, args []interface{}) ([]interface{}, error)

// Dispatcher routes calldata to handlers by 4-byte selector
type Dispatcher struct {
	abi      abi.ABI
	handlers map[string]Handler
	receive  func(env *Env) error
}

// NewDispatcher creates a dispatcher over a parsed ABI
func NewDispatcher(contractABI abi.ABI) *Dispatcher {
	return &Dispatcher{
		abi:      contractABI,
		handlers: make(map[string]Handler),
	}
}

// On registers the handler of a method. It panics if the ABI does not declare the method.
func (d *Dispatcher) On(method string, h Handler) *Dispatcher {
	if _, ok := d.abi.Methods[method]; !ok {
		panic(fmt.Sprintf("dispatcher: method %q not in ABI", method))
	}
	d.handlers[method] = h
	return d
}

// OnReceive registers the handler for calls without calldata
func (d *Dispatcher) OnReceive(fn func(env *Env) error) *Dispatcher {
	d.receive = fn
	return d
}

// ABI returns the dispatcher's ABI
func (d *Dispatcher) ABI() abi.ABI {
	return d.abi
}

// Handles reports whether the dispatcher serves the selector at the start of input
func (d *Dispatcher) Handles(input []byte) bool {
	if len(input) < 4 {
		return len(input) == 0 && d.receive != nil
	}
	method, err := d.abi.MethodById(input[:4])
	if err != nil {
		return false
	}
	_, ok := d.handlers[method.Name]
	return ok
}

// Dispatch decodes env.Input, runs the matching handler and encodes its result
func (d *Dispatcher) Dispatch(env *Env) ([]byte, error) {
	if len(env.Input) == 0 {
		if d.receive == nil {
			return nil, ErrNoReceive
		}
		return nil, d.receive(env)
	}
	if len(env.Input) < 4 {
		return nil, fmt.Errorf("%w: short selector", ErrInvalidCalldata)
	}

	method, err := d.abi.MethodById(env.Input[:4])
	if err != nil {
		return nil, fmt.Errorf("%w: 0x%x", ErrUnknownMethod, env.Input[:4])
	}
	handler, ok := d.handlers[method.Name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method.Name)
	}
	if !method.IsPayable() && env.Value != nil && env.Value.Sign() > 0 {
		return nil, fmt.Errorf("%w: %s", ErrNonPayable, method.Name)
	}

	args, err := method.Inputs.Unpack(env.Input[4:])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCalldata, method.Name, err)
	}

	results, err := handler(env, args)
	if err != nil {
		return nil, err
	}
	out, err := method.Outputs.Pack(results...)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to pack outputs: %w", method.Name, err)
	}
	return out, nil
}
