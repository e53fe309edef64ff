// Package forwarder implements the ERC-2771 meta-transaction forwarder.
package forwarder

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ametist/accountbox"
	"github.com/ametist/accountbox/chain"
	"github.com/ametist/accountbox/mechanisms/evm"
	"github.com/ametist/accountbox/nonces"
)

var (
	forwarderABI = evm.MustParseABI(evm.ForwarderABI)
	erc2771ABI   = evm.MustParseABI(evm.ERC2771ABI)
)

// Forwarder validates signed forward requests and relays them to targets that trust it
type Forwarder struct {
	name    string
	version string
	self    common.Address
	chainID *big.Int

	nonces   *nonces.Registry
	dispatch *chain.Dispatcher
}

// New creates a forwarder whose EIP-712 domain carries name. It is bound to an address by
// deploying Constructor.
func New(name string) *Forwarder {
	f := &Forwarder{
		name:    name,
		version: accountbox.DefaultDomainVersion,
		nonces:  nonces.New(),
	}
	f.dispatch = chain.NewDispatcher(forwarderABI).
		On(evm.FunctionExecute, f.handleExecute).
		On(evm.FunctionExecuteBatch, f.handleExecuteBatch).
		On(evm.FunctionVerify, f.handleVerify).
		On(evm.FunctionNonces, f.handleNonces).
		On(evm.FunctionEIP712Domain, f.handleDomain)
	return f
}

// Deploy deploys a new forwarder from deployer
func Deploy(c *chain.Chain, deployer common.Address, name string) (*Forwarder, error) {
	f := New(name)
	if _, _, err := c.Deploy(deployer, f.Constructor()); err != nil {
		return nil, fmt.Errorf("failed to deploy forwarder: %w", err)
	}
	return f, nil
}

// Constructor binds the forwarder to its deployment address and chain
func (f *Forwarder) Constructor() chain.Constructor {
	return func(env *chain.Env) (chain.Contract, error) {
		f.self = env.Self
		f.chainID = env.ChainID()
		return f, nil
	}
}

// Run implements chain.Contract
func (f *Forwarder) Run(env *chain.Env) ([]byte, error) {
	return f.dispatch.Dispatch(env)
}

// Address of the deployed forwarder
func (f *Forwarder) Address() common.Address {
	return f.self
}

// Domain returns the EIP-712 domain requests must be signed against
func (f *Forwarder) Domain() evm.TypedDataDomain {
	return evm.TypedDataDomain{
		Name:              f.name,
		Version:           f.version,
		ChainID:           f.chainID,
		VerifyingContract: f.self.Hex(),
	}
}

// Nonces returns the nonce the next request from owner must be signed with
func (f *Forwarder) Nonces(owner common.Address) uint64 {
	return f.nonces.Current(owner)
}

// Execute relays one request. The value sent with the frame must equal request.Value.
// Validation failures abort; a failing target call only yields success == false.
func (f *Forwarder) Execute(env *chain.Env, req evm.ForwardRequestData) (bool, error) {
	value := bigOrZero(req.Value)
	if env.Value.Cmp(value) != 0 {
		return false, &accountbox.MismatchedValueError{Requested: value, Sent: new(big.Int).Set(env.Value)}
	}

	_, success, err := f.execute(env, req, true)
	if err != nil {
		return false, err
	}
	if !success && value.Sign() > 0 {
		if err := env.Transfer(env.Caller, value); err != nil {
			return false, fmt.Errorf("failed to refund value: %w", err)
		}
	}
	return success, nil
}

// ExecuteBatch relays several requests. With a zero refundReceiver the batch is atomic and any
// invalid request aborts all of them; otherwise invalid requests are skipped and the value of
// skipped or failed requests is sent to refundReceiver.
func (f *Forwarder) ExecuteBatch(env *chain.Env, reqs []evm.ForwardRequestData, refundReceiver common.Address) error {
	atomic := refundReceiver == (common.Address{})

	total := new(big.Int)
	for _, req := range reqs {
		total.Add(total, bigOrZero(req.Value))
	}
	if env.Value.Cmp(total) != 0 {
		return &accountbox.MismatchedValueError{Requested: total, Sent: new(big.Int).Set(env.Value)}
	}

	refund := new(big.Int)
	for _, req := range reqs {
		_, success, err := f.execute(env, req, atomic)
		if err != nil {
			return err
		}
		if !success {
			refund.Add(refund, bigOrZero(req.Value))
		}
	}

	if refund.Sign() > 0 {
		receiver := refundReceiver
		if atomic {
			receiver = env.Caller
		}
		if err := env.Transfer(receiver, refund); err != nil {
			return fmt.Errorf("failed to refund value: %w", err)
		}
	}
	return nil
}

// Verify reports why req could not be executed now, or nil if it could
func (f *Forwarder) Verify(env *chain.Env, req evm.ForwardRequestData) error {
	if err := f.preflight(env, req); err != nil {
		return err
	}
	current := f.nonces.Current(req.From)
	if f.nonces.Spent(req.Signature) {
		return &accountbox.InvalidNonceError{Account: req.From, Current: current}
	}
	return f.checkSigner(req, current)
}

// execute validates and runs one request. With requireValid unset an invalid request is
// skipped instead of failing.
func (f *Forwarder) execute(env *chain.Env, req evm.ForwardRequestData, requireValid bool) (executed bool, success bool, err error) {
	nonce, err := f.consume(env, req)
	if err != nil {
		if requireValid {
			return false, false, err
		}
		log.Debug("Skipped invalid forward request", "from", req.From, "to", req.To, "err", err)
		return false, false, nil
	}

	gas := bigOrZero(req.Gas)
	if !gas.IsUint64() || env.Gas < gas.Uint64() {
		return false, false, fmt.Errorf("%w: request %v, available %d", chain.ErrInsufficientGas, gas, env.Gas)
	}

	_, callErr := env.Call(req.To, bigOrZero(req.Value), gas.Uint64(), AppendSender(req.Data, req.From))
	success = callErr == nil
	if !success {
		log.Debug("Forwarded call failed", "from", req.From, "to", req.To, "nonce", nonce, "err", callErr)
	}

	if err := env.Emit(forwarderABI, accountbox.EventExecutedForwardRequest, req.From, new(big.Int).SetUint64(nonce), success); err != nil {
		return true, success, err
	}
	return true, success, nil
}

// consume runs validation steps 1 to 3 and advances the signer's nonce
func (f *Forwarder) consume(env *chain.Env, req evm.ForwardRequestData) (uint64, error) {
	if err := f.preflight(env, req); err != nil {
		return 0, err
	}
	return f.nonces.ConsumeSigned(env.Journal(), req.From, req.Signature, func(current uint64) error {
		return f.checkSigner(req, current)
	})
}

// preflight checks the deadline and that the target trusts this forwarder
func (f *Forwarder) preflight(env *chain.Env, req evm.ForwardRequestData) error {
	deadline := bigOrZero(req.Deadline)
	if big.NewInt(env.Now().Unix()).Cmp(deadline) > 0 {
		return &accountbox.ExpiredRequestError{Deadline: deadline.Uint64()}
	}
	if !f.isTrustedByTarget(env, req.To) {
		return &accountbox.UntrustedTargetError{Target: req.To, Forwarder: f.self}
	}
	return nil
}

func (f *Forwarder) checkSigner(req evm.ForwardRequestData, nonce uint64) error {
	digest, err := evm.HashForwardRequest(f.Domain(), req.Request(), new(big.Int).SetUint64(nonce))
	if err != nil {
		return &accountbox.InvalidSignatureError{Reason: err.Error()}
	}
	signer, err := evm.RecoverSigner(digest, req.Signature)
	if err != nil {
		return err
	}
	if signer != req.From {
		return &accountbox.InvalidSignerError{Signer: signer, Expected: req.From}
	}
	return nil
}

// isTrustedByTarget asks target whether it accepts this forwarder. Targets without code, or
// that revert or answer malformed data, do not trust it.
func (f *Forwarder) isTrustedByTarget(env *chain.Env, target common.Address) bool {
	input, err := erc2771ABI.Pack(evm.FunctionIsTrustedForward, f.self)
	if err != nil {
		return false
	}
	out, err := env.StaticCall(target, input)
	if err != nil || len(out) < 32 {
		return false
	}
	values, err := erc2771ABI.Unpack(evm.FunctionIsTrustedForward, out)
	if err != nil || len(values) != 1 {
		return false
	}
	trusted, ok := values[0].(bool)
	return ok && trusted
}

func (f *Forwarder) handleExecute(env *chain.Env, args []interface{}) ([]interface{}, error) {
	req, err := requestArg(args[0])
	if err != nil {
		return nil, err
	}
	_, err = f.Execute(env, req)
	return nil, err
}

func (f *Forwarder) handleExecuteBatch(env *chain.Env, args []interface{}) ([]interface{}, error) {
	reqs, ok := abi.ConvertType(args[0], new([]evm.ForwardRequestData)).(*[]evm.ForwardRequestData)
	if !ok {
		return nil, fmt.Errorf("%w: malformed request batch", chain.ErrInvalidCalldata)
	}
	return nil, f.ExecuteBatch(env, *reqs, args[1].(common.Address))
}

func (f *Forwarder) handleVerify(env *chain.Env, args []interface{}) ([]interface{}, error) {
	req, err := requestArg(args[0])
	if err != nil {
		return nil, err
	}
	return []interface{}{f.Verify(env, req) == nil}, nil
}

func (f *Forwarder) handleNonces(env *chain.Env, args []interface{}) ([]interface{}, error) {
	owner := args[0].(common.Address)
	return []interface{}{new(big.Int).SetUint64(f.nonces.Current(owner))}, nil
}

func (f *Forwarder) handleDomain(env *chain.Env, args []interface{}) ([]interface{}, error) {
	return []interface{}{
		[1]byte{0x0f},
		f.name,
		f.version,
		new(big.Int).Set(f.chainID),
		f.self,
		[32]byte{},
		[]*big.Int{},
	}, nil
}

func requestArg(arg interface{}) (evm.ForwardRequestData, error) {
	req, ok := abi.ConvertType(arg, new(evm.ForwardRequestData)).(*evm.ForwardRequestData)
	if !ok {
		return evm.ForwardRequestData{}, errors.New("malformed forward request")
	}
	return *req, nil
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
