// Package token implements the permit-enabled fungible token.
//
// Allowances can be granted with an owner-signed EIP-2612 permit that anyone may submit.
// Permits draw from the token's own nonce sequence, separate from the forwarder's.
package token

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ametist/accountbox"
	"github.com/ametist/accountbox/chain"
	"github.com/ametist/accountbox/mechanisms/evm"
	"github.com/ametist/accountbox/nonces"
	"github.com/ametist/accountbox/roles"
)

var tokenABI = evm.MustParseABI(evm.TokenABI)

var (
	// ErrInvalidSender is returned for transfers from the zero address
	ErrInvalidSender = errors.New("invalid sender")
	// ErrInvalidReceiver is returned for transfers and mints to the zero address
	ErrInvalidReceiver = errors.New("invalid receiver")
	// ErrInvalidApprover is returned for approvals by the zero address
	ErrInvalidApprover = errors.New("invalid approver")
	// ErrInvalidSpender is returned for approvals of the zero address
	ErrInvalidSpender = errors.New("invalid spender")
)

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

// Token is an ERC-20 ledger with permit and role-gated minting
type Token struct {
	name     string
	symbol   string
	version  string
	decimals uint8

	self    common.Address
	chainID *big.Int

	totalSupply *big.Int
	balances    map[common.Address]*big.Int
	allowances  map[allowanceKey]*big.Int

	roles    *roles.Set
	nonces   *nonces.Registry
	dispatch *chain.Dispatcher
}

// New creates a token. The deployer becomes admin and minter when Constructor runs.
func New(name, symbol string) *Token {
	t := &Token{
		name:        name,
		symbol:      symbol,
		version:     accountbox.DefaultDomainVersion,
		decimals:    evm.DefaultDecimals,
		totalSupply: new(big.Int),
		balances:    make(map[common.Address]*big.Int),
		allowances:  make(map[allowanceKey]*big.Int),
		roles:       roles.New(),
		nonces:      nonces.New(),
	}
	t.dispatch = t.roles.Register(chain.NewDispatcher(tokenABI))
	t.register()
	return t
}

// Deploy deploys a new token from deployer
func Deploy(c *chain.Chain, deployer common.Address, name, symbol string) (*Token, error) {
	t := New(name, symbol)
	if _, _, err := c.Deploy(deployer, t.Constructor()); err != nil {
		return nil, fmt.Errorf("failed to deploy token: %w", err)
	}
	return t, nil
}

// Constructor binds the token to its address and grants the deployer both roles
func (t *Token) Constructor() chain.Constructor {
	return func(env *chain.Env) (chain.Contract, error) {
		t.self = env.Self
		t.chainID = env.ChainID()
		if err := t.roles.Grant(env, roles.DefaultAdminRole, env.Caller); err != nil {
			return nil, err
		}
		if err := t.roles.Grant(env, roles.MinterRole, env.Caller); err != nil {
			return nil, err
		}
		return t, nil
	}
}

// Run implements chain.Contract
func (t *Token) Run(env *chain.Env) ([]byte, error) {
	return t.dispatch.Dispatch(env)
}

// Address of the deployed token
func (t *Token) Address() common.Address { return t.self }

// Name of the token, also its EIP-712 domain name
func (t *Token) Name() string { return t.name }

// Symbol of the token
func (t *Token) Symbol() string { return t.symbol }

// Roles exposes the role assignments
func (t *Token) Roles() *roles.Set { return t.roles }

// Domain returns the EIP-712 domain permits must be signed against
func (t *Token) Domain() evm.TypedDataDomain {
	return evm.TypedDataDomain{
		Name:              t.name,
		Version:           t.version,
		ChainID:           t.chainID,
		VerifyingContract: t.self.Hex(),
	}
}

// DomainSeparator is the hash of Domain
func (t *Token) DomainSeparator() (common.Hash, error) {
	return evm.DomainSeparator(t.Domain())
}

// Nonces returns the nonce the next permit of owner must be signed with
func (t *Token) Nonces(owner common.Address) uint64 {
	return t.nonces.Current(owner)
}

// TotalSupply of the token
func (t *Token) TotalSupply() *big.Int {
	return new(big.Int).Set(t.totalSupply)
}

// BalanceOf returns the balance of account
func (t *Token) BalanceOf(account common.Address) *big.Int {
	if b, ok := t.balances[account]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

// Allowance returns what spender may still move out of owner's balance
func (t *Token) Allowance(owner, spender common.Address) *big.Int {
	if a, ok := t.allowances[allowanceKey{owner, spender}]; ok {
		return new(big.Int).Set(a)
	}
	return new(big.Int)
}

// Transfer moves value from the caller to to
func (t *Token) Transfer(env *chain.Env, to common.Address, value *big.Int) error {
	return t.transfer(env, env.Caller, to, value)
}

// Approve sets the caller's allowance for spender
func (t *Token) Approve(env *chain.Env, spender common.Address, value *big.Int) error {
	return t.approve(env, env.Caller, spender, value)
}

// TransferFrom moves value from from to to, spending the caller's allowance
func (t *Token) TransferFrom(env *chain.Env, from, to common.Address, value *big.Int) error {
	allowance := t.Allowance(from, env.Caller)
	if allowance.Cmp(value) < 0 {
		return &accountbox.InsufficientAllowanceError{Spender: env.Caller, Allowance: allowance, Needed: new(big.Int).Set(value)}
	}
	chain.Put(env.Journal(), t.allowances, allowanceKey{from, env.Caller}, allowance.Sub(allowance, value))
	return t.transfer(env, from, to, value)
}

// Mint creates amount new tokens for to. The caller must hold MinterRole.
func (t *Token) Mint(env *chain.Env, to common.Address, amount *big.Int) error {
	if err := t.roles.Check(roles.MinterRole, env.Caller); err != nil {
		return err
	}
	if to == (common.Address{}) {
		return ErrInvalidReceiver
	}
	j := env.Journal()
	chain.Assign(j, &t.totalSupply, new(big.Int).Add(t.totalSupply, amount))
	chain.Put(j, t.balances, to, new(big.Int).Add(t.BalanceOf(to), amount))
	return env.Emit(tokenABI, accountbox.EventTransfer, common.Address{}, to, amount)
}

// Permit sets owner's allowance for spender from an owner-signed authorization. The permit
// nonce is consumed before the allowance changes; a used signature fails with InvalidNonce.
func (t *Token) Permit(env *chain.Env, msg evm.PermitMessage, v uint8, r, s [32]byte) error {
	deadline := new(big.Int)
	if msg.Deadline != nil {
		deadline.Set(msg.Deadline)
	}
	if big.NewInt(env.Now().Unix()).Cmp(deadline) > 0 {
		return &accountbox.ExpiredSignatureError{Deadline: deadline}
	}
	if msg.Value == nil {
		msg.Value = new(big.Int)
	}

	signature := evm.JoinSignature(v, r, s)
	nonce, err := t.nonces.ConsumeSigned(env.Journal(), msg.Owner, signature, func(current uint64) error {
		signed := msg
		signed.Nonce = new(big.Int).SetUint64(current)
		digest, err := evm.HashPermit(t.Domain(), signed)
		if err != nil {
			return &accountbox.InvalidSignatureError{Reason: err.Error()}
		}
		signer, err := evm.RecoverSigner(digest, signature)
		if err != nil {
			return err
		}
		if signer != msg.Owner {
			return &accountbox.InvalidSignerError{Signer: signer, Expected: msg.Owner}
		}
		return nil
	})
	if err != nil {
		return err
	}

	log.Debug("Permit accepted", "owner", msg.Owner, "spender", msg.Spender, "value", msg.Value, "nonce", nonce)
	return t.approve(env, msg.Owner, msg.Spender, msg.Value)
}

func (t *Token) transfer(env *chain.Env, from, to common.Address, value *big.Int) error {
	if from == (common.Address{}) {
		return ErrInvalidSender
	}
	if to == (common.Address{}) {
		return ErrInvalidReceiver
	}
	balance := t.BalanceOf(from)
	if balance.Cmp(value) < 0 {
		return &accountbox.InsufficientBalanceError{Account: from, Balance: balance, Needed: new(big.Int).Set(value)}
	}

	j := env.Journal()
	chain.Put(j, t.balances, from, balance.Sub(balance, value))
	chain.Put(j, t.balances, to, new(big.Int).Add(t.BalanceOf(to), value))
	return env.Emit(tokenABI, accountbox.EventTransfer, from, to, value)
}

func (t *Token) approve(env *chain.Env, owner, spender common.Address, value *big.Int) error {
	if owner == (common.Address{}) {
		return ErrInvalidApprover
	}
	if spender == (common.Address{}) {
		return ErrInvalidSpender
	}
	chain.Put(env.Journal(), t.allowances, allowanceKey{owner, spender}, new(big.Int).Set(value))
	return env.Emit(tokenABI, accountbox.EventApproval, owner, spender, value)
}
