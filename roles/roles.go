// Package roles keeps role assignments for contracts that gate methods on capabilities.
//
// Every role has an admin role whose holders may grant and revoke it. The admin of every role
// is DefaultAdminRole unless changed with SetAdmin.
package roles

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/ametist/accountbox"
	"github.com/ametist/accountbox/chain"
)

var (
	// DefaultAdminRole administers every role without an explicit admin
	DefaultAdminRole = common.Hash{}

	// MinterRole may mint token supply
	MinterRole = crypto.Keccak256Hash([]byte("MINTER_ROLE"))
)

// ErrBadConfirmation is returned when renounceRole names an account other than the caller
var ErrBadConfirmation = errors.New("roles can only be renounced for self")

type member struct {
	role    common.Hash
	account common.Address
}

// Set is the role storage of one contract
type Set struct {
	members map[member]bool
	admins  map[common.Hash]common.Hash
}

// New returns an empty set
func New() *Set {
	return &Set{
		members: make(map[member]bool),
		admins:  make(map[common.Hash]common.Hash),
	}
}

// Has reports whether account holds role
func (s *Set) Has(role common.Hash, account common.Address) bool {
	return s.members[member{role, account}]
}

// Admin returns the role that administers role
func (s *Set) Admin(role common.Hash) common.Hash {
	return s.admins[role]
}

// Check fails with MissingRoleError unless account holds role
func (s *Set) Check(role common.Hash, account common.Address) error {
	if !s.Has(role, account) {
		return &accountbox.MissingRoleError{Account: account, Role: role}
	}
	return nil
}

// SetAdmin makes admin the administering role of role
func (s *Set) SetAdmin(j *chain.Journal, role, admin common.Hash) {
	chain.Put(j, s.admins, role, admin)
}

// Grant gives role to account without checking the caller, emitting RoleGranted when the
// assignment is new. It is used by constructors.
func (s *Set) Grant(env *chain.Env, role common.Hash, account common.Address) error {
	if s.Has(role, account) {
		return nil
	}
	chain.Put(env.Journal(), s.members, member{role, account}, true)
	log.Debug("Role granted", "contract", env.Self, "role", role, "account", account, "sender", env.Caller)
	return env.Emit(eventsABI, accountbox.EventRoleGranted, role, account, env.Caller)
}

// Revoke removes role from account without checking the caller, emitting RoleRevoked when
// the account held it
func (s *Set) Revoke(env *chain.Env, role common.Hash, account common.Address) error {
	if !s.Has(role, account) {
		return nil
	}
	chain.Put(env.Journal(), s.members, member{role, account}, false)
	return env.Emit(eventsABI, accountbox.EventRoleRevoked, role, account, env.Caller)
}

// GrantRole grants role to account on behalf of the caller, who must hold the admin role
func (s *Set) GrantRole(env *chain.Env, role common.Hash, account common.Address) error {
	if err := s.Check(s.Admin(role), env.Caller); err != nil {
		return err
	}
	return s.Grant(env, role, account)
}

// RevokeRole revokes role from account on behalf of the caller, who must hold the admin role
func (s *Set) RevokeRole(env *chain.Env, role common.Hash, account common.Address) error {
	if err := s.Check(s.Admin(role), env.Caller); err != nil {
		return err
	}
	return s.Revoke(env, role, account)
}

// RenounceRole drops role from the caller. confirmation must repeat the caller's address.
func (s *Set) RenounceRole(env *chain.Env, role common.Hash, confirmation common.Address) error {
	if confirmation != env.Caller {
		return ErrBadConfirmation
	}
	return s.Revoke(env, role, confirmation)
}
