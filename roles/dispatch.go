package roles

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/ametist/accountbox/chain"
	"github.com/ametist/accountbox/mechanisms/evm"
)

// eventsABI carries the role methods and events; any contract ABI embedding them encodes the
// same selectors and topics
var eventsABI = evm.MustParseABI(evm.TokenABI)

// Register serves the access control methods of s on d
func (s *Set) Register(d *chain.Dispatcher) *chain.Dispatcher {
	return d.
		On("hasRole", func(_ *chain.Env, args []interface{}) ([]interface{}, error) {
			return []interface{}{s.Has(roleArg(args[0]), args[1].(common.Address))}, nil
		}).
		On("getRoleAdmin", func(_ *chain.Env, args []interface{}) ([]interface{}, error) {
			return []interface{}{[32]byte(s.Admin(roleArg(args[0])))}, nil
		}).
		On("grantRole", func(env *chain.Env, args []interface{}) ([]interface{}, error) {
			return nil, s.GrantRole(env, roleArg(args[0]), args[1].(common.Address))
		}).
		On("revokeRole", func(env *chain.Env, args []interface{}) ([]interface{}, error) {
			return nil, s.RevokeRole(env, roleArg(args[0]), args[1].(common.Address))
		}).
		On("renounceRole", func(env *chain.Env, args []interface{}) ([]interface{}, error) {
			return nil, s.RenounceRole(env, roleArg(args[0]), args[1].(common.Address))
		}).
		On("DEFAULT_ADMIN_ROLE", func(*chain.Env, []interface{}) ([]interface{}, error) {
			return []interface{}{[32]byte(DefaultAdminRole)}, nil
		}).
		On("MINTER_ROLE", func(*chain.Env, []interface{}) ([]interface{}, error) {
			return []interface{}{[32]byte(MinterRole)}, nil
		})
}

func roleArg(arg interface{}) common.Hash {
	return common.Hash(arg.([32]byte))
}
