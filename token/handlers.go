package token

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ametist/accountbox/chain"
	"github.com/ametist/accountbox/mechanisms/evm"
)

func (t *Token) register() {
	ok := []interface{}{true}
	t.dispatch.
		On("name", func(*chain.Env, []interface{}) ([]interface{}, error) {
			return []interface{}{t.name}, nil
		}).
		On("symbol", func(*chain.Env, []interface{}) ([]interface{}, error) {
			return []interface{}{t.symbol}, nil
		}).
		On("decimals", func(*chain.Env, []interface{}) ([]interface{}, error) {
			return []interface{}{t.decimals}, nil
		}).
		On("totalSupply", func(*chain.Env, []interface{}) ([]interface{}, error) {
			return []interface{}{t.TotalSupply()}, nil
		}).
		On("DOMAIN_SEPARATOR", func(*chain.Env, []interface{}) ([]interface{}, error) {
			separator, err := t.DomainSeparator()
			if err != nil {
				return nil, err
			}
			return []interface{}{[32]byte(separator)}, nil
		}).
		On("balanceOf", func(_ *chain.Env, args []interface{}) ([]interface{}, error) {
			return []interface{}{t.BalanceOf(args[0].(common.Address))}, nil
		}).
		On("allowance", func(_ *chain.Env, args []interface{}) ([]interface{}, error) {
			return []interface{}{t.Allowance(args[0].(common.Address), args[1].(common.Address))}, nil
		}).
		On("transfer", func(env *chain.Env, args []interface{}) ([]interface{}, error) {
			return ok, t.Transfer(env, args[0].(common.Address), args[1].(*big.Int))
		}).
		On("approve", func(env *chain.Env, args []interface{}) ([]interface{}, error) {
			return ok, t.Approve(env, args[0].(common.Address), args[1].(*big.Int))
		}).
		On("transferFrom", func(env *chain.Env, args []interface{}) ([]interface{}, error) {
			return ok, t.TransferFrom(env, args[0].(common.Address), args[1].(common.Address), args[2].(*big.Int))
		}).
		On("mint", func(env *chain.Env, args []interface{}) ([]interface{}, error) {
			return nil, t.Mint(env, args[0].(common.Address), args[1].(*big.Int))
		}).
		On("permit", func(env *chain.Env, args []interface{}) ([]interface{}, error) {
			msg := evm.PermitMessage{
				Owner:    args[0].(common.Address),
				Spender:  args[1].(common.Address),
				Value:    args[2].(*big.Int),
				Deadline: args[3].(*big.Int),
			}
			return nil, t.Permit(env, msg, args[4].(uint8), args[5].([32]byte), args[6].([32]byte))
		}).
		On(evm.FunctionNonces, func(_ *chain.Env, args []interface{}) ([]interface{}, error) {
			return []interface{}{new(big.Int).SetUint64(t.nonces.Current(args[0].(common.Address)))}, nil
		}).
		On(evm.FunctionEIP712Domain, func(*chain.Env, []interface{}) ([]interface{}, error) {
			return []interface{}{
				[1]byte{0x0f},
				t.name,
				t.version,
				new(big.Int).Set(t.chainID),
				t.self,
				[32]byte{},
				[]*big.Int{},
			}, nil
		})
}
