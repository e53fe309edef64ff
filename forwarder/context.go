package forwarder

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/ametist/accountbox/chain"
)

// SuffixLength is the length of the sender address the forwarder appends to relayed calldata
const SuffixLength = common.AddressLength

// MsgSender resolves the apparent caller of a frame. When the frame was entered by the trusted
// forwarder the last 20 bytes of calldata name the original signer; otherwise it is env.Caller.
func MsgSender(env *chain.Env, trusted common.Address) common.Address {
	if trusted != (common.Address{}) && env.Caller == trusted && len(env.Input) >= SuffixLength {
		return common.BytesToAddress(env.Input[len(env.Input)-SuffixLength:])
	}
	return env.Caller
}

// MsgData returns the calldata without the forwarding suffix
func MsgData(env *chain.Env, trusted common.Address) []byte {
	if trusted != (common.Address{}) && env.Caller == trusted && len(env.Input) >= SuffixLength {
		return env.Input[:len(env.Input)-SuffixLength]
	}
	return env.Input
}

// AppendSender builds relayed calldata: data ‖ from
func AppendSender(data []byte, from common.Address) []byte {
	out := make([]byte, 0, len(data)+SuffixLength)
	out = append(out, data...)
	return append(out, from.Bytes()...)
}

// RegisterTrust serves isTrustedForwarder and trustedForwarder on d. trusted is resolved on each
// call so clones can read it from their template.
func RegisterTrust(d *chain.Dispatcher, trusted func() common.Address) {
	d.On("isTrustedForwarder", func(env *chain.Env, args []interface{}) ([]interface{}, error) {
		candidate := args[0].(common.Address)
		return []interface{}{candidate != (common.Address{}) && candidate == trusted()}, nil
	})
	d.On("trustedForwarder", func(env *chain.Env, args []interface{}) ([]interface{}, error) {
		return []interface{}{trusted()}, nil
	})
}
