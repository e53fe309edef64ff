package evm

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

// EIP1271MagicValue is returned by isValidSignature for a valid signature.
// It is bytes4(keccak256("isValidSignature(bytes32,bytes)")).
var EIP1271MagicValue = [4]byte{0x16, 0x26, 0xba, 0x7e}

// EIP1271InvalidValue is returned by isValidSignature for an invalid signature
var EIP1271InvalidValue = [4]byte{0xff, 0xff, 0xff, 0xff}

// VerifyEIP1271Signature asks the contract at wallet whether signature is valid for hash.
//
// Accounts answer through isValidSignature(bytes32,bytes): the signature is valid when the
// call returns EIP1271MagicValue. A failing call is an error, any other value is false.
func VerifyEIP1271Signature(
	ctx context.Context,
	reader ContractReader,
	wallet common.Address,
	hash [32]byte,
	signature []byte,
) (bool, error) {
	result, err := reader.ReadContract(ctx, wallet.Hex(), ERC1271ABI, FunctionIsValidSignature, hash, signature)
	if err != nil {
		return false, err
	}

	var magic [4]byte
	switch v := result.(type) {
	case [4]byte:
		magic = v
	case []byte:
		if len(v) < 4 {
			return false, errors.New("invalid return value from isValidSignature: too short")
		}
		copy(magic[:], v[:4])
	default:
		return false, errors.New("invalid return type from isValidSignature: expected bytes4")
	}
	return magic == EIP1271MagicValue, nil
}
