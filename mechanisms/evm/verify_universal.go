package evm

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// SignerKind tells how a signature was checked
type SignerKind string

const (
	SignerKindEOA      SignerKind = "eoa"
	SignerKindContract SignerKind = "eip1271"
)

// VerifySignature checks that signer produced signature over hash, whether signer is an
// externally owned account or a contract such as an account instance.
//
// Addresses without code are checked by ECDSA recovery. Addresses with code are asked
// through EIP-1271, which lets an account vouch for signatures made by its owner.
func VerifySignature(
	ctx context.Context,
	reader SignatureReader,
	signer common.Address,
	hash [32]byte,
	signature []byte,
) (bool, SignerKind, error) {
	code, err := reader.GetCode(ctx, signer.Hex())
	if err != nil {
		return false, "", err
	}

	if len(code) == 0 {
		valid, err := VerifyEOASignature(hash[:], signature, signer)
		return valid, SignerKindEOA, err
	}

	valid, err := VerifyEIP1271Signature(ctx, reader, signer, hash, signature)
	return valid, SignerKindContract, err
}
