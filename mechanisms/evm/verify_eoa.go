package evm

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ametist/accountbox"
)

// RecoverSigner recovers the address that produced a packed r ‖ s ‖ v signature over hash.
//
// Only canonical signatures are accepted: v must be 27/28 (or 0/1), r and s must lie in
// (0, n) and s must be in the lower half of the curve order. Anything else fails with
// *accountbox.InvalidSignatureError so a malleated copy can never recover to a signer.
func RecoverSigner(hash []byte, signature []byte) (common.Address, error) {
	if len(hash) != 32 {
		return common.Address{}, &accountbox.InvalidSignatureError{Reason: "digest must be 32 bytes"}
	}
	if len(signature) != SignatureLength {
		return common.Address{}, &accountbox.InvalidSignatureError{Reason: "invalid signature length: expected 65 bytes"}
	}

	// Create a copy to avoid modifying the original signature
	sig := make([]byte, SignatureLength)
	copy(sig, signature)

	// Ethereum uses v = 27 or 28, but crypto.SigToPub expects v = 0 or 1
	v := sig[64]
	if v >= 27 {
		v -= 27
	}
	if v > 1 {
		return common.Address{}, &accountbox.InvalidSignatureError{Reason: "invalid recovery id"}
	}
	sig[64] = v

	r := new(big.Int).SetBytes(sig[:32])
	s := new(big.Int).SetBytes(sig[32:64])
	if !crypto.ValidateSignatureValues(v, r, s, true) {
		return common.Address{}, &accountbox.InvalidSignatureError{Reason: "non-canonical signature values"}
	}

	pubKey, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return common.Address{}, &accountbox.InvalidSignatureError{Reason: err.Error()}
	}
	return crypto.PubkeyToAddress(*pubKey), nil
}

// VerifyEOASignature verifies an ECDSA signature from an externally owned account (EOA)
//
// Returns true if the signature is canonical and recovers to the expected address.
// A malformed signature is reported as an error rather than a false result.
func VerifyEOASignature(
	hash []byte,
	signature []byte,
	expectedAddress common.Address,
) (bool, error) {
	recovered, err := RecoverSigner(hash, signature)
	if err != nil {
		return false, err
	}
	return recovered == expectedAddress, nil
}
