package evm

import (
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ametist/accountbox"
)

// SplitSignature splits a packed 65-byte signature into v, r and s. v is reported as 27/28.
func SplitSignature(signature []byte) (v uint8, r [32]byte, s [32]byte, err error) {
	if len(signature) != SignatureLength {
		return 0, r, s, &accountbox.InvalidSignatureError{Reason: "invalid signature length: expected 65 bytes"}
	}
	copy(r[:], signature[:32])
	copy(s[:], signature[32:64])
	v = signature[64]
	if v < 27 {
		v += 27
	}
	return v, r, s, nil
}

// JoinSignature packs v, r and s into r ‖ s ‖ v
func JoinSignature(v uint8, r [32]byte, s [32]byte) []byte {
	sig := make([]byte, SignatureLength)
	copy(sig[:32], r[:])
	copy(sig[32:64], s[:])
	sig[64] = v
	return sig
}

// SignatureKey identifies a signature independently of its v byte. Replays are tracked by this key.
func SignatureKey(signature []byte) [32]byte {
	if len(signature) < 64 {
		return crypto.Keccak256Hash(signature)
	}
	return crypto.Keccak256Hash(signature[:64])
}
