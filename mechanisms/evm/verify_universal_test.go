package evm

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySignature(t *testing.T) {
	ctx := context.Background()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := crypto.PubkeyToAddress(key.PublicKey)

	var hash [32]byte
	copy(hash[:], crypto.Keccak256([]byte("hello")))
	signature, err := crypto.Sign(hash[:], key)
	require.NoError(t, err)
	signature[64] += 27

	t.Run("EOA", func(t *testing.T) {
		valid, kind, err := VerifySignature(ctx, &mockReader{}, signer, hash, signature)
		require.NoError(t, err)
		assert.True(t, valid)
		assert.Equal(t, SignerKindEOA, kind)
	})

	t.Run("EOA wrong address", func(t *testing.T) {
		valid, kind, err := VerifySignature(ctx, &mockReader{}, common.HexToAddress("0xbeef"), hash, signature)
		require.NoError(t, err)
		assert.False(t, valid)
		assert.Equal(t, SignerKindEOA, kind)
	})

	t.Run("EOA malformed signature", func(t *testing.T) {
		_, _, err := VerifySignature(ctx, &mockReader{}, signer, hash, signature[:64])
		assert.Error(t, err)
	})

	t.Run("contract", func(t *testing.T) {
		mock := &mockReader{getCodeResult: []byte{0xfe}, readContractResult: EIP1271MagicValue}
		valid, kind, err := VerifySignature(ctx, mock, common.HexToAddress("0xacc0"), hash, signature)
		require.NoError(t, err)
		assert.True(t, valid)
		assert.Equal(t, SignerKindContract, kind)
		assert.Equal(t, FunctionIsValidSignature, mock.lastMethod)
	})

	t.Run("contract rejects", func(t *testing.T) {
		mock := &mockReader{getCodeResult: []byte{0xfe}, readContractResult: EIP1271InvalidValue}
		valid, _, err := VerifySignature(ctx, mock, common.HexToAddress("0xacc0"), hash, signature)
		require.NoError(t, err)
		assert.False(t, valid)
	})

	t.Run("getCode fails", func(t *testing.T) {
		mock := &mockReader{getCodeError: errors.New("connection refused")}
		_, _, err := VerifySignature(ctx, mock, signer, hash, signature)
		assert.ErrorContains(t, err, "connection refused")
	})
}
