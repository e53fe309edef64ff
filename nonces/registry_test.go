package nonces

import (
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ametist/accountbox"
	"github.com/ametist/accountbox/chain"
)

var (
	alice = common.HexToAddress("0xa11ce")
	bob   = common.HexToAddress("0xb0b")
)

func TestRegistry_Consume(t *testing.T) {
	r := New()
	assert.Equal(t, uint64(0), r.Current(alice))

	got, err := r.Consume(nil, alice, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), got)
	assert.Equal(t, uint64(1), r.Current(alice))
	assert.Equal(t, uint64(0), r.Current(bob))

	_, err = r.Consume(nil, alice, 0)
	var invalid *accountbox.InvalidNonceError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, alice, invalid.Account)
	assert.Equal(t, uint64(1), invalid.Current)

	_, err = r.Consume(nil, alice, 5)
	assert.True(t, errors.As(err, &invalid))
	assert.Equal(t, uint64(1), r.Current(alice))
}

func TestRegistry_JournalRevert(t *testing.T) {
	r := New()
	j := chain.NewJournal()

	_, err := r.Consume(j, alice, 0)
	require.NoError(t, err)
	_, err = r.ConsumeSigned(j, alice, []byte("sig-one"), func(uint64) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, uint64(2), r.Current(alice))
	assert.True(t, r.Spent([]byte("sig-one")))

	j.RevertTo(0)
	assert.Equal(t, uint64(0), r.Current(alice))
	assert.False(t, r.Spent([]byte("sig-one")))
}

func TestRegistry_ConsumeWithFailedCheck(t *testing.T) {
	r := New()
	errCheck := errors.New("check failed")

	_, err := r.ConsumeWith(nil, alice, func(current uint64) error {
		assert.Equal(t, uint64(0), current)
		return errCheck
	})
	assert.ErrorIs(t, err, errCheck)
	assert.Equal(t, uint64(0), r.Current(alice))
}

func TestRegistry_ConsumeSignedReplay(t *testing.T) {
	r := New()
	sig := make([]byte, 65)
	sig[0] = 1

	_, err := r.ConsumeSigned(nil, alice, sig, func(uint64) error { return nil })
	require.NoError(t, err)

	checked := false
	_, err = r.ConsumeSigned(nil, alice, sig, func(uint64) error {
		checked = true
		return nil
	})
	var invalid *accountbox.InvalidNonceError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, uint64(1), invalid.Current)
	assert.False(t, checked, "check must not run for a spent signature")

	twin := append([]byte{}, sig...)
	twin[64] = 28
	assert.True(t, r.Spent(twin), "v byte does not change the signature key")
}

func TestRegistry_ConcurrentSameSigner(t *testing.T) {
	r := New()
	var wins atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Consume(nil, alice, 0); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, uint64(1), r.Current(alice))
}

func TestRegistry_ConcurrentSigners(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	signers := make([]common.Address, 16)
	for i := range signers {
		signers[i] = common.BigToAddress(big.NewInt(int64(i + 1)))
	}

	for _, s := range signers {
		wg.Add(1)
		go func(signer common.Address) {
			defer wg.Done()
			for n := uint64(0); n < 10; n++ {
				_, err := r.Consume(nil, signer, n)
				assert.NoError(t, err)
			}
		}(s)
	}
	wg.Wait()

	for _, s := range signers {
		assert.Equal(t, uint64(10), r.Current(s))
	}
}
