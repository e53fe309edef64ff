package account

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ametist/accountbox"
	"github.com/ametist/accountbox/chain"
	"github.com/ametist/accountbox/forwarder"
	"github.com/ametist/accountbox/mechanisms/evm"
)

var forwarderABI = evm.MustParseABI(evm.ForwarderABI)

type fixture struct {
	chain     *chain.Chain
	forwarder *forwarder.Forwarder
	template  common.Address
	relayer   common.Address
	ownerKey  *ecdsa.PrivateKey
	owner     common.Address
	account   common.Address
	id        uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ownerKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	owner := crypto.PubkeyToAddress(ownerKey.PublicKey)
	relayer := common.HexToAddress("0x7e1a")

	c := chain.New(chain.Config{
		ChainID: big.NewInt(1337),
		Time:    time.Unix(1_700_000_000, 0),
		Alloc: map[common.Address]*big.Int{
			relayer: big.NewInt(5_000_000),
			owner:   big.NewInt(5_000_000),
		},
	})

	fwd, err := forwarder.Deploy(c, relayer, accountbox.DefaultForwarderName)
	require.NoError(t, err)
	template, _, err := c.Deploy(relayer, NewLogic(fwd.Address()).Template())
	require.NoError(t, err)
	addr, _, err := c.Deploy(relayer, Clone(template))
	require.NoError(t, err)

	id := uuid.New()
	f := &fixture{
		chain:     c,
		forwarder: fwd,
		template:  template,
		relayer:   relayer,
		ownerKey:  ownerKey,
		owner:     owner,
		account:   addr,
		id:        id,
	}
	_, err = f.send(t, relayer, big.NewInt(0), "initialize", owner, [16]byte(id))
	require.NoError(t, err)
	return f
}

func (f *fixture) send(t *testing.T, from common.Address, value *big.Int, method string, args ...interface{}) ([]byte, error) {
	t.Helper()
	data, err := accountABI.Pack(method, args...)
	require.NoError(t, err)
	_, out, err := f.chain.ApplyMessage(chain.Message{From: from, To: f.account, Value: value, Data: data})
	return out, err
}

func (f *fixture) read(t *testing.T, method string, args ...interface{}) interface{} {
	t.Helper()
	data, err := accountABI.Pack(method, args...)
	require.NoError(t, err)
	out, err := f.chain.CallContract(context.Background(), ethereum.CallMsg{To: &f.account, Data: data}, nil)
	require.NoError(t, err)
	values, err := accountABI.Unpack(method, out)
	require.NoError(t, err)
	return values[0]
}

func (f *fixture) balance(t *testing.T, addr common.Address) int64 {
	t.Helper()
	b, err := f.chain.BalanceAt(context.Background(), addr, nil)
	require.NoError(t, err)
	return b.Int64()
}

func TestClone_Views(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, f.owner, f.read(t, "owner"))
	assert.Equal(t, [16]byte(f.id), f.read(t, "accountID"))
	assert.Equal(t, f.forwarder.Address(), f.read(t, "trustedForwarder"))
	assert.Equal(t, true, f.read(t, "isTrustedForwarder", f.forwarder.Address()))
	assert.Equal(t, false, f.read(t, "isTrustedForwarder", f.relayer))

	code, err := f.chain.CodeAt(context.Background(), f.account, nil)
	require.NoError(t, err)
	template, ok := CloneTemplate(code)
	require.True(t, ok)
	assert.Equal(t, f.template, template)
}

func TestClone_InitializeOnce(t *testing.T) {
	f := newFixture(t)
	_, err := f.send(t, f.relayer, big.NewInt(0), "initialize", f.relayer, [16]byte(uuid.New()))
	assert.ErrorIs(t, err, accountbox.ErrAlreadyInitialized)
	assert.Equal(t, f.owner, f.read(t, "owner"))
}

func TestDeposit(t *testing.T) {
	f := newFixture(t)

	_, err := f.send(t, f.owner, big.NewInt(1_000_000), "deposit")
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), f.balance(t, f.account))

	_, _, err = f.chain.ApplyMessage(chain.Message{From: f.relayer, To: f.account, Value: big.NewInt(5)})
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_005), f.balance(t, f.account))
}

func TestWithdraw(t *testing.T) {
	recipient := common.HexToAddress("0x4ec1")
	stranger := common.HexToAddress("0x5e")

	t.Run("owner withdraws", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.send(t, f.owner, big.NewInt(1_000), "deposit")
		require.NoError(t, err)

		_, err = f.send(t, f.owner, big.NewInt(0), "withdraw", recipient, big.NewInt(400))
		require.NoError(t, err)
		assert.Equal(t, int64(600), f.balance(t, f.account))
		assert.Equal(t, int64(400), f.balance(t, recipient))
	})

	t.Run("stranger is unauthorized", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.send(t, f.owner, big.NewInt(1_000), "deposit")
		require.NoError(t, err)

		_, err = f.send(t, stranger, big.NewInt(0), "withdraw", stranger, big.NewInt(1))
		var unauthorized *accountbox.UnauthorizedAccountError
		require.True(t, errors.As(err, &unauthorized), "got %v", err)
		assert.Equal(t, stranger, unauthorized.Caller)
		assert.Equal(t, int64(1_000), f.balance(t, f.account))
	})

	t.Run("amount above balance", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.send(t, f.owner, big.NewInt(1_000), "deposit")
		require.NoError(t, err)

		_, err = f.send(t, f.owner, big.NewInt(0), "withdraw", recipient, big.NewInt(1_001))
		var insufficient *accountbox.InsufficientFundsError
		require.True(t, errors.As(err, &insufficient), "got %v", err)
		assert.Equal(t, int64(1_001), insufficient.Amount.Int64())
		assert.Equal(t, int64(1_000), insufficient.Balance.Int64())
		assert.Equal(t, int64(1_000), f.balance(t, f.account))
		assert.Zero(t, f.balance(t, recipient))
	})

	t.Run("relayed by the trusted forwarder", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.send(t, f.owner, big.NewInt(1_000_000), "deposit")
		require.NoError(t, err)
		relayerBefore := f.balance(t, f.relayer)

		data, err := accountABI.Pack("withdraw", recipient, big.NewInt(500_000))
		require.NoError(t, err)
		req := evm.ForwardRequest{
			From:     f.owner,
			To:       f.account,
			Value:    big.NewInt(0),
			Gas:      big.NewInt(1_000_000),
			Deadline: big.NewInt(f.chain.Now().Add(time.Hour).Unix()),
			Data:     data,
		}
		digest, err := evm.HashForwardRequest(f.forwarder.Domain(), req, big.NewInt(0))
		require.NoError(t, err)
		sig, err := crypto.Sign(digest, f.ownerKey)
		require.NoError(t, err)

		input, err := forwarderABI.Pack(evm.FunctionExecute, req.WithSignature(sig))
		require.NoError(t, err)
		_, _, err = f.chain.ApplyMessage(chain.Message{From: f.relayer, To: f.forwarder.Address(), Data: input})
		require.NoError(t, err)

		assert.Equal(t, int64(500_000), f.balance(t, f.account))
		assert.Equal(t, int64(500_000), f.balance(t, recipient))
		assert.Equal(t, relayerBefore, f.balance(t, f.relayer))
	})

	t.Run("suffix from an untrusted caller is ignored", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.send(t, f.owner, big.NewInt(1_000), "deposit")
		require.NoError(t, err)

		_, _, err = f.chain.ApplyMessage(chain.Message{From: f.relayer, To: f.account, Data: func() []byte {
			data, _ := accountABI.Pack("withdraw", recipient, big.NewInt(1))
			return forwarder.AppendSender(data, stranger)
		}()})
		var unauthorized *accountbox.UnauthorizedAccountError
		require.True(t, errors.As(err, &unauthorized), "got %v", err)
		assert.Equal(t, f.relayer, unauthorized.Caller)
	})
}

func TestStandalone(t *testing.T) {
	deployer := common.HexToAddress("0xde91")
	fwd := common.HexToAddress("0xf0")
	c := chain.New(chain.Config{Alloc: map[common.Address]*big.Int{deployer: big.NewInt(100)}})
	id := uuid.New()

	addr, _, err := c.Deploy(deployer, Standalone(id, fwd))
	require.NoError(t, err)

	in, ok := c.ContractAt(addr).(*Instance)
	require.True(t, ok)
	assert.Equal(t, deployer, in.Owner())
	assert.Equal(t, id, in.ID())
	assert.Equal(t, common.Address{}, in.Template())

	data, _ := accountABI.Pack("trustedForwarder")
	out, err := c.CallContract(context.Background(), ethereum.CallMsg{To: &addr, Data: data}, nil)
	require.NoError(t, err)
	assert.Equal(t, fwd, common.BytesToAddress(out))
}

func TestTemplate_DirectCall(t *testing.T) {
	f := newFixture(t)
	data, _ := accountABI.Pack("withdraw", f.owner, big.NewInt(1))
	_, _, err := f.chain.ApplyMessage(chain.Message{From: f.owner, To: f.template, Data: data})
	assert.ErrorIs(t, err, accountbox.ErrDirectCall)

	_, err = f.chain.CallContract(context.Background(), ethereum.CallMsg{To: &f.template, Data: func() []byte {
		d, _ := accountABI.Pack("trustedForwarder")
		return d
	}()}, nil)
	assert.NoError(t, err)
}

func TestIsValidSignature(t *testing.T) {
	f := newFixture(t)
	var hash [32]byte
	copy(hash[:], crypto.Keccak256([]byte("order #1")))

	sign := func(key *ecdsa.PrivateKey) []byte {
		sig, err := crypto.Sign(hash[:], key)
		require.NoError(t, err)
		sig[64] += 27
		return sig
	}
	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	tests := []struct {
		name      string
		signature []byte
		want      [4]byte
	}{
		{"owner", sign(f.ownerKey), evm.EIP1271MagicValue},
		{"other key", sign(otherKey), evm.EIP1271InvalidValue},
		{"truncated", sign(f.ownerKey)[:64], evm.EIP1271InvalidValue},
		{"empty", []byte{}, evm.EIP1271InvalidValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.read(t, evm.FunctionIsValidSignature, hash, tt.signature))
		})
	}
}
