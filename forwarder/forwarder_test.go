package forwarder

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ametist/accountbox"
	"github.com/ametist/accountbox/chain"
	"github.com/ametist/accountbox/mechanisms/evm"
)

var recipientABI = evm.MustParseABI([]byte(`[
	{"inputs": [{"name": "forwarder", "type": "address"}], "name": "isTrustedForwarder", "outputs": [{"name": "", "type": "bool"}], "stateMutability": "view", "type": "function"},
	{"inputs": [], "name": "trustedForwarder", "outputs": [{"name": "", "type": "address"}], "stateMutability": "view", "type": "function"},
	{"inputs": [], "name": "record", "outputs": [], "stateMutability": "payable", "type": "function"},
	{"inputs": [], "name": "fail", "outputs": [], "stateMutability": "nonpayable", "type": "function"}
]`))

var errRecipient = errors.New("recipient failed")

// recipient records the apparent sender of each call it receives
type recipient struct {
	trusted  common.Address
	senders  []common.Address
	dispatch *chain.Dispatcher
}

func newRecipient(trusted common.Address) *recipient {
	r := &recipient{trusted: trusted}
	r.dispatch = chain.NewDispatcher(recipientABI).
		On("record", func(env *chain.Env, _ []interface{}) ([]interface{}, error) {
			chain.Push(env.Journal(), &r.senders, MsgSender(env, r.trusted))
			return nil, nil
		}).
		On("fail", func(env *chain.Env, _ []interface{}) ([]interface{}, error) {
			chain.Push(env.Journal(), &r.senders, MsgSender(env, r.trusted))
			return nil, errRecipient
		})
	RegisterTrust(r.dispatch, func() common.Address { return r.trusted })
	return r
}

func (r *recipient) Run(env *chain.Env) ([]byte, error) {
	return r.dispatch.Dispatch(env)
}

type fixture struct {
	chain     *chain.Chain
	forwarder *Forwarder
	relayer   common.Address
	key       *ecdsa.PrivateKey
	signer    common.Address
	target    common.Address
	untrusted common.Address
	recipient *recipient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	relayer := common.HexToAddress("0x7e1a7e1a7e1a7e1a7e1a7e1a7e1a7e1a7e1a7e1a")
	c := chain.New(chain.Config{
		ChainID: big.NewInt(1337),
		Alloc:   map[common.Address]*big.Int{relayer: big.NewInt(1_000_000_000)},
		Time:    time.Unix(1_700_000_000, 0),
	})

	fwd, err := Deploy(c, relayer, accountbox.DefaultForwarderName)
	require.NoError(t, err)

	rec := newRecipient(fwd.Address())
	target, _, err := c.Deploy(relayer, func(*chain.Env) (chain.Contract, error) { return rec, nil })
	require.NoError(t, err)
	untrusted, _, err := c.Deploy(relayer, func(*chain.Env) (chain.Contract, error) {
		return newRecipient(common.HexToAddress("0xdead")), nil
	})
	require.NoError(t, err)

	return &fixture{
		chain:     c,
		forwarder: fwd,
		relayer:   relayer,
		key:       key,
		signer:    crypto.PubkeyToAddress(key.PublicKey),
		target:    target,
		untrusted: untrusted,
		recipient: rec,
	}
}

func (f *fixture) request(t *testing.T, to common.Address, method string) evm.ForwardRequest {
	t.Helper()
	data, err := recipientABI.Pack(method)
	require.NoError(t, err)
	return evm.ForwardRequest{
		From:     f.signer,
		To:       to,
		Value:    big.NewInt(0),
		Gas:      big.NewInt(100_000),
		Deadline: big.NewInt(f.chain.Now().Add(time.Hour).Unix()),
		Data:     data,
	}
}

func (f *fixture) sign(t *testing.T, key *ecdsa.PrivateKey, req evm.ForwardRequest, nonce uint64) evm.ForwardRequestData {
	t.Helper()
	digest, err := evm.HashForwardRequest(f.forwarder.Domain(), req, new(big.Int).SetUint64(nonce))
	require.NoError(t, err)
	sig, err := crypto.Sign(digest, key)
	require.NoError(t, err)
	sig[64] += 27
	return req.WithSignature(sig)
}

func (f *fixture) execute(t *testing.T, req evm.ForwardRequestData, value *big.Int) (*types.Receipt, error) {
	t.Helper()
	data, err := forwarderABI.Pack(evm.FunctionExecute, req)
	require.NoError(t, err)
	receipt, _, err := f.chain.ApplyMessage(chain.Message{From: f.relayer, To: f.forwarder.Address(), Value: value, Data: data})
	return receipt, err
}

func executedEvent(t *testing.T, receipt *types.Receipt) (common.Address, uint64, bool) {
	t.Helper()
	ev := forwarderABI.Events[accountbox.EventExecutedForwardRequest]
	for _, l := range receipt.Logs {
		if l.Topics[0] != ev.ID {
			continue
		}
		values := map[string]interface{}{}
		require.NoError(t, forwarderABI.UnpackIntoMap(values, ev.Name, l.Data))
		return common.BytesToAddress(l.Topics[1].Bytes()), values["nonce"].(*big.Int).Uint64(), values["success"].(bool)
	}
	t.Fatal("ExecutedForwardRequest not emitted")
	return common.Address{}, 0, false
}

func TestExecute_RelaysAsSigner(t *testing.T) {
	f := newFixture(t)
	req := f.sign(t, f.key, f.request(t, f.target, "record"), 0)

	receipt, err := f.execute(t, req, nil)
	require.NoError(t, err)

	assert.Equal(t, []common.Address{f.signer}, f.recipient.senders)
	assert.Equal(t, uint64(1), f.forwarder.Nonces(f.signer))

	from, nonce, success := executedEvent(t, receipt)
	assert.Equal(t, f.signer, from)
	assert.Equal(t, uint64(0), nonce)
	assert.True(t, success)
}

func TestExecute_ReplayFailsInvalidNonce(t *testing.T) {
	f := newFixture(t)
	req := f.sign(t, f.key, f.request(t, f.target, "record"), 0)

	_, err := f.execute(t, req, nil)
	require.NoError(t, err)

	_, err = f.execute(t, req, nil)
	var invalid *accountbox.InvalidNonceError
	require.True(t, errors.As(err, &invalid), "got %v", err)
	assert.Equal(t, uint64(1), invalid.Current)
	assert.Equal(t, uint64(1), f.forwarder.Nonces(f.signer))
	assert.Len(t, f.recipient.senders, 1)
}

func TestExecute_ValidationFailures(t *testing.T) {
	other, _ := crypto.GenerateKey()

	tests := []struct {
		name  string
		build func(f *fixture) evm.ForwardRequestData
		check func(t *testing.T, f *fixture, err error)
	}{
		{
			name: "expired deadline",
			build: func(f *fixture) evm.ForwardRequestData {
				req := f.request(t, f.target, "record")
				req.Deadline = big.NewInt(f.chain.Now().Add(-time.Second).Unix())
				return f.sign(t, f.key, req, 0)
			},
			check: func(t *testing.T, f *fixture, err error) {
				var expired *accountbox.ExpiredRequestError
				require.True(t, errors.As(err, &expired), "got %v", err)
				assert.Equal(t, uint64(f.chain.Now().Add(-time.Second).Unix()), expired.Deadline)
			},
		},
		{
			name: "untrusted target",
			build: func(f *fixture) evm.ForwardRequestData {
				return f.sign(t, f.key, f.request(t, f.untrusted, "record"), 0)
			},
			check: func(t *testing.T, f *fixture, err error) {
				var untrusted *accountbox.UntrustedTargetError
				require.True(t, errors.As(err, &untrusted), "got %v", err)
				assert.Equal(t, f.untrusted, untrusted.Target)
				assert.Equal(t, f.forwarder.Address(), untrusted.Forwarder)
			},
		},
		{
			name: "target without code",
			build: func(f *fixture) evm.ForwardRequestData {
				return f.sign(t, f.key, f.request(t, common.HexToAddress("0xe0a"), "record"), 0)
			},
			check: func(t *testing.T, f *fixture, err error) {
				var untrusted *accountbox.UntrustedTargetError
				assert.True(t, errors.As(err, &untrusted), "got %v", err)
			},
		},
		{
			name: "signed by someone else",
			build: func(f *fixture) evm.ForwardRequestData {
				return f.sign(t, other, f.request(t, f.target, "record"), 0)
			},
			check: func(t *testing.T, f *fixture, err error) {
				var invalid *accountbox.InvalidSignerError
				require.True(t, errors.As(err, &invalid), "got %v", err)
				assert.Equal(t, crypto.PubkeyToAddress(other.PublicKey), invalid.Signer)
				assert.Equal(t, f.signer, invalid.Expected)
			},
		},
		{
			name: "signed with a future nonce",
			build: func(f *fixture) evm.ForwardRequestData {
				return f.sign(t, f.key, f.request(t, f.target, "record"), 3)
			},
			check: func(t *testing.T, f *fixture, err error) {
				var invalid *accountbox.InvalidSignerError
				assert.True(t, errors.As(err, &invalid), "got %v", err)
			},
		},
		{
			name: "malformed signature",
			build: func(f *fixture) evm.ForwardRequestData {
				return f.request(t, f.target, "record").WithSignature([]byte{0x01, 0x02})
			},
			check: func(t *testing.T, f *fixture, err error) {
				var invalid *accountbox.InvalidSignatureError
				assert.True(t, errors.As(err, &invalid), "got %v", err)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			receipt, err := f.execute(t, tt.build(f), nil)
			require.Error(t, err)
			tt.check(t, f, err)

			assert.Equal(t, types.ReceiptStatusFailed, receipt.Status)
			assert.Equal(t, uint64(0), f.forwarder.Nonces(f.signer), "nonce must not advance")
			assert.Empty(t, f.recipient.senders)
		})
	}
}

func TestExecute_FailedCallKeepsNonce(t *testing.T) {
	f := newFixture(t)
	req := f.sign(t, f.key, f.request(t, f.target, "fail"), 0)

	receipt, err := f.execute(t, req, nil)
	require.NoError(t, err)
	assert.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)

	_, nonce, success := executedEvent(t, receipt)
	assert.False(t, success)
	assert.Equal(t, uint64(0), nonce)
	assert.Equal(t, uint64(1), f.forwarder.Nonces(f.signer))
	assert.Empty(t, f.recipient.senders, "state of the failed call is reverted")
}

func TestExecute_MismatchedValue(t *testing.T) {
	f := newFixture(t)
	req := f.request(t, f.target, "record")
	req.Value = big.NewInt(10)
	signed := f.sign(t, f.key, req, 0)

	_, err := f.execute(t, signed, big.NewInt(5))
	var mismatched *accountbox.MismatchedValueError
	require.True(t, errors.As(err, &mismatched), "got %v", err)
	assert.Equal(t, int64(10), mismatched.Requested.Int64())
	assert.Equal(t, int64(5), mismatched.Sent.Int64())

	_, err = f.execute(t, signed, big.NewInt(10))
	require.NoError(t, err)
	balance, _ := f.chain.BalanceAt(context.Background(), f.target, nil)
	assert.Equal(t, int64(10), balance.Int64())
}

func TestExecute_InsufficientGas(t *testing.T) {
	f := newFixture(t)
	req := f.request(t, f.target, "record")
	req.Gas = big.NewInt(chain.DefaultGasLimit + 1)

	_, err := f.execute(t, f.sign(t, f.key, req, 0), nil)
	assert.ErrorIs(t, err, chain.ErrInsufficientGas)
	assert.Equal(t, uint64(0), f.forwarder.Nonces(f.signer))
}

func TestVerify(t *testing.T) {
	f := newFixture(t)
	signed := f.sign(t, f.key, f.request(t, f.target, "record"), 0)

	verify := func(req evm.ForwardRequestData) bool {
		data, err := forwarderABI.Pack(evm.FunctionVerify, req)
		require.NoError(t, err)
		to := f.forwarder.Address()
		out, err := f.chain.CallContract(context.Background(), ethereum.CallMsg{To: &to, Data: data}, nil)
		require.NoError(t, err)
		values, err := forwarderABI.Unpack(evm.FunctionVerify, out)
		require.NoError(t, err)
		return values[0].(bool)
	}

	assert.True(t, verify(signed))
	_, err := f.execute(t, signed, nil)
	require.NoError(t, err)
	assert.False(t, verify(signed), "consumed request no longer verifies")
}

func TestExecuteBatch(t *testing.T) {
	t.Run("atomic batch aborts on invalid request", func(t *testing.T) {
		f := newFixture(t)
		first := f.sign(t, f.key, f.request(t, f.target, "record"), 0)
		stale := f.sign(t, f.key, f.request(t, f.target, "fail"), 0)

		data, err := forwarderABI.Pack(evm.FunctionExecuteBatch, []evm.ForwardRequestData{first, stale}, common.Address{})
		require.NoError(t, err)
		_, _, err = f.chain.ApplyMessage(chain.Message{From: f.relayer, To: f.forwarder.Address(), Data: data})

		var invalid *accountbox.InvalidSignerError
		assert.True(t, errors.As(err, &invalid), "got %v", err)
		assert.Equal(t, uint64(0), f.forwarder.Nonces(f.signer))
		assert.Empty(t, f.recipient.senders)
	})

	t.Run("skips invalid requests and refunds their value", func(t *testing.T) {
		f := newFixture(t)
		refund := common.HexToAddress("0x4efd")

		good := f.request(t, f.target, "record")
		good.Value = big.NewInt(3)
		bad := f.request(t, f.untrusted, "record")
		bad.Value = big.NewInt(7)

		reqs := []evm.ForwardRequestData{f.sign(t, f.key, good, 0), f.sign(t, f.key, bad, 1)}
		data, err := forwarderABI.Pack(evm.FunctionExecuteBatch, reqs, refund)
		require.NoError(t, err)
		_, _, err = f.chain.ApplyMessage(chain.Message{From: f.relayer, To: f.forwarder.Address(), Value: big.NewInt(10), Data: data})
		require.NoError(t, err)

		assert.Equal(t, uint64(1), f.forwarder.Nonces(f.signer))
		assert.Len(t, f.recipient.senders, 1)
		balance, _ := f.chain.BalanceAt(context.Background(), refund, nil)
		assert.Equal(t, int64(7), balance.Int64())
	})
}

func TestEIP712Domain(t *testing.T) {
	f := newFixture(t)
	data, err := forwarderABI.Pack(evm.FunctionEIP712Domain)
	require.NoError(t, err)

	to := f.forwarder.Address()
	out, err := f.chain.CallContract(context.Background(), ethereum.CallMsg{To: &to, Data: data}, nil)
	require.NoError(t, err)
	values, err := forwarderABI.Unpack(evm.FunctionEIP712Domain, out)
	require.NoError(t, err)

	assert.Equal(t, accountbox.DefaultForwarderName, values[1])
	assert.Equal(t, accountbox.DefaultDomainVersion, values[2])
	assert.Equal(t, int64(1337), values[3].(*big.Int).Int64())
	assert.Equal(t, f.forwarder.Address(), values[4])
}

func TestMsgSender(t *testing.T) {
	fwd := common.HexToAddress("0xf0")
	signer := common.HexToAddress("0x5169e5")
	data := AppendSender([]byte{0xaa, 0xbb, 0xcc, 0xdd}, signer)
	require.Len(t, data, 4+SuffixLength)

	relayed := &chain.Env{Caller: fwd, Input: data}
	assert.Equal(t, signer, MsgSender(relayed, fwd))
	assert.Equal(t, []byte{0xaa, 0xbb, 0xcc, 0xdd}, MsgData(relayed, fwd))

	direct := &chain.Env{Caller: common.HexToAddress("0x0c"), Input: data}
	assert.Equal(t, direct.Caller, MsgSender(direct, fwd))
	assert.Equal(t, data, MsgData(direct, fwd))

	short := &chain.Env{Caller: fwd, Input: []byte{0x01}}
	assert.Equal(t, fwd, MsgSender(short, fwd))
}
