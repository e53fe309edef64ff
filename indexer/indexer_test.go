package indexer

import (
	"context"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ametist/accountbox"
	"github.com/ametist/accountbox/chain"
	"github.com/ametist/accountbox/factory"
	"github.com/ametist/accountbox/forwarder"
	"github.com/ametist/accountbox/token"
)

var (
	deployer = common.HexToAddress("0xde91")
	alice    = common.HexToAddress("0xa11ce")
	bob      = common.HexToAddress("0xb0b")
)

type fixture struct {
	chain   *chain.Chain
	repo    *MemoryRepository
	indexer *Indexer
	cfg     Config
	reg     *prometheus.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := chain.New(chain.Config{ChainID: big.NewInt(1337), Time: time.Unix(1_700_000_000, 0)})

	fwd, err := forwarder.Deploy(c, deployer, accountbox.DefaultForwarderName)
	require.NoError(t, err)
	d, err := factory.DeployUpgradeable(c, deployer, fwd.Address(), deployer)
	require.NoError(t, err)
	_, err = factory.UpgradeToV2(c, deployer, deployer, d.Handle)
	require.NoError(t, err)
	tok, err := token.Deploy(c, deployer, accountbox.DefaultTokenName, accountbox.DefaultTokenSymbol)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	cfg := Config{
		Factory:    d.Handle,
		Forwarder:  fwd.Address(),
		Token:      tok.Address(),
		Registerer: reg,
	}
	repo := NewMemoryRepository()
	return &fixture{chain: c, repo: repo, indexer: New(c, repo, cfg), cfg: cfg, reg: reg}
}

func (f *fixture) send(t *testing.T, from, to common.Address, data []byte) *types.Receipt {
	t.Helper()
	receipt, _, err := f.chain.ApplyMessage(chain.Message{From: from, To: to, Data: data})
	require.NoError(t, err)
	require.Equal(t, types.ReceiptStatusSuccessful, receipt.Status)
	return receipt
}

func (f *fixture) createClone(t *testing.T, owner common.Address) *types.Receipt {
	t.Helper()
	data, err := factoryABI.Pack("createClone")
	require.NoError(t, err)
	return f.send(t, owner, f.cfg.Factory, data)
}

func (f *fixture) approve(t *testing.T, owner, spender common.Address, value int64) *types.Receipt {
	t.Helper()
	data, err := tokenABI.Pack("approve", spender, big.NewInt(value))
	require.NoError(t, err)
	return f.send(t, owner, f.cfg.Token, data)
}

// counter sums the samples of a counter family
func (f *fixture) counter(t *testing.T, name string) float64 {
	t.Helper()
	families, err := f.reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, m := range family.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func findLog(t *testing.T, receipt *types.Receipt, id common.Hash) types.Log {
	t.Helper()
	for _, l := range receipt.Logs {
		if l.Topics[0] == id {
			return *l
		}
	}
	t.Fatalf("log %s not found", id)
	return types.Log{}
}

func TestDecode_AccountCreated(t *testing.T) {
	f := newFixture(t)
	receipt := f.createClone(t, alice)
	l := findLog(t, receipt, factoryABI.Events[accountbox.EventAccountCreated].ID)

	record, err := Decode(l)
	require.NoError(t, err)
	e, ok := record.(*AccountCreated)
	require.True(t, ok)

	assert.Equal(t, f.cfg.Factory, e.Factory)
	assert.Equal(t, alice, e.Owner)
	assert.NotEqual(t, uuid.Nil, e.ID)
	assert.NotEqual(t, common.Address{}, e.Account)
	assert.Equal(t, receipt.TxHash, e.TxHash)
	assert.Equal(t, l.Index, e.LogIndex)
}

func TestDecode_ForwardedRequest(t *testing.T) {
	ev := forwarderABI.Events[accountbox.EventExecutedForwardRequest]
	data, err := ev.Inputs.NonIndexed().Pack(big.NewInt(7), true)
	require.NoError(t, err)

	fwd := common.HexToAddress("0xf0f0")
	record, err := Decode(types.Log{
		Address:     fwd,
		Topics:      []common.Hash{ev.ID, common.BytesToHash(alice.Bytes())},
		Data:        data,
		BlockNumber: 3,
		Index:       1,
	})
	require.NoError(t, err)
	assert.Equal(t, &ForwardedRequest{
		Position:  Position{BlockNumber: 3, LogIndex: 1},
		Forwarder: fwd,
		Signer:    alice,
		Nonce:     7,
		Success:   true,
	}, record)
}

func TestDecode_Approval(t *testing.T) {
	f := newFixture(t)
	receipt := f.approve(t, alice, bob, 250)

	record, err := Decode(findLog(t, receipt, tokenABI.Events[accountbox.EventApproval].ID))
	require.NoError(t, err)
	e := record.(*Approval)
	assert.Equal(t, alice, e.Owner)
	assert.Equal(t, bob, e.Spender)
	assert.Equal(t, int64(250), e.Value.Int64())
}

func TestDecode_Rejects(t *testing.T) {
	_, err := Decode(types.Log{})
	assert.ErrorIs(t, err, errUnknownEvent)

	_, err = Decode(types.Log{Topics: []common.Hash{common.HexToHash("0x01")}})
	assert.ErrorIs(t, err, errUnknownEvent)

	// truncated data
	ev := tokenABI.Events[accountbox.EventApproval]
	_, err = Decode(types.Log{Topics: []common.Hash{ev.ID, {}, {}}, Data: []byte{1}})
	assert.Error(t, err)
}

func TestIndexer_Handle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	receipt := f.createClone(t, alice)
	l := findLog(t, receipt, factoryABI.Events[accountbox.EventAccountCreated].ID)

	f.indexer.Handle(ctx, l)
	f.indexer.Handle(ctx, l)

	accounts, err := f.repo.ListAccounts(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, accounts, 1)

	t.Run("other contract", func(t *testing.T) {
		other := l
		other.Address = common.HexToAddress("0xbad")
		other.Index = 9
		f.indexer.Handle(ctx, other)

		accounts, err := f.repo.ListAccounts(ctx, alice)
		require.NoError(t, err)
		assert.Len(t, accounts, 1)
	})

	t.Run("removed", func(t *testing.T) {
		removed := f.createClone(t, alice)
		l := findLog(t, removed, factoryABI.Events[accountbox.EventAccountCreated].ID)
		l.Removed = true
		f.indexer.Handle(ctx, l)

		accounts, err := f.repo.ListAccounts(ctx, alice)
		require.NoError(t, err)
		assert.Len(t, accounts, 1)
	})

	t.Run("undecodable", func(t *testing.T) {
		broken := l
		broken.Data = nil
		f.indexer.Handle(ctx, broken)
		assert.Equal(t, float64(1), f.counter(t, "indexer_errors_total"))
	})
}

func TestIndexer_Run(t *testing.T) {
	f := newFixture(t)
	f.createClone(t, alice)
	f.approve(t, alice, bob, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.indexer.Run(ctx) }()

	require.Eventually(t, func() bool {
		accounts, _ := f.repo.ListAccounts(ctx, alice)
		return len(accounts) == 1
	}, 2*time.Second, 10*time.Millisecond, "backfill")

	f.createClone(t, alice)
	f.createClone(t, bob)
	f.approve(t, alice, bob, 20)

	require.Eventually(t, func() bool {
		accounts, _ := f.repo.ListAccounts(ctx, alice)
		approvals, _ := f.repo.ListApprovals(ctx, alice)
		return len(accounts) == 2 && len(approvals) == 2
	}, 2*time.Second, 10*time.Millisecond, "live")

	accounts, err := f.repo.ListAccounts(ctx, alice)
	require.NoError(t, err)
	assert.Less(t, accounts[0].BlockNumber, accounts[1].BlockNumber)
	assert.NotEqual(t, accounts[0].ID, accounts[1].ID)

	approvals, err := f.repo.ListApprovals(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(10), approvals[0].Value.Int64())
	assert.Equal(t, int64(20), approvals[1].Value.Int64())

	bobs, err := f.repo.ListAccounts(ctx, bob)
	require.NoError(t, err)
	assert.Len(t, bobs, 1)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("indexer did not stop")
	}
}

func TestMemoryRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	second := &ForwardedRequest{Position: Position{BlockNumber: 2}, Signer: alice, Nonce: 1, Success: true}
	first := &ForwardedRequest{Position: Position{BlockNumber: 1, LogIndex: 4}, Signer: alice, Nonce: 0}
	for _, e := range []*ForwardedRequest{second, first, second} {
		require.NoError(t, repo.SaveForwardedRequest(ctx, e))
	}
	require.NoError(t, repo.SaveForwardedRequest(ctx, &ForwardedRequest{Position: Position{BlockNumber: 1}, Signer: bob}))

	got, err := repo.ListForwardedRequests(ctx, alice)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(0), got[0].Nonce)
	assert.Equal(t, uint64(1), got[1].Nonce)

	none, err := repo.ListApprovals(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, none)
	assert.NoError(t, repo.Ping(ctx))
}

func TestPostgresRepository(t *testing.T) {
	url := os.Getenv("ACCOUNTBOX_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("ACCOUNTBOX_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	repo, err := NewPostgresRepository(ctx, url)
	require.NoError(t, err)
	defer repo.Close()
	require.NoError(t, repo.Ping(ctx))

	salt := uuid.New()
	owner := common.BytesToAddress(salt[:])
	pos := Position{BlockNumber: 5, TxHash: common.BytesToHash(salt[:]), LogIndex: 2}
	created := &AccountCreated{Position: pos, Factory: deployer, Owner: owner, ID: uuid.New(), Account: bob}
	require.NoError(t, repo.SaveAccountCreated(ctx, created))
	require.NoError(t, repo.SaveAccountCreated(ctx, created))

	accounts, err := repo.ListAccounts(ctx, owner)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, *created, accounts[0])

	approval := &Approval{Position: pos, Token: deployer, Owner: owner, Spender: bob, Value: big.NewInt(99)}
	require.NoError(t, repo.SaveApproval(ctx, approval))
	approvals, err := repo.ListApprovals(ctx, owner)
	require.NoError(t, err)
	require.Len(t, approvals, 1)
	assert.Equal(t, int64(99), approvals[0].Value.Int64())
}
