// Package indexer follows the logs of the deployed contracts and persists the account,
// forwarding and approval events through a Repository.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ametist/accountbox"
	"github.com/ametist/accountbox/mechanisms/evm"
)

var (
	factoryABI   = evm.MustParseABI(evm.FactoryABI)
	forwarderABI = evm.MustParseABI(evm.ForwarderABI)
	tokenABI     = evm.MustParseABI(evm.TokenABI)
)

// errUnknownEvent is returned by Decode for logs the indexer does not store
var errUnknownEvent = errors.New("unknown event")

// LogSource streams contract logs. *ethclient.Client and *chain.Chain satisfy it.
type LogSource interface {
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// Config selects the contracts to follow
type Config struct {
	Factory   common.Address
	Forwarder common.Address
	Token     common.Address

	// Registerer receives the indexer metrics when set
	Registerer prometheus.Registerer
}

// Indexer decodes and stores the events of one deployment
type Indexer struct {
	cfg    Config
	source LogSource
	repo   Repository

	saved  *prometheus.CounterVec
	errors prometheus.Counter
}

// New creates an indexer reading from source and writing to repo
func New(source LogSource, repo Repository, cfg Config) *Indexer {
	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &Indexer{
		cfg:    cfg,
		source: source,
		repo:   repo,
		saved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_events_saved_total",
			Help: "Total number of events saved by type",
		}, []string{"event_type"}),
		errors: factory.NewCounter(prometheus.CounterOpts{
			Name: "indexer_errors_total",
			Help: "Total number of logs that could not be stored",
		}),
	}
}

func (ix *Indexer) query() ethereum.FilterQuery {
	return ethereum.FilterQuery{
		Addresses: []common.Address{ix.cfg.Factory, ix.cfg.Forwarder, ix.cfg.Token},
		Topics: [][]common.Hash{{
			factoryABI.Events[accountbox.EventAccountCreated].ID,
			forwarderABI.Events[accountbox.EventExecutedForwardRequest].ID,
			tokenABI.Events[accountbox.EventApproval].ID,
		}},
	}
}

// Run subscribes to new logs, stores every past log, then follows the subscription until
// ctx is cancelled. Logs seen twice are stored once.
func (ix *Indexer) Run(ctx context.Context) error {
	q := ix.query()
	ch := make(chan types.Log, 128)
	sub, err := ix.source.SubscribeFilterLogs(ctx, q, ch)
	if err != nil {
		return fmt.Errorf("failed to subscribe to logs: %w", err)
	}
	defer sub.Unsubscribe()

	past, err := ix.source.FilterLogs(ctx, q)
	if err != nil {
		return fmt.Errorf("failed to backfill logs: %w", err)
	}
	for _, l := range past {
		ix.Handle(ctx, l)
	}
	log.Info("Indexer backfilled", "logs", len(past))

	for {
		select {
		case l := <-ch:
			ix.Handle(ctx, l)
		case err := <-sub.Err():
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("log subscription failed: %w", err)
			}
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

// Handle decodes and stores one log. Failures are logged and counted; they never stop the
// indexer.
func (ix *Indexer) Handle(ctx context.Context, l types.Log) {
	if l.Removed {
		return
	}
	record, err := Decode(l)
	if errors.Is(err, errUnknownEvent) {
		return
	}
	if err == nil {
		err = ix.save(ctx, record)
	}
	if err != nil {
		ix.errors.Inc()
		log.Warn("Failed to index log", "tx", l.TxHash, "index", l.Index, "err", err)
	}
}

func (ix *Indexer) save(ctx context.Context, record interface{}) error {
	var (
		kind string
		err  error
	)
	switch e := record.(type) {
	case *AccountCreated:
		if e.Factory != ix.cfg.Factory {
			return nil
		}
		kind, err = accountbox.EventAccountCreated, ix.repo.SaveAccountCreated(ctx, e)
	case *ForwardedRequest:
		if e.Forwarder != ix.cfg.Forwarder {
			return nil
		}
		kind, err = accountbox.EventExecutedForwardRequest, ix.repo.SaveForwardedRequest(ctx, e)
	case *Approval:
		if e.Token != ix.cfg.Token {
			return nil
		}
		kind, err = accountbox.EventApproval, ix.repo.SaveApproval(ctx, e)
	}
	if err != nil {
		return err
	}
	ix.saved.WithLabelValues(kind).Inc()
	return nil
}

// Decode turns a log into *AccountCreated, *ForwardedRequest or *Approval
func Decode(l types.Log) (interface{}, error) {
	if len(l.Topics) == 0 {
		return nil, errUnknownEvent
	}
	pos := Position{BlockNumber: l.BlockNumber, TxHash: l.TxHash, LogIndex: l.Index}

	switch l.Topics[0] {
	case factoryABI.Events[accountbox.EventAccountCreated].ID:
		values, err := unpack(factoryABI, accountbox.EventAccountCreated, l)
		if err != nil {
			return nil, err
		}
		return &AccountCreated{
			Position: pos,
			Factory:  l.Address,
			Owner:    values["owner"].(common.Address),
			ID:       uuid.UUID(values["id"].([16]byte)),
			Account:  values["account"].(common.Address),
		}, nil

	case forwarderABI.Events[accountbox.EventExecutedForwardRequest].ID:
		values, err := unpack(forwarderABI, accountbox.EventExecutedForwardRequest, l)
		if err != nil {
			return nil, err
		}
		return &ForwardedRequest{
			Position:  pos,
			Forwarder: l.Address,
			Signer:    values["signer"].(common.Address),
			Nonce:     values["nonce"].(*big.Int).Uint64(),
			Success:   values["success"].(bool),
		}, nil

	case tokenABI.Events[accountbox.EventApproval].ID:
		values, err := unpack(tokenABI, accountbox.EventApproval, l)
		if err != nil {
			return nil, err
		}
		return &Approval{
			Position: pos,
			Token:    l.Address,
			Owner:    values["owner"].(common.Address),
			Spender:  values["spender"].(common.Address),
			Value:    values["value"].(*big.Int),
		}, nil
	}
	return nil, errUnknownEvent
}

// unpack decodes both the indexed and the data fields of an event log
func unpack(contractABI abi.ABI, name string, l types.Log) (map[string]interface{}, error) {
	ev := contractABI.Events[name]
	values := make(map[string]interface{})
	if err := contractABI.UnpackIntoMap(values, name, l.Data); err != nil {
		return nil, fmt.Errorf("failed to decode %s data: %w", name, err)
	}

	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	if err := abi.ParseTopicsIntoMap(values, indexed, l.Topics[1:]); err != nil {
		return nil, fmt.Errorf("failed to decode %s topics: %w", name, err)
	}
	return values, nil
}
