package indexer

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS accounts_created (
	block_number BIGINT  NOT NULL,
	tx_hash      TEXT    NOT NULL,
	log_index    INTEGER NOT NULL,
	factory      TEXT    NOT NULL,
	owner        TEXT    NOT NULL,
	account_id   UUID    NOT NULL,
	account      TEXT    NOT NULL,
	PRIMARY KEY (tx_hash, log_index)
);
CREATE INDEX IF NOT EXISTS accounts_created_owner_idx ON accounts_created (owner);

CREATE TABLE IF NOT EXISTS forwarded_requests (
	block_number BIGINT  NOT NULL,
	tx_hash      TEXT    NOT NULL,
	log_index    INTEGER NOT NULL,
	forwarder    TEXT    NOT NULL,
	signer       TEXT    NOT NULL,
	nonce        BIGINT  NOT NULL,
	success      BOOLEAN NOT NULL,
	PRIMARY KEY (tx_hash, log_index)
);
CREATE INDEX IF NOT EXISTS forwarded_requests_signer_idx ON forwarded_requests (signer);

CREATE TABLE IF NOT EXISTS approvals (
	block_number BIGINT  NOT NULL,
	tx_hash      TEXT    NOT NULL,
	log_index    INTEGER NOT NULL,
	token        TEXT    NOT NULL,
	owner        TEXT    NOT NULL,
	spender      TEXT    NOT NULL,
	value        NUMERIC NOT NULL,
	PRIMARY KEY (tx_hash, log_index)
);
CREATE INDEX IF NOT EXISTS approvals_owner_idx ON approvals (owner);
`

// PostgresRepository implements the Repository interface using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository connects to databaseURL and creates the tables when missing
func NewPostgresRepository(ctx context.Context, databaseURL string) (*PostgresRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return &PostgresRepository{pool: pool}, nil
}

// SaveAccountCreated saves an AccountCreated event
func (r *PostgresRepository) SaveAccountCreated(ctx context.Context, e *AccountCreated) error {
	query := `
		INSERT INTO accounts_created (block_number, tx_hash, log_index, factory, owner, account_id, account)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tx_hash, log_index) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query,
		e.BlockNumber,
		e.TxHash.Hex(),
		e.LogIndex,
		e.Factory.Hex(),
		e.Owner.Hex(),
		e.ID,
		e.Account.Hex(),
	)
	if err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

// ListAccounts lists the accounts of owner in creation order
func (r *PostgresRepository) ListAccounts(ctx context.Context, owner common.Address) ([]AccountCreated, error) {
	query := `
		SELECT block_number, tx_hash, log_index, factory, owner, account_id, account
		FROM accounts_created
		WHERE owner = $1
		ORDER BY block_number, log_index
	`
	rows, err := r.pool.Query(ctx, query, owner.Hex())
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (AccountCreated, error) {
		var (
			e                               AccountCreated
			block, index                    int64
			txHash, factory, owner, account string
			id                              uuid.UUID
		)
		if err := row.Scan(&block, &txHash, &index, &factory, &owner, &id, &account); err != nil {
			return e, err
		}
		e.Position = Position{BlockNumber: uint64(block), TxHash: common.HexToHash(txHash), LogIndex: uint(index)}
		e.Factory = common.HexToAddress(factory)
		e.Owner = common.HexToAddress(owner)
		e.ID = id
		e.Account = common.HexToAddress(account)
		return e, nil
	})
}

// SaveForwardedRequest saves an ExecutedForwardRequest event
func (r *PostgresRepository) SaveForwardedRequest(ctx context.Context, e *ForwardedRequest) error {
	query := `
		INSERT INTO forwarded_requests (block_number, tx_hash, log_index, forwarder, signer, nonce, success)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tx_hash, log_index) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query,
		e.BlockNumber,
		e.TxHash.Hex(),
		e.LogIndex,
		e.Forwarder.Hex(),
		e.Signer.Hex(),
		e.Nonce,
		e.Success,
	)
	if err != nil {
		return fmt.Errorf("failed to save forwarded request: %w", err)
	}
	return nil
}

// ListForwardedRequests lists the requests signed by signer in execution order
func (r *PostgresRepository) ListForwardedRequests(ctx context.Context, signer common.Address) ([]ForwardedRequest, error) {
	query := `
		SELECT block_number, tx_hash, log_index, forwarder, signer, nonce, success
		FROM forwarded_requests
		WHERE signer = $1
		ORDER BY block_number, log_index
	`
	rows, err := r.pool.Query(ctx, query, signer.Hex())
	if err != nil {
		return nil, fmt.Errorf("failed to list forwarded requests: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ForwardedRequest, error) {
		var (
			e                         ForwardedRequest
			block, index, nonce       int64
			txHash, forwarder, signer string
		)
		if err := row.Scan(&block, &txHash, &index, &forwarder, &signer, &nonce, &e.Success); err != nil {
			return e, err
		}
		e.Position = Position{BlockNumber: uint64(block), TxHash: common.HexToHash(txHash), LogIndex: uint(index)}
		e.Forwarder = common.HexToAddress(forwarder)
		e.Signer = common.HexToAddress(signer)
		e.Nonce = uint64(nonce)
		return e, nil
	})
}

// SaveApproval saves an Approval event
func (r *PostgresRepository) SaveApproval(ctx context.Context, e *Approval) error {
	query := `
		INSERT INTO approvals (block_number, tx_hash, log_index, token, owner, spender, value)
		VALUES ($1, $2, $3, $4, $5, $6, $7::numeric)
		ON CONFLICT (tx_hash, log_index) DO NOTHING
	`
	_, err := r.pool.Exec(ctx, query,
		e.BlockNumber,
		e.TxHash.Hex(),
		e.LogIndex,
		e.Token.Hex(),
		e.Owner.Hex(),
		e.Spender.Hex(),
		e.Value.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to save approval: %w", err)
	}
	return nil
}

// ListApprovals lists the approvals granted by owner in chain order
func (r *PostgresRepository) ListApprovals(ctx context.Context, owner common.Address) ([]Approval, error) {
	query := `
		SELECT block_number, tx_hash, log_index, token, owner, spender, value::text
		FROM approvals
		WHERE owner = $1
		ORDER BY block_number, log_index
	`
	rows, err := r.pool.Query(ctx, query, owner.Hex())
	if err != nil {
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Approval, error) {
		var (
			e                                Approval
			block, index                     int64
			txHash, token, owner, spender, v string
		)
		if err := row.Scan(&block, &txHash, &index, &token, &owner, &spender, &v); err != nil {
			return e, err
		}
		value, ok := new(big.Int).SetString(v, 10)
		if !ok {
			return e, fmt.Errorf("invalid approval value %q", v)
		}
		e.Position = Position{BlockNumber: uint64(block), TxHash: common.HexToHash(txHash), LogIndex: uint(index)}
		e.Token = common.HexToAddress(token)
		e.Owner = common.HexToAddress(owner)
		e.Spender = common.HexToAddress(spender)
		e.Value = value
		return e, nil
	})
}

// Ping checks database connectivity
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the connection pool
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}
