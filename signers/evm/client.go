package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"

	accountevm "github.com/ametist/accountbox/mechanisms/evm"
)

const (
	// DefaultPollInterval is how often WaitForTransactionReceipt polls for a receipt
	DefaultPollInterval = 2 * time.Second

	// fallbackGasLimit is used when gas estimation fails
	fallbackGasLimit = 300000
)

// ErrNoBackend is returned by operations that need a node when none is configured
var ErrNoBackend = errors.New("RPC client not configured")

// Backend is the node access the signer needs. *ethclient.Client and the in-memory
// *chain.Chain both satisfy it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

var (
	_ accountevm.ClientEvmSigner = (*ClientSigner)(nil)
	_ accountevm.SignatureReader = (*ClientSigner)(nil)
)

// ClientSigner signs forward requests, permits and transactions with an ECDSA private key
type ClientSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	backend    Backend

	// sendMu serialises nonce assignment through submission
	sendMu sync.Mutex

	// PollInterval is the receipt polling period, DefaultPollInterval when zero
	PollInterval time.Duration
}

// NewClientSignerFromPrivateKey creates a client signer from a hex-encoded private key.
//
// Args:
//
//	privateKeyHex: Hex-encoded private key (with or without "0x" prefix)
//
// Example:
//
//	signer, err := evm.NewClientSignerFromPrivateKey("0x1234...")
//	if err != nil {
//	    log.Crit("bad key", "err", err)
//	}
//	if err := signer.Connect("http://127.0.0.1:8545"); err != nil {
//	    log.Crit("no node", "err", err)
//	}
func NewClientSignerFromPrivateKey(privateKeyHex string) (*ClientSigner, error) {
	privateKeyHex = strings.TrimPrefix(privateKeyHex, "0x")

	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewClientSigner(privateKey), nil
}

// NewClientSigner creates a client signer from a private key
func NewClientSigner(privateKey *ecdsa.PrivateKey) *ClientSigner {
	return &ClientSigner{
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey),
	}
}

// Connect connects the signer to an RPC endpoint
func (s *ClientSigner) Connect(rpcURL string) error {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return fmt.Errorf("failed to connect to RPC: %w", err)
	}
	s.backend = client
	return nil
}

// WithBackend attaches the signer to backend
func (s *ClientSigner) WithBackend(backend Backend) *ClientSigner {
	s.backend = backend
	return s
}

// Address returns the hex address of the signer
func (s *ClientSigner) Address() string {
	return s.address.Hex()
}

// Account returns the address of the signer
func (s *ClientSigner) Account() common.Address {
	return s.address
}

// SignTypedData signs EIP-712 typed data and returns the 65-byte r ‖ s ‖ v signature with
// v in {27, 28}
func (s *ClientSigner) SignTypedData(
	ctx context.Context,
	domain accountevm.TypedDataDomain,
	types map[string][]accountevm.TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	digest, err := accountevm.HashTypedData(domain, types, primaryType, message)
	if err != nil {
		return nil, err
	}

	signature, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}

	// Adjust v value for Ethereum (recovery ID 0/1 -> 27/28)
	signature[64] += 27
	return signature, nil
}

// SignForwardRequest signs req for the forwarder at domain, bound to nonce
func (s *ClientSigner) SignForwardRequest(
	ctx context.Context,
	domain accountevm.TypedDataDomain,
	req accountevm.ForwardRequest,
	nonce *big.Int,
) (accountevm.ForwardRequestData, error) {
	signature, err := s.SignTypedData(ctx, domain, accountevm.ForwardRequestTypes, accountevm.PrimaryTypeForwardRequest,
		accountevm.ForwardRequestMessage(req, nonce))
	if err != nil {
		return accountevm.ForwardRequestData{}, err
	}
	return req.WithSignature(signature), nil
}

// SignPermit signs an EIP-2612 permit for the token at domain and returns it split into v, r
// and s as the permit method takes them
func (s *ClientSigner) SignPermit(
	ctx context.Context,
	domain accountevm.TypedDataDomain,
	msg accountevm.PermitMessage,
) (uint8, [32]byte, [32]byte, error) {
	signature, err := s.SignTypedData(ctx, domain, accountevm.PermitTypes, accountevm.PrimaryTypePermit,
		accountevm.PermitMessageMap(msg))
	if err != nil {
		return 0, [32]byte{}, [32]byte{}, err
	}
	return accountevm.SplitSignature(signature)
}

// ReadContract calls a view method and unpacks its result. A single return value is returned
// as is; several are returned as []interface{}.
func (s *ClientSigner) ReadContract(
	ctx context.Context,
	contractAddress string,
	abiJSON []byte,
	functionName string,
	args ...interface{},
) (interface{}, error) {
	if s.backend == nil {
		return nil, ErrNoBackend
	}

	parsedABI, err := abi.JSON(strings.NewReader(string(abiJSON)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	data, err := parsedABI.Pack(functionName, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack data: %w", err)
	}

	to := common.HexToAddress(contractAddress)
	msg := ethereum.CallMsg{
		From: s.address,
		To:   &to,
		Data: data,
	}

	resultBytes, err := s.backend.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, err
	}

	unpacked, err := parsedABI.Unpack(functionName, resultBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack result: %w", err)
	}

	if len(unpacked) == 0 {
		return nil, nil
	}
	if len(unpacked) == 1 {
		return unpacked[0], nil
	}
	return unpacked, nil
}

// GetCode returns the code deployed at address
func (s *ClientSigner) GetCode(ctx context.Context, address string) ([]byte, error) {
	if s.backend == nil {
		return nil, ErrNoBackend
	}
	return s.backend.CodeAt(ctx, common.HexToAddress(address), nil)
}

// SimulateContract executes functionName against the latest state without sending a
// transaction and returns the raw output. Reverts surface as errors.
func (s *ClientSigner) SimulateContract(
	ctx context.Context,
	contractAddress string,
	abiJSON []byte,
	value *big.Int,
	functionName string,
	args ...interface{},
) ([]byte, error) {
	if s.backend == nil {
		return nil, ErrNoBackend
	}

	parsedABI, err := abi.JSON(strings.NewReader(string(abiJSON)))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}

	data, err := parsedABI.Pack(functionName, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack data: %w", err)
	}

	to := common.HexToAddress(contractAddress)
	return s.backend.CallContract(ctx, ethereum.CallMsg{
		From:  s.address,
		To:    &to,
		Value: value,
		Data:  data,
	}, nil)
}

// WriteContract sends a transaction calling functionName and returns its hash
func (s *ClientSigner) WriteContract(
	ctx context.Context,
	contractAddress string,
	abiJSON []byte,
	functionName string,
	args ...interface{},
) (string, error) {
	return s.WriteContractWithValue(ctx, contractAddress, abiJSON, nil, functionName, args...)
}

// WriteContractWithValue is WriteContract for payable methods
func (s *ClientSigner) WriteContractWithValue(
	ctx context.Context,
	contractAddress string,
	abiJSON []byte,
	value *big.Int,
	functionName string,
	args ...interface{},
) (string, error) {
	if s.backend == nil {
		return "", ErrNoBackend
	}

	parsedABI, err := abi.JSON(strings.NewReader(string(abiJSON)))
	if err != nil {
		return "", fmt.Errorf("failed to parse ABI: %w", err)
	}

	data, err := parsedABI.Pack(functionName, args...)
	if err != nil {
		return "", fmt.Errorf("failed to pack data: %w", err)
	}
	if value == nil {
		value = new(big.Int)
	}

	chainID, err := s.backend.ChainID(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get chain ID: %w", err)
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	nonce, err := s.backend.PendingNonceAt(ctx, s.address)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}

	gasPrice, err := s.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}

	to := common.HexToAddress(contractAddress)
	msg := ethereum.CallMsg{
		From:  s.address,
		To:    &to,
		Value: value,
		Data:  data,
	}
	gasLimit, err := s.backend.EstimateGas(ctx, msg)
	if err != nil {
		log.Debug("Gas estimation failed, using fallback", "method", functionName, "err", err)
		gasLimit = fallbackGasLimit
	} else {
		gasLimit = uint64(float64(gasLimit) * 1.2)
	}

	tx := types.NewTransaction(nonce, to, value, gasLimit, gasPrice, data)

	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(chainID), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}

	if err := s.backend.SendTransaction(ctx, signedTx); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}
	return signedTx.Hash().Hex(), nil
}

// WaitMined polls until the transaction is mined and returns its full receipt
func (s *ClientSigner) WaitMined(ctx context.Context, txHash string) (*types.Receipt, error) {
	if s.backend == nil {
		return nil, ErrNoBackend
	}
	hash := common.HexToHash(txHash)

	interval := s.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		receipt, err := s.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// WaitForTransactionReceipt waits for a transaction to be mined
func (s *ClientSigner) WaitForTransactionReceipt(ctx context.Context, txHash string) (*accountevm.TransactionReceipt, error) {
	receipt, err := s.WaitMined(ctx, txHash)
	if err != nil {
		return nil, err
	}
	return &accountevm.TransactionReceipt{
		Status:      receipt.Status,
		BlockNumber: receipt.BlockNumber.Uint64(),
		TxHash:      receipt.TxHash.Hex(),
	}, nil
}
