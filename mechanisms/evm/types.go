package evm

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TypedDataDomain represents the EIP-712 domain separator
type TypedDataDomain struct {
	Name              string   `json:"name"`
	Version           string   `json:"version"`
	ChainID           *big.Int `json:"chainId"`
	VerifyingContract string   `json:"verifyingContract"`
}

// TypedDataField represents a field in EIP-712 typed data
type TypedDataField struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// ForwardRequest is the signed part of a meta-transaction.
// The nonce is not carried here: it is folded in from the forwarder's registry at signing time.
type ForwardRequest struct {
	From     common.Address `json:"from"`
	To       common.Address `json:"to"`
	Value    *big.Int       `json:"value"`
	Gas      *big.Int       `json:"gas"`
	Deadline *big.Int       `json:"deadline"` // uint48 unix seconds
	Data     []byte         `json:"data"`
}

// ForwardRequestData is a ForwardRequest together with its packed 65-byte signature.
// Field names and order match the forwarder ABI tuple so abi.ConvertType can fill it.
type ForwardRequestData struct {
	From      common.Address
	To        common.Address
	Value     *big.Int
	Gas       *big.Int
	Deadline  *big.Int
	Data      []byte
	Signature []byte
}

// Request returns the signed part of the request data
func (d ForwardRequestData) Request() ForwardRequest {
	return ForwardRequest{
		From:     d.From,
		To:       d.To,
		Value:    d.Value,
		Gas:      d.Gas,
		Deadline: d.Deadline,
		Data:     d.Data,
	}
}

// WithSignature attaches a packed signature to a request
func (r ForwardRequest) WithSignature(signature []byte) ForwardRequestData {
	return ForwardRequestData{
		From:      r.From,
		To:        r.To,
		Value:     r.Value,
		Gas:       r.Gas,
		Deadline:  r.Deadline,
		Data:      r.Data,
		Signature: signature,
	}
}

// PermitMessage is the EIP-2612 allowance authorization
type PermitMessage struct {
	Owner    common.Address `json:"owner"`
	Spender  common.Address `json:"spender"`
	Value    *big.Int       `json:"value"`
	Nonce    *big.Int       `json:"nonce"`
	Deadline *big.Int       `json:"deadline"`
}

// ContractReader defines the interface for reading from a smart contract
type ContractReader interface {
	ReadContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (interface{}, error)
}

// SignatureReader is the chain access needed to verify signatures of contract signers
type SignatureReader interface {
	ContractReader

	// GetCode returns the runtime code at address, empty for externally owned accounts
	GetCode(ctx context.Context, address string) ([]byte, error)
}

// ClientEvmSigner defines the interface for client-side signing and submission
type ClientEvmSigner interface {
	// Address returns the signer's Ethereum address
	Address() string

	// SignTypedData signs EIP-712 typed data
	SignTypedData(ctx context.Context, domain TypedDataDomain, types map[string][]TypedDataField, primaryType string, message map[string]interface{}) ([]byte, error)

	// ReadContract reads data from a smart contract
	ReadContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (interface{}, error)

	// WriteContract executes a smart contract transaction
	WriteContract(ctx context.Context, address string, abi []byte, functionName string, args ...interface{}) (string, error)

	// WaitForTransactionReceipt waits for a transaction to be mined
	WaitForTransactionReceipt(ctx context.Context, txHash string) (*TransactionReceipt, error)
}

// TransactionReceipt represents the receipt of a mined transaction
type TransactionReceipt struct {
	Status      uint64 `json:"status"`
	BlockNumber uint64 `json:"blockNumber"`
	TxHash      string `json:"transactionHash"`
}

// NetworkConfig contains network-specific configuration
type NetworkConfig struct {
	Name    string
	ChainID *big.Int
}
