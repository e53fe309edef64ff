// Package types holds the JSON bodies of the relayer API.
//
// Amounts are decimal strings, byte strings are 0x-prefixed hex and addresses are hex.
package types

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/ametist/accountbox/mechanisms/evm"
)

// ForwardRequest is a signed forward request as submitted to the relayer
type ForwardRequest struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Value     string `json:"value"`
	Gas       string `json:"gas"`
	Deadline  uint64 `json:"deadline"`
	Data      string `json:"data"`
	Signature string `json:"signature"`
}

// ToRequestData decodes the request
func (r ForwardRequest) ToRequestData() (evm.ForwardRequestData, error) {
	value, err := parseAmount("value", r.Value)
	if err != nil {
		return evm.ForwardRequestData{}, err
	}
	gas, err := parseAmount("gas", r.Gas)
	if err != nil {
		return evm.ForwardRequestData{}, err
	}
	data, err := hexutil.Decode(orEmptyHex(r.Data))
	if err != nil {
		return evm.ForwardRequestData{}, fmt.Errorf("invalid data: %w", err)
	}
	signature, err := hexutil.Decode(r.Signature)
	if err != nil {
		return evm.ForwardRequestData{}, fmt.Errorf("invalid signature: %w", err)
	}
	return evm.ForwardRequestData{
		From:      common.HexToAddress(r.From),
		To:        common.HexToAddress(r.To),
		Value:     value,
		Gas:       gas,
		Deadline:  new(big.Int).SetUint64(r.Deadline),
		Data:      data,
		Signature: signature,
	}, nil
}

// NewForwardRequest encodes a signed request
func NewForwardRequest(d evm.ForwardRequestData) ForwardRequest {
	return ForwardRequest{
		From:      d.From.Hex(),
		To:        d.To.Hex(),
		Value:     amountString(d.Value),
		Gas:       amountString(d.Gas),
		Deadline:  d.Deadline.Uint64(),
		Data:      hexutil.Encode(d.Data),
		Signature: hexutil.Encode(d.Signature),
	}
}

// ExecuteResponse reports a relayed request
type ExecuteResponse struct {
	TxHash  string `json:"txHash"`
	Success bool   `json:"success"`
	Nonce   uint64 `json:"nonce"`
}

// VerifyResponse reports whether a request would currently be accepted
type VerifyResponse struct {
	Valid bool   `json:"valid"`
	Code  string `json:"code,omitempty"`
}

// SignatureRequest asks whether signer produced signature over hash
type SignatureRequest struct {
	Signer    string `json:"signer"`
	Hash      string `json:"hash"`
	Signature string `json:"signature"`
}

// SignatureResponse reports the outcome of a signature check. Kind is "eoa" or "eip1271".
type SignatureResponse struct {
	Valid bool   `json:"valid"`
	Kind  string `json:"kind,omitempty"`
	Code  string `json:"code,omitempty"`
}

// NonceResponse is the next forwarder nonce of an address
type NonceResponse struct {
	Address string `json:"address"`
	Nonce   uint64 `json:"nonce"`
}

// PermitRequest is an owner-signed allowance submitted by a third party
type PermitRequest struct {
	Owner    string `json:"owner"`
	Spender  string `json:"spender"`
	Value    string `json:"value"`
	Deadline uint64 `json:"deadline"`
	V        uint8  `json:"v"`
	R        string `json:"r"`
	S        string `json:"s"`
}

// ToPermit decodes the request into the permit message and its signature parts
func (p PermitRequest) ToPermit() (evm.PermitMessage, [32]byte, [32]byte, error) {
	var r, s [32]byte
	value, err := parseAmount("value", p.Value)
	if err != nil {
		return evm.PermitMessage{}, r, s, err
	}
	if r, err = parseWord("r", p.R); err != nil {
		return evm.PermitMessage{}, r, s, err
	}
	if s, err = parseWord("s", p.S); err != nil {
		return evm.PermitMessage{}, r, s, err
	}
	return evm.PermitMessage{
		Owner:    common.HexToAddress(p.Owner),
		Spender:  common.HexToAddress(p.Spender),
		Value:    value,
		Deadline: new(big.Int).SetUint64(p.Deadline),
	}, r, s, nil
}

// PermitResponse reports a submitted permit
type PermitResponse struct {
	TxHash string `json:"txHash"`
	Nonce  uint64 `json:"nonce"`
}

// AccountResponse is one provisioned account
type AccountResponse struct {
	Owner   string  `json:"owner"`
	Index   *uint64 `json:"index,omitempty"`
	ID      string  `json:"id,omitempty"`
	Address string  `json:"address"`
}

// FactoryResponse describes the factory behind the handle
type FactoryResponse struct {
	Handle           string  `json:"handle"`
	Implementation   string  `json:"implementation"`
	Template         string  `json:"template"`
	TrustedForwarder string  `json:"trustedForwarder"`
	Version          uint64  `json:"version"`
	TotalAccounts    *uint64 `json:"totalAccounts,omitempty"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func parseAmount(field, s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid %s: %q", field, s)
	}
	return v, nil
}

func parseWord(field, s string) ([32]byte, error) {
	b, err := hexutil.Decode(s)
	if err != nil || len(b) != 32 {
		return [32]byte{}, fmt.Errorf("invalid %s: expected 32 bytes hex", field)
	}
	return [32]byte(b), nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func orEmptyHex(s string) string {
	if s == "" {
		return "0x"
	}
	return s
}
