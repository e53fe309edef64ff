package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// TypedData converts the domain, type schema and message into go-ethereum's apitypes form.
// The EIP712Domain type is added when the schema does not declare it.
func TypedData(
	domain TypedDataDomain,
	types map[string][]TypedDataField,
	primaryType string,
	message map[string]interface{},
) apitypes.TypedData {
	typedData := apitypes.TypedData{
		Types:       make(apitypes.Types),
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract,
		},
		Message: message,
	}

	for typeName, fields := range types {
		typedFields := make([]apitypes.Type, len(fields))
		for i, field := range fields {
			typedFields[i] = apitypes.Type{
				Name: field.Name,
				Type: field.Type,
			}
		}
		typedData.Types[typeName] = typedFields
	}

	if _, exists := typedData.Types[PrimaryTypeDomain]; !exists {
		typedData.Types[PrimaryTypeDomain] = []apitypes.Type{
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		}
	}
	return typedData
}

// HashTypedData hashes EIP-712 typed data.
//
// The digest is keccak256("\x19\x01" ‖ domainSeparator ‖ structHash). Identical domain,
// schema and message always yield identical bytes.
func HashTypedData(
	domain TypedDataDomain,
	types map[string][]TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	typedData := TypedData(domain, types, primaryType, message)

	dataHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash struct: %w", err)
	}

	domainSeparator, err := typedData.HashStruct(PrimaryTypeDomain, typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	rawData := []byte{0x19, 0x01}
	rawData = append(rawData, domainSeparator...)
	rawData = append(rawData, dataHash...)
	return crypto.Keccak256(rawData), nil
}

// DomainSeparator returns the EIP-712 domain separator for a domain
func DomainSeparator(domain TypedDataDomain) (common.Hash, error) {
	typedData := TypedData(domain, nil, PrimaryTypeDomain, nil)
	separator, err := typedData.HashStruct(PrimaryTypeDomain, typedData.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash domain: %w", err)
	}
	return common.BytesToHash(separator), nil
}

// ForwardRequestMessage builds the EIP-712 message for a forward request at the given nonce
func ForwardRequestMessage(req ForwardRequest, nonce *big.Int) map[string]interface{} {
	return map[string]interface{}{
		"from":     req.From.Hex(),
		"to":       req.To.Hex(),
		"value":    bigOrZero(req.Value),
		"gas":      bigOrZero(req.Gas),
		"nonce":    bigOrZero(nonce),
		"deadline": bigOrZero(req.Deadline),
		"data":     nonNilBytes(req.Data),
	}
}

// HashForwardRequest hashes a forward request bound to the forwarder's domain and the signer's nonce
func HashForwardRequest(domain TypedDataDomain, req ForwardRequest, nonce *big.Int) ([]byte, error) {
	return HashTypedData(domain, ForwardRequestTypes, PrimaryTypeForwardRequest, ForwardRequestMessage(req, nonce))
}

// PermitMessageMap builds the EIP-712 message for a permit
func PermitMessageMap(msg PermitMessage) map[string]interface{} {
	return map[string]interface{}{
		"owner":    msg.Owner.Hex(),
		"spender":  msg.Spender.Hex(),
		"value":    bigOrZero(msg.Value),
		"nonce":    bigOrZero(msg.Nonce),
		"deadline": bigOrZero(msg.Deadline),
	}
}

// HashPermit hashes an EIP-2612 permit bound to the token's domain
func HashPermit(domain TypedDataDomain, msg PermitMessage) ([]byte, error) {
	return HashTypedData(domain, PermitTypes, PrimaryTypePermit, PermitMessageMap(msg))
}

func bigOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func nonNilBytes(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
