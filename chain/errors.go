package chain

import "errors"

var (
	ErrNonceTooLow          = errors.New("nonce too low")
	ErrNonceTooHigh         = errors.New("nonce too high")
	ErrInsufficientFunds    = errors.New("insufficient funds for gas * price + value")
	ErrInsufficientBalance  = errors.New("insufficient balance for transfer")
	ErrInvalidChainID       = errors.New("invalid chain id for signer")
	ErrContractCreation     = errors.New("contract creation must go through Deploy")
	ErrDepth                = errors.New("max call depth exceeded")
	ErrAddressCollision     = errors.New("contract address collision")
	ErrUnknownMethod        = errors.New("unknown method selector")
	ErrNonPayable           = errors.New("non-payable method received value")
	ErrNoReceive            = errors.New("contract does not accept plain transfers")
	ErrInvalidCalldata      = errors.New("invalid calldata")
	ErrNotContract          = errors.New("no contract at address")
	ErrTransactionReverted  = errors.New("execution reverted")
	ErrInsufficientGas      = errors.New("insufficient gas for forwarded call")
)
