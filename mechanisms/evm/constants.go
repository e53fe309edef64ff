package evm

import (
	"math/big"
)

const (
	// EIP-712 primary types
	PrimaryTypeDomain         = "EIP712Domain"
	PrimaryTypeForwardRequest = "ForwardRequest"
	PrimaryTypePermit         = "Permit"

	// Forwarder function names
	FunctionExecute          = "execute"
	FunctionExecuteBatch     = "executeBatch"
	FunctionVerify           = "verify"
	FunctionNonces           = "nonces"
	FunctionEIP712Domain     = "eip712Domain"
	FunctionIsTrustedForward = "isTrustedForwarder"

	// FunctionIsValidSignature is the ERC-1271 signature query
	FunctionIsValidSignature = "isValidSignature"

	// Default validity period for signed requests (1 hour)
	DefaultValidityPeriod = 3600 // seconds

	// Ether and the token both use 18 decimals
	DefaultDecimals = 18

	// SignatureLength is the packed r ‖ s ‖ v length
	SignatureLength = 65

	// MaxUint48 bounds request deadlines
	MaxUint48 = 1<<48 - 1
)

var (
	// Network chain IDs
	ChainIDHardhat = big.NewInt(1337)
	ChainIDSepolia = big.NewInt(11155111)

	// Network configurations
	NetworkConfigs = map[string]NetworkConfig{
		"eip155:1337": {
			Name:    "hardhat",
			ChainID: ChainIDHardhat,
		},
		"eip155:11155111": {
			Name:    "sepolia",
			ChainID: ChainIDSepolia,
		},
	}

	// ForwardRequestTypes is the schema the forwarder signs over
	ForwardRequestTypes = map[string][]TypedDataField{
		PrimaryTypeForwardRequest: {
			{Name: "from", Type: "address"},
			{Name: "to", Type: "address"},
			{Name: "value", Type: "uint256"},
			{Name: "gas", Type: "uint256"},
			{Name: "nonce", Type: "uint256"},
			{Name: "deadline", Type: "uint48"},
			{Name: "data", Type: "bytes"},
		},
	}

	// PermitTypes is the EIP-2612 schema
	PermitTypes = map[string][]TypedDataField{
		PrimaryTypePermit: {
			{Name: "owner", Type: "address"},
			{Name: "spender", Type: "address"},
			{Name: "value", Type: "uint256"},
			{Name: "nonce", Type: "uint256"},
			{Name: "deadline", Type: "uint256"},
		},
	}
)

const forwardRequestTuple = `{
	"name": "request",
	"type": "tuple",
	"internalType": "struct ForwardRequestData",
	"components": [
		{"name": "from", "type": "address"},
		{"name": "to", "type": "address"},
		{"name": "value", "type": "uint256"},
		{"name": "gas", "type": "uint256"},
		{"name": "deadline", "type": "uint48"},
		{"name": "data", "type": "bytes"},
		{"name": "signature", "type": "bytes"}
	]
}`

const eip712DomainFunction = `{
	"inputs": [],
	"name": "eip712Domain",
	"outputs": [
		{"name": "fields", "type": "bytes1"},
		{"name": "name", "type": "string"},
		{"name": "version", "type": "string"},
		{"name": "chainId", "type": "uint256"},
		{"name": "verifyingContract", "type": "address"},
		{"name": "salt", "type": "bytes32"},
		{"name": "extensions", "type": "uint256[]"}
	],
	"stateMutability": "view",
	"type": "function"
}`

const trustedForwarderFunctions = `{
	"inputs": [{"name": "forwarder", "type": "address"}],
	"name": "isTrustedForwarder",
	"outputs": [{"name": "", "type": "bool"}],
	"stateMutability": "view",
	"type": "function"
},
{
	"inputs": [],
	"name": "trustedForwarder",
	"outputs": [{"name": "", "type": "address"}],
	"stateMutability": "view",
	"type": "function"
}`

const isValidSignatureFunction = `{
	"inputs": [
		{"name": "hash", "type": "bytes32"},
		{"name": "signature", "type": "bytes"}
	],
	"name": "isValidSignature",
	"outputs": [{"name": "magicValue", "type": "bytes4"}],
	"stateMutability": "view",
	"type": "function"
}`

const ownableFunctions = `{
	"inputs": [],
	"name": "owner",
	"outputs": [{"name": "", "type": "address"}],
	"stateMutability": "view",
	"type": "function"
},
{
	"inputs": [{"name": "newOwner", "type": "address"}],
	"name": "transferOwnership",
	"outputs": [],
	"stateMutability": "nonpayable",
	"type": "function"
},
{
	"anonymous": false,
	"inputs": [
		{"indexed": true, "name": "previousOwner", "type": "address"},
		{"indexed": true, "name": "newOwner", "type": "address"}
	],
	"name": "OwnershipTransferred",
	"type": "event"
}`

// ForwarderABI is the ABI of the ERC-2771 forwarder
var ForwarderABI = []byte(`[
	{
		"inputs": [` + forwardRequestTuple + `],
		"name": "execute",
		"outputs": [],
		"stateMutability": "payable",
		"type": "function"
	},
	{
		"inputs": [
			{
				"name": "requests",
				"type": "tuple[]",
				"internalType": "struct ForwardRequestData[]",
				"components": [
					{"name": "from", "type": "address"},
					{"name": "to", "type": "address"},
					{"name": "value", "type": "uint256"},
					{"name": "gas", "type": "uint256"},
					{"name": "deadline", "type": "uint48"},
					{"name": "data", "type": "bytes"},
					{"name": "signature", "type": "bytes"}
				]
			},
			{"name": "refundReceiver", "type": "address"}
		],
		"name": "executeBatch",
		"outputs": [],
		"stateMutability": "payable",
		"type": "function"
	},
	{
		"inputs": [` + forwardRequestTuple + `],
		"name": "verify",
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"name": "owner", "type": "address"}],
		"name": "nonces",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	` + eip712DomainFunction + `,
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "signer", "type": "address"},
			{"indexed": false, "name": "nonce", "type": "uint256"},
			{"indexed": false, "name": "success", "type": "bool"}
		],
		"name": "ExecutedForwardRequest",
		"type": "event"
	}
]`)

// ERC2771ABI is the trust query every forwarded target must answer
var ERC2771ABI = []byte(`[` + trustedForwarderFunctions + `]`)

// ERC1271ABI is the signature query of contract signers
var ERC1271ABI = []byte(`[` + isValidSignatureFunction + `]`)

// AccountABI is the ABI of an account instance
var AccountABI = []byte(`[
	{
		"inputs": [
			{"name": "owner", "type": "address"},
			{"name": "id", "type": "bytes16"}
		],
		"name": "initialize",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "deposit",
		"outputs": [],
		"stateMutability": "payable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "to", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"name": "withdraw",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "accountID",
		"outputs": [{"name": "", "type": "bytes16"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "owner",
		"outputs": [{"name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	},
	` + trustedForwarderFunctions + `,
	` + isValidSignatureFunction + `,
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "sender", "type": "address"},
			{"indexed": false, "name": "amount", "type": "uint256"}
		],
		"name": "Deposit",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "to", "type": "address"},
			{"indexed": false, "name": "amount", "type": "uint256"}
		],
		"name": "Withdrawal",
		"type": "event"
	}
]`)

// FactoryABI covers both factory implementations and the upgradeable handle in front of them
var FactoryABI = []byte(`[
	{
		"inputs": [
			{"name": "trustedForwarder", "type": "address"},
			{"name": "initialOwner", "type": "address"}
		],
		"name": "initialize",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "initializeV2",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "createClone",
		"outputs": [{"name": "", "type": "address"}],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "owner", "type": "address"},
			{"name": "index", "type": "uint256"}
		],
		"name": "getAccountByIndex",
		"outputs": [{"name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "owner", "type": "address"},
			{"name": "id", "type": "bytes16"}
		],
		"name": "getAccountById",
		"outputs": [{"name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"name": "owner", "type": "address"}],
		"name": "userCounters",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "totalAccounts",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "implementation",
		"outputs": [{"name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "version",
		"outputs": [{"name": "", "type": "uint64"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "newImplementation", "type": "address"},
			{"name": "data", "type": "bytes"}
		],
		"name": "upgradeToAndCall",
		"outputs": [],
		"stateMutability": "payable",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "getImplementation",
		"outputs": [{"name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	},
	` + trustedForwarderFunctions + `,
	` + ownableFunctions + `,
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "owner", "type": "address"},
			{"indexed": false, "name": "id", "type": "bytes16"},
			{"indexed": true, "name": "account", "type": "address"}
		],
		"name": "AccountCreated",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [{"indexed": true, "name": "implementation", "type": "address"}],
		"name": "Upgraded",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [{"indexed": false, "name": "version", "type": "uint64"}],
		"name": "Initialized",
		"type": "event"
	}
]`)

const accessControlEntries = `{
	"inputs": [
		{"name": "role", "type": "bytes32"},
		{"name": "account", "type": "address"}
	],
	"name": "hasRole",
	"outputs": [{"name": "", "type": "bool"}],
	"stateMutability": "view",
	"type": "function"
},
{
	"inputs": [{"name": "role", "type": "bytes32"}],
	"name": "getRoleAdmin",
	"outputs": [{"name": "", "type": "bytes32"}],
	"stateMutability": "view",
	"type": "function"
},
{
	"inputs": [
		{"name": "role", "type": "bytes32"},
		{"name": "account", "type": "address"}
	],
	"name": "grantRole",
	"outputs": [],
	"stateMutability": "nonpayable",
	"type": "function"
},
{
	"inputs": [
		{"name": "role", "type": "bytes32"},
		{"name": "account", "type": "address"}
	],
	"name": "revokeRole",
	"outputs": [],
	"stateMutability": "nonpayable",
	"type": "function"
},
{
	"inputs": [
		{"name": "role", "type": "bytes32"},
		{"name": "callerConfirmation", "type": "address"}
	],
	"name": "renounceRole",
	"outputs": [],
	"stateMutability": "nonpayable",
	"type": "function"
},
{
	"inputs": [],
	"name": "DEFAULT_ADMIN_ROLE",
	"outputs": [{"name": "", "type": "bytes32"}],
	"stateMutability": "view",
	"type": "function"
},
{
	"inputs": [],
	"name": "MINTER_ROLE",
	"outputs": [{"name": "", "type": "bytes32"}],
	"stateMutability": "view",
	"type": "function"
},
{
	"anonymous": false,
	"inputs": [
		{"indexed": true, "name": "role", "type": "bytes32"},
		{"indexed": true, "name": "account", "type": "address"},
		{"indexed": true, "name": "sender", "type": "address"}
	],
	"name": "RoleGranted",
	"type": "event"
},
{
	"anonymous": false,
	"inputs": [
		{"indexed": true, "name": "role", "type": "bytes32"},
		{"indexed": true, "name": "account", "type": "address"},
		{"indexed": true, "name": "sender", "type": "address"}
	],
	"name": "RoleRevoked",
	"type": "event"
}`

// TokenABI is the ABI of the permit-enabled ERC-20 with minter roles
var TokenABI = []byte(`[
	{"inputs": [], "name": "name", "outputs": [{"name": "", "type": "string"}], "stateMutability": "view", "type": "function"},
	{"inputs": [], "name": "symbol", "outputs": [{"name": "", "type": "string"}], "stateMutability": "view", "type": "function"},
	{"inputs": [], "name": "decimals", "outputs": [{"name": "", "type": "uint8"}], "stateMutability": "view", "type": "function"},
	{"inputs": [], "name": "totalSupply", "outputs": [{"name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
	{"inputs": [], "name": "DOMAIN_SEPARATOR", "outputs": [{"name": "", "type": "bytes32"}], "stateMutability": "view", "type": "function"},
	{
		"inputs": [{"name": "account", "type": "address"}],
		"name": "balanceOf",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "owner", "type": "address"},
			{"name": "spender", "type": "address"}
		],
		"name": "allowance",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "to", "type": "address"},
			{"name": "value", "type": "uint256"}
		],
		"name": "transfer",
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "spender", "type": "address"},
			{"name": "value", "type": "uint256"}
		],
		"name": "approve",
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "from", "type": "address"},
			{"name": "to", "type": "address"},
			{"name": "value", "type": "uint256"}
		],
		"name": "transferFrom",
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "to", "type": "address"},
			{"name": "amount", "type": "uint256"}
		],
		"name": "mint",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"name": "owner", "type": "address"},
			{"name": "spender", "type": "address"},
			{"name": "value", "type": "uint256"},
			{"name": "deadline", "type": "uint256"},
			{"name": "v", "type": "uint8"},
			{"name": "r", "type": "bytes32"},
			{"name": "s", "type": "bytes32"}
		],
		"name": "permit",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [{"name": "owner", "type": "address"}],
		"name": "nonces",
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	` + eip712DomainFunction + `,
	` + accessControlEntries + `,
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "from", "type": "address"},
			{"indexed": true, "name": "to", "type": "address"},
			{"indexed": false, "name": "value", "type": "uint256"}
		],
		"name": "Transfer",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "name": "owner", "type": "address"},
			{"indexed": true, "name": "spender", "type": "address"},
			{"indexed": false, "name": "value", "type": "uint256"}
		],
		"name": "Approval",
		"type": "event"
	}
]`)
