package accountbox

// Version constants
const (
	// Version is the module version
	Version = "1.0.0"

	// FactoryVersionV1 is the first factory implementation (create, index lookup, template)
	FactoryVersionV1 = 1

	// FactoryVersionV2 adds id lookup and the total accounts counter
	FactoryVersionV2 = 2
)

// Event names emitted by the protocol contracts
const (
	EventAccountCreated         = "AccountCreated"
	EventExecutedForwardRequest = "ExecutedForwardRequest"
	EventApproval               = "Approval"
	EventTransfer               = "Transfer"
	EventDeposit                = "Deposit"
	EventWithdrawal             = "Withdrawal"
	EventUpgraded               = "Upgraded"
	EventInitialized            = "Initialized"
	EventOwnershipTransferred   = "OwnershipTransferred"
	EventRoleGranted            = "RoleGranted"
	EventRoleRevoked            = "RoleRevoked"
)

// Defaults shared by the relayer and the tests
const (
	// DefaultForwarderName is the EIP-712 domain name of the forwarder
	DefaultForwarderName = "accountForwarder"

	// DefaultDomainVersion is the EIP-712 domain version used by every contract
	DefaultDomainVersion = "1"

	// DefaultTokenName and DefaultTokenSymbol describe the permit-enabled token
	DefaultTokenName   = "Ametist"
	DefaultTokenSymbol = "AME"
)
