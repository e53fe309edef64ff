package factory

import (
	"encoding/binary"
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/ametist/accountbox"
	"github.com/ametist/accountbox/chain"
)

// AccountNamespace seeds the name-based account identifiers
var AccountNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("accountbox.account"))

// Layout lists stored fields in declaration order
type Layout []string

var (
	// LayoutV1 is the storage of the first implementation
	LayoutV1 = Layout{
		"initialized",
		"owner",
		"trustedForwarder",
		"template",
		"userCounters",
		"accountsByIndex",
		"accountsById",
	}

	// LayoutV2 appends the total account counter
	LayoutV2 = append(slices.Clone(LayoutV1), "totalAccounts")
)

// Extends reports whether l keeps every field of prev at the same position
func (l Layout) Extends(prev Layout) error {
	for i, field := range prev {
		if i >= len(l) {
			return &accountbox.IncompatibleLayoutError{Position: i}
		}
		if l[i] != field {
			return &accountbox.IncompatibleLayoutError{Field: l[i], Position: i}
		}
	}
	return nil
}

type accountKey struct {
	owner common.Address
	id    uuid.UUID
}

// Record is one provisioned account
type Record struct {
	ID      uuid.UUID
	Owner   common.Address
	Address common.Address
	Index   uint64
}

// State is the persistent storage of a factory. It lives in the handle and is shared by every
// implementation the handle points at; implementations only read and write it.
type State struct {
	implementation common.Address
	layout         Layout

	initialized      uint64
	owner            common.Address
	trustedForwarder common.Address
	template         common.Address
	counters         map[common.Address]uint64
	byIndex          map[common.Address][]common.Address
	byID             map[accountKey]common.Address

	totalAccounts uint64
}

// NewState creates empty storage
func NewState() *State {
	return &State{
		counters: make(map[common.Address]uint64),
		byIndex:  make(map[common.Address][]common.Address),
		byID:     make(map[accountKey]common.Address),
	}
}

// Implementation is the active implementation pointer
func (s *State) Implementation() common.Address { return s.implementation }

// Owner may upgrade the handle
func (s *State) Owner() common.Address { return s.owner }

// TrustedForwarder is the forwarder new accounts and the factory itself trust
func (s *State) TrustedForwarder() common.Address { return s.trustedForwarder }

// Template is the account logic clones are bound to
func (s *State) Template() common.Address { return s.template }

// Counter is the number of accounts owner has created
func (s *State) Counter(owner common.Address) uint64 { return s.counters[owner] }

// ByIndex returns the index-th account of owner
func (s *State) ByIndex(owner common.Address, index uint64) (common.Address, error) {
	accounts := s.byIndex[owner]
	if index >= uint64(len(accounts)) {
		return common.Address{}, fmt.Errorf("%w: owner %s index %d", accountbox.ErrAccountNotFound, owner.Hex(), index)
	}
	return accounts[index], nil
}

// ByID returns the account of owner with id
func (s *State) ByID(owner common.Address, id uuid.UUID) (common.Address, error) {
	addr, ok := s.byID[accountKey{owner, id}]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: owner %s id %s", accountbox.ErrAccountNotFound, owner.Hex(), id)
	}
	return addr, nil
}

// TotalAccounts is the V2 counter of all accounts
func (s *State) TotalAccounts() uint64 { return s.totalAccounts }

// NextID returns the id the next account of owner will get
func (s *State) NextID(factory, owner common.Address) uuid.UUID {
	return AccountID(factory, owner, s.counters[owner])
}

// AccountID derives the identifier of the index-th account of owner at factory
func AccountID(factory, owner common.Address, index uint64) uuid.UUID {
	name := make([]byte, 0, 2*common.AddressLength+8)
	name = append(name, factory.Bytes()...)
	name = append(name, owner.Bytes()...)
	name = binary.BigEndian.AppendUint64(name, index)
	return uuid.NewSHA1(AccountNamespace, name)
}

func (s *State) record(j *chain.Journal, r Record) {
	accounts := append(slices.Clone(s.byIndex[r.Owner]), r.Address)
	chain.Put(j, s.byIndex, r.Owner, accounts)
	chain.Put(j, s.byID, accountKey{r.Owner, r.ID}, r.Address)
	chain.Put(j, s.counters, r.Owner, r.Index+1)
}

func (s *State) countAccounts() uint64 {
	var total uint64
	for _, n := range s.counters {
		total += n
	}
	return total
}
