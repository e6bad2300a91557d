package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ContractStatus string

const (
	ContractStatusPending  ContractStatus = "pending"
	ContractStatusAccepted ContractStatus = "accepted"
	ContractStatusDeclined ContractStatus = "declined"
	ContractStatusExpired  ContractStatus = "expired"
)

// DefaultContractTTL is the fixed window a goalkeeper has to respond.
const DefaultContractTTL = 24 * time.Hour

var (
	ErrContractNotFound        = errors.New("contract not found")
	ErrContractExpired         = errors.New("contract has expired")
	ErrContractAlreadyResolved = errors.New("contract already resolved")
	ErrNotContractRecipient    = errors.New("only the offer recipient can respond")
)

// Contract is a time-bounded hire offer from a contractor to a goalkeeper
// for one announcement.
type Contract struct {
	ID               uuid.UUID      `json:"id"`
	AnnouncementID   uuid.UUID      `json:"announcement_id"`
	GoalkeeperUserID uuid.UUID      `json:"goalkeeper_user_id"`
	ContractorUserID uuid.UUID      `json:"contractor_user_id"`
	OfferedAmount    *float64       `json:"offered_amount,omitempty"`
	AdditionalNotes  *string        `json:"additional_notes,omitempty"`
	Status           ContractStatus `json:"status"`
	CreatedAt        time.Time      `json:"created_at"`
	RespondedAt      *time.Time     `json:"responded_at,omitempty"`
	ExpiresAt        time.Time      `json:"expires_at"`
}

// IsResolved reports whether the contract reached a terminal state.
func (c *Contract) IsResolved() bool {
	return c.Status != ContractStatusPending
}

// IsExpired reports whether a still-pending contract is past its TTL.
func (c *Contract) IsExpired(now time.Time) bool {
	return c.Status == ContractStatusPending && now.After(c.ExpiresAt)
}

// ContractStateError is a state-conflict rejection carrying the authoritative
// contract so the caller can refresh its view.
type ContractStateError struct {
	Contract *Contract
	reason   error
}

func (e *ContractStateError) Error() string {
	return fmt.Sprintf("%v (status=%s)", e.reason, e.Contract.Status)
}

func (e *ContractStateError) Unwrap() error {
	return e.reason
}

type ContractRepository interface {
	CreateContract(ctx context.Context, c *Contract) (*Contract, error)
	GetContract(ctx context.Context, id uuid.UUID) (*Contract, error)
	// ResolveContract performs the guarded terminal transition: the update
	// applies only while the row is still pending. ErrContractNotFound is
	// returned when the guard misses, i.e. another writer got there first.
	ResolveContract(ctx context.Context, id uuid.UUID, to ContractStatus, respondedAt *time.Time) (*Contract, error)
	ListContractsForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Contract, error)
	ExpirePendingBefore(ctx context.Context, now time.Time) (int64, error)
}
