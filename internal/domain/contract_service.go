package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const maxContractNotesLen = 500

// ContractService runs the offer state machine. Contract and notification
// writes are authoritative; push dispatch is best-effort and reported back
// as a warning, never rolled back.
type ContractService struct {
	contracts  ContractRepository
	store      *NotificationStore
	dispatcher *DeliveryDispatcher
	ttl        time.Duration
	logger     *zap.Logger
}

func NewContractService(contracts ContractRepository, store *NotificationStore, dispatcher *DeliveryDispatcher, ttl time.Duration, logger *zap.Logger) *ContractService {
	if ttl <= 0 {
		ttl = DefaultContractTTL
	}
	return &ContractService{
		contracts:  contracts,
		store:      store,
		dispatcher: dispatcher,
		ttl:        ttl,
		logger:     logger,
	}
}

type ProposeContractInput struct {
	GoalkeeperUserID uuid.UUID
	ContractorUserID uuid.UUID
	AnnouncementID   uuid.UUID
	OfferedAmount    *float64
	AdditionalNotes  *string
}

// ProposeResult reports the committed contract plus any best-effort side
// effect that failed after the commit.
type ProposeResult struct {
	Contract        *Contract
	Notification    *Notification
	DeliveryWarning error
}

// Propose creates a pending contract expiring in one TTL, notifies the
// goalkeeper and dispatches a push. Multiple pending offers for the same
// (announcement, goalkeeper) pair are allowed.
func (s *ContractService) Propose(ctx context.Context, in ProposeContractInput) (*ProposeResult, error) {
	if err := validatePropose(in); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	contract := &Contract{
		ID:               uuid.New(),
		AnnouncementID:   in.AnnouncementID,
		GoalkeeperUserID: in.GoalkeeperUserID,
		ContractorUserID: in.ContractorUserID,
		OfferedAmount:    in.OfferedAmount,
		AdditionalNotes:  in.AdditionalNotes,
		Status:           ContractStatusPending,
		CreatedAt:        now,
		ExpiresAt:        now.Add(s.ttl),
	}

	created, err := s.contracts.CreateContract(ctx, contract)
	if err != nil {
		return nil, fmt.Errorf("propose contract: %w", err)
	}

	result := &ProposeResult{Contract: created}

	payload := ContractPayload{
		ContractID:     created.ID,
		AnnouncementID: created.AnnouncementID,
		ContractorID:   created.ContractorUserID,
		GoalkeeperID:   created.GoalkeeperUserID,
		OfferedAmount:  created.OfferedAmount,
	}
	if created.AdditionalNotes != nil {
		payload.Notes = *created.AdditionalNotes
	}

	notif, err := s.store.Create(ctx, NewNotificationInput{
		UserID:         created.GoalkeeperUserID,
		Type:           TypeContractRequest,
		Title:          "New contract offer",
		Body:           contractRequestBody(created.OfferedAmount),
		Data:           encodePayload(payload),
		RequiresAction: true,
		ExpiresAt:      &created.ExpiresAt,
	})
	if err != nil {
		// The contract is committed; the recipient can still discover it
		// through the contract listing.
		s.logger.Warn("contract offer notification failed",
			zap.String("contract_id", created.ID.String()),
			zap.Error(err),
		)
		result.DeliveryWarning = fmt.Errorf("offer saved, notification delivery failed: %w", err)
		return result, nil
	}
	result.Notification = notif

	if warn := s.dispatcher.Send(ctx, created.GoalkeeperUserID, notif); warn != nil {
		result.DeliveryWarning = warn
	}
	return result, nil
}

type RespondResult struct {
	Contract        *Contract
	DeliveryWarning error
}

// Respond applies the recipient's accept/decline to a pending contract.
// Terminal contracts are rejected with the authoritative state attached;
// a late response expires the contract instead of honoring it.
func (s *ContractService) Respond(ctx context.Context, notificationID, contractID, userID uuid.UUID, accepted bool) (*RespondResult, error) {
	contract, err := s.contracts.GetContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if contract.GoalkeeperUserID != userID {
		return nil, ErrNotContractRecipient
	}
	if contract.IsResolved() {
		return nil, &ContractStateError{Contract: contract, reason: ErrContractAlreadyResolved}
	}

	now := time.Now().UTC()
	if now.After(contract.ExpiresAt) {
		expired, expErr := s.contracts.ResolveContract(ctx, contractID, ContractStatusExpired, nil)
		if expErr != nil {
			// Either someone else resolved it first or the write failed; the
			// TTL has elapsed either way, so report whatever is there now.
			expired, _ = s.contracts.GetContract(ctx, contractID)
			if expired == nil {
				expired = contract
			}
		}
		return nil, &ContractStateError{Contract: expired, reason: ErrContractExpired}
	}

	to := ContractStatusDeclined
	if accepted {
		to = ContractStatusAccepted
	}
	resolved, err := s.contracts.ResolveContract(ctx, contractID, to, &now)
	if err != nil {
		if !errors.Is(err, ErrContractNotFound) {
			// Transient write failure; the contract is still pending and the
			// caller may retry. Not a state conflict.
			return nil, fmt.Errorf("respond to contract: %w", err)
		}
		// Guard miss: a concurrent respond or the expiry sweep won the race.
		current, getErr := s.contracts.GetContract(ctx, contractID)
		if getErr != nil {
			return nil, getErr
		}
		reason := ErrContractAlreadyResolved
		if current.Status == ContractStatusExpired {
			reason = ErrContractExpired
		}
		return nil, &ContractStateError{Contract: current, reason: reason}
	}

	result := &RespondResult{Contract: resolved}

	if notificationID != uuid.Nil {
		if err := s.store.MarkActionTaken(ctx, notificationID); err != nil {
			s.logger.Warn("failed to mark offer notification acted",
				zap.String("notification_id", notificationID.String()),
				zap.Error(err),
			)
		}
	}

	if accepted {
		result.DeliveryWarning = s.notifyAcceptance(ctx, resolved)
	}
	return result, nil
}

// notifyAcceptance tells the contractor their offer was accepted.
func (s *ContractService) notifyAcceptance(ctx context.Context, contract *Contract) error {
	payload := ContractPayload{
		ContractID:     contract.ID,
		AnnouncementID: contract.AnnouncementID,
		ContractorID:   contract.ContractorUserID,
		GoalkeeperID:   contract.GoalkeeperUserID,
		OfferedAmount:  contract.OfferedAmount,
	}

	notif, err := s.store.Create(ctx, NewNotificationInput{
		UserID: contract.ContractorUserID,
		Type:   TypeContractAccepted,
		Title:  "Contract accepted",
		Body:   "Your goalkeeper accepted the offer.",
		Data:   encodePayload(payload),
	})
	if err != nil {
		s.logger.Warn("acceptance notification failed",
			zap.String("contract_id", contract.ID.String()),
			zap.Error(err),
		)
		return fmt.Errorf("response saved, confirmation delivery failed: %w", err)
	}
	return s.dispatcher.Send(ctx, contract.ContractorUserID, notif)
}

// ListForUser returns contracts where the user is either party.
func (s *ContractService) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*Contract, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.contracts.ListContractsForUser(ctx, userID, limit, offset)
}

// ExpireDue transitions every pending contract past its TTL to expired.
// Expiry produces no notification.
func (s *ContractService) ExpireDue(ctx context.Context) (int64, error) {
	return s.contracts.ExpirePendingBefore(ctx, time.Now().UTC())
}

// StartExpiryWorker sweeps overdue contracts on a ticker until ctx is done.
func (s *ContractService) StartExpiryWorker(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.ExpireDue(ctx)
				if err != nil {
					s.logger.Error("contract expiry sweep failed", zap.Error(err))
					continue
				}
				if n > 0 {
					s.logger.Info("expired overdue contracts", zap.Int64("count", n))
				}
			}
		}
	}()
}

func validatePropose(in ProposeContractInput) error {
	if in.GoalkeeperUserID == uuid.Nil || in.ContractorUserID == uuid.Nil || in.AnnouncementID == uuid.Nil {
		return fmt.Errorf("propose contract: missing required ids")
	}
	if in.GoalkeeperUserID == in.ContractorUserID {
		return fmt.Errorf("propose contract: cannot hire yourself")
	}
	if in.OfferedAmount != nil && *in.OfferedAmount < 0 {
		return fmt.Errorf("propose contract: offered amount cannot be negative")
	}
	if in.AdditionalNotes != nil && len(*in.AdditionalNotes) > maxContractNotesLen {
		return fmt.Errorf("propose contract: notes exceed %d characters", maxContractNotesLen)
	}
	return nil
}

func contractRequestBody(amount *float64) string {
	if amount == nil {
		return "You received a contract offer for an upcoming match."
	}
	return fmt.Sprintf("You received a contract offer of %.2f for an upcoming match.", *amount)
}
