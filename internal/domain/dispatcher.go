package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SendOutcome classifies one push attempt per the external send interface.
type SendOutcome int

const (
	SendOK SendOutcome = iota
	SendInvalidToken
	SendTransientError
)

// PushSender is the external out-of-band delivery interface.
type PushSender interface {
	Send(ctx context.Context, token, title, body string, data map[string]string) (SendOutcome, error)
}

// DeliveryDispatcher resolves a user to active push destinations and invokes
// the sender once per token. Failures here never touch domain state beyond
// deactivating permanently dead tokens.
type DeliveryDispatcher struct {
	gate        *PreferenceGate
	tokens      PushTokenRepository
	sender      PushSender
	sendTimeout time.Duration
	logger      *zap.Logger
}

func NewDeliveryDispatcher(gate *PreferenceGate, tokens PushTokenRepository, sender PushSender, logger *zap.Logger) *DeliveryDispatcher {
	return &DeliveryDispatcher{
		gate:        gate,
		tokens:      tokens,
		sender:      sender,
		sendTimeout: 10 * time.Second,
		logger:      logger,
	}
}

// Send pushes a stored notification to every active device of the user.
// Returns a warning error when delivery could not be attempted or every
// token failed; the notification itself is already committed either way.
func (d *DeliveryDispatcher) Send(ctx context.Context, userID uuid.UUID, n *Notification) error {
	if d.sender == nil {
		// Push is optional infrastructure; without it delivery is in-app only.
		return nil
	}
	if !d.gate.IsEnabled(ctx, userID, n.Category) {
		return nil
	}

	tokens, err := d.tokens.GetActivePushTokens(ctx, userID)
	if err != nil {
		d.logger.Warn("push token lookup failed", zap.String("user_id", userID.String()), zap.Error(err))
		return fmt.Errorf("push delivery skipped: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}

	data := make(map[string]string, len(n.Data)+2)
	for k, v := range n.Data {
		data[k] = fmt.Sprintf("%v", v)
	}
	data["type"] = n.Type
	data["notification_id"] = n.ID.String()

	sent := 0
	for _, t := range tokens {
		if t.Token == "" {
			continue
		}
		sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
		outcome, sendErr := d.sender.Send(sendCtx, t.Token, n.Title, n.Body, data)
		cancel()

		switch outcome {
		case SendOK:
			sent++
		case SendInvalidToken:
			// Permanently dead destination; retire it, keep the batch going.
			if derr := d.tokens.DeactivatePushToken(ctx, userID, t.Token); derr != nil {
				d.logger.Warn("failed to deactivate stale push token", zap.Error(derr))
			}
			d.logger.Info("deactivated invalid push token",
				zap.String("user_id", userID.String()),
				zap.String("platform", t.Platform),
			)
		default:
			d.logger.Warn("push send failed",
				zap.String("user_id", userID.String()),
				zap.String("platform", t.Platform),
				zap.Error(sendErr),
			)
		}
	}

	if sent == 0 {
		return fmt.Errorf("push delivery failed for all %d devices", len(tokens))
	}
	return nil
}

// RegisterToken records or reactivates a device destination.
func (d *DeliveryDispatcher) RegisterToken(ctx context.Context, userID uuid.UUID, token, platform string) (*PushToken, error) {
	if token == "" {
		return nil, fmt.Errorf("register push token: token is required")
	}
	now := time.Now().UTC()
	return d.tokens.UpsertPushToken(ctx, &PushToken{
		UserID:    userID,
		Token:     token,
		Platform:  platform,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// UnregisterToken soft-deletes a device destination on logout.
func (d *DeliveryDispatcher) UnregisterToken(ctx context.Context, userID uuid.UUID, token string) error {
	return d.tokens.DeactivatePushToken(ctx, userID, token)
}
