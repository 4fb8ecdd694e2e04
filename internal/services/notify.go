package services

import (
	"context"
	"fmt"
	"time"

	"campus-ticket/models"

	pubnub "github.com/pubnub/go/v7"
	"go.uber.org/zap"
)

// Notifier tells a purchaser that their payment went through.
type Notifier interface {
	PaymentCompleted(ctx context.Context, p *models.Payment) error
}

type PubNubNotifier struct {
	publish func(channel string, message map[string]any) error
	logger  *zap.Logger
}

func NewPubNubNotifier(pn *pubnub.PubNub, logger *zap.Logger) *PubNubNotifier {
	return &PubNubNotifier{
		publish: func(channel string, message map[string]any) error {
			_, _, err := pn.Publish().
				Channel(channel).
				Message(message).
				Execute()
			return err
		},
		logger: logger.Named("notify"),
	}
}

// UserChannel is the purchaser's private realtime channel.
func UserChannel(userID string) string {
	return fmt.Sprintf("user-%s", userID)
}

func (n *PubNubNotifier) PaymentCompleted(ctx context.Context, p *models.Payment) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	message := map[string]any{
		"type":       "payment_completed",
		"payment_id": p.ID,
		"event_id":   p.EventID,
		"ticket_ids": p.TicketIDs,
		"amount":     p.Amount.StringFixed(2),
	}
	if p.CompletedAt != nil {
		message["completed_at"] = p.CompletedAt.Format(time.RFC3339)
	}

	if err := n.publish(UserChannel(p.UserID), message); err != nil {
		return fmt.Errorf("publish payment_completed: %w", err)
	}

	n.logger.Debug("purchaser notified", zap.String("payment_id", p.ID))
	return nil
}

// NopNotifier is used when realtime notifications are not configured.
type NopNotifier struct{}

func (NopNotifier) PaymentCompleted(context.Context, *models.Payment) error { return nil }
