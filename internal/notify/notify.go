package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dyike/CareMesh/consts"
	"github.com/dyike/CareMesh/internal/storage"
	"github.com/dyike/CareMesh/models"
)

const (
	TypeSuccess = "success"
	TypeError   = "error"
)

type Notification struct {
	Type           string         `json:"type"`
	Title          string         `json:"title"`
	Message        string         `json:"message"`
	SessionID      string         `json:"session_id"`
	RequesterID    string         `json:"requester_id"`
	ContractID     string         `json:"contract_id,omitempty"`
	Details        map[string]any `json:"details,omitempty"`
	ActionRequired string         `json:"action_required"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Notifier delivers the outcome of a finished session to its requester.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// FromSnapshot builds the notification for a finished session.
func FromSnapshot(snap models.SessionSnapshot, now time.Time) Notification {
	n := Notification{
		SessionID:   snap.ID,
		RequesterID: snap.InitiatorID,
		Timestamp:   now,
	}
	if c := snap.Contract; c != nil {
		n.Type = TypeSuccess
		n.Title = "Negotiation Complete"
		n.Message = fmt.Sprintf("Secured %d %s for %s", c.Quantity, c.Resource, c.TotalPrice.StringFixed(2))
		n.ContractID = c.ID
		n.Details = map[string]any{
			"supplier":   c.SupplierID,
			"total_cost": c.TotalPrice,
			"savings":    c.Summary.Savings,
			"delivery":   c.DeliveryDeadline,
		}
		n.ActionRequired = "Review and sign contract"
		return n
	}

	n.Type = TypeError
	n.Title = "Negotiation Failed"
	n.Message = "Unable to secure resources. No suitable offers received."
	if snap.Status == models.StatusFailed && snap.Error != "" {
		n.Message = "Negotiation aborted: " + snap.Error
	}
	if d := snap.Decision; d != nil && len(d.Recommendations) > 0 {
		n.Details = map[string]any{"recommendations": d.Recommendations}
	}
	n.ActionRequired = "Review requirements and try again"
	return n
}

// StoreNotifier keeps the latest notification per requester in the
// ephemeral store.
type StoreNotifier struct {
	store storage.Store
	ttl   time.Duration
}

func NewStoreNotifier(s storage.Store, ttl time.Duration) *StoreNotifier {
	if ttl <= 0 {
		ttl = consts.DefaultNotificationTTL
	}
	return &StoreNotifier{store: s, ttl: ttl}
}

func (s *StoreNotifier) Notify(ctx context.Context, n Notification) error {
	return storage.SetJSON(ctx, s.store, storage.NotificationKey(n.RequesterID), n, s.ttl)
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m {
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
