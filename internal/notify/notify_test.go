package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dyike/CareMesh/internal/storage"
	"github.com/dyike/CareMesh/models"
)

func successSnapshot() models.SessionSnapshot {
	return models.SessionSnapshot{
		ID:          "s1",
		InitiatorID: "HOSP_A",
		Status:      models.StatusCompleted,
		Contract: &models.Contract{
			ID:         "contract-20250301-abcd",
			SupplierID: "HOSP_C",
			Resource:   models.ResourceVentilators,
			Quantity:   5,
			TotalPrice: decimal.NewFromInt(450000),
		},
	}
}

func TestFromSnapshot(t *testing.T) {
	now := time.Now()
	n := FromSnapshot(successSnapshot(), now)
	if n.Type != TypeSuccess || n.ContractID != "contract-20250301-abcd" || n.RequesterID != "HOSP_A" {
		t.Fatalf("unexpected success notification %+v", n)
	}

	failed := models.SessionSnapshot{
		ID:          "s2",
		InitiatorID: "HOSP_A",
		Status:      models.StatusCompleted,
		Decision:    &models.Decision{Recommendations: []string{"Try increasing budget"}},
	}
	n = FromSnapshot(failed, now)
	if n.Type != TypeError || n.Details["recommendations"] == nil {
		t.Fatalf("unexpected failure notification %+v", n)
	}
}

func TestStoreNotifier(t *testing.T) {
	ctx := context.Background()
	s := storage.NewMemoryStore()
	n := FromSnapshot(successSnapshot(), time.Now())
	if err := NewStoreNotifier(s, time.Hour).Notify(ctx, n); err != nil {
		t.Fatalf("notify: %v", err)
	}
	var got Notification
	ok, err := storage.GetJSON(ctx, s, storage.NotificationKey("HOSP_A"), &got)
	if err != nil || !ok || got.ContractID != n.ContractID {
		t.Fatalf("stored notification: %+v ok=%v err=%v", got, ok, err)
	}
}

func TestWebhookPostsJSON(t *testing.T) {
	var received Notification
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := FromSnapshot(successSnapshot(), time.Now())
	if err := NewWebhook(srv.URL, time.Second).Notify(context.Background(), n); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if received.SessionID != "s1" || received.Type != TypeSuccess {
		t.Fatalf("unexpected payload %+v", received)
	}
}

func TestWebhookReportsHTTPErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, time.Second).Notify(context.Background(), Notification{SessionID: "s1"})
	if err == nil {
		t.Fatalf("expected error for 400 response")
	}
	if calls.Load() == 0 {
		t.Fatalf("webhook never called")
	}
}

type failing struct{}

func (failing) Notify(context.Context, Notification) error { return errors.New("down") }

func TestMultiJoinsErrors(t *testing.T) {
	s := storage.NewMemoryStore()
	m := Multi{failing{}, nil, NewStoreNotifier(s, 0)}
	err := m.Notify(context.Background(), Notification{RequesterID: "HOSP_A"})
	if err == nil {
		t.Fatalf("expected joined error")
	}
	if _, ok, _ := s.Get(context.Background(), storage.NotificationKey("HOSP_A")); !ok {
		t.Fatalf("later notifiers must still run")
	}
}
