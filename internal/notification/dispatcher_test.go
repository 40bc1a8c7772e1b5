package notification

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/finverse/banking-platform/internal/domain"
)

type stubNotificationRepo struct {
	inserted []domain.Notification
}

func (s *stubNotificationRepo) InsertNotificationTx(ctx context.Context, tx pgx.Tx, n domain.Notification) error {
	s.inserted = append(s.inserted, n)
	return nil
}

func (s *stubNotificationRepo) ListNotifications(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Notification, error) {
	return s.inserted, nil
}

func TestDispatchDepositEvent(t *testing.T) {
	repo := &stubNotificationRepo{}
	service := NewService(repo)

	event := domain.EventEnvelope{
		EventID:      uuid.New(),
		EventType:    "transaction.deposit",
		AccountID:    uuid.New(),
		OwnerID:      uuid.New(),
		Amount:       decimal.RequireFromString("100.25"),
		BalanceAfter: decimal.RequireFromString("350.75"),
		OccurredAt:   time.Now().UTC(),
	}
	if err := service.dispatch(context.Background(), nil, event); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	if len(repo.inserted) != 1 {
		t.Fatalf("inserted %d rows, want 1", len(repo.inserted))
	}
	row := repo.inserted[0]
	if row.UserID != event.OwnerID {
		t.Fatal("notification not addressed to the account owner")
	}
	if row.Title != "Deposit received" {
		t.Fatalf("title = %q", row.Title)
	}
	if !strings.Contains(row.Body, "100.25") || !strings.Contains(row.Body, "350.75") {
		t.Fatalf("body = %q", row.Body)
	}
}

func TestDispatchIgnoresUnknownEventTypes(t *testing.T) {
	repo := &stubNotificationRepo{}
	service := NewService(repo)

	event := domain.EventEnvelope{
		EventID:   uuid.New(),
		EventType: "audit.snapshot_taken",
	}
	if err := service.dispatch(context.Background(), nil, event); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if len(repo.inserted) != 0 {
		t.Fatal("unknown events must not notify")
	}
}

func TestRenderDebitsShowAbsoluteAmounts(t *testing.T) {
	event := domain.EventEnvelope{
		EventType:    "transaction.withdrawal",
		Amount:       decimal.RequireFromString("-42.00"),
		BalanceAfter: decimal.RequireFromString("58.00"),
	}
	_, body := render(event)
	if strings.Contains(body, "-42") {
		t.Fatalf("debit body shows signed amount: %q", body)
	}
	if !strings.Contains(body, "42.00") {
		t.Fatalf("body = %q", body)
	}
}

func TestRenderStatusChange(t *testing.T) {
	event := domain.EventEnvelope{
		EventType:   domain.EventTypeAccountStatusChanged,
		Description: "suspended",
	}
	title, body := render(event)
	if title != "Account status changed" {
		t.Fatalf("title = %q", title)
	}
	if !strings.Contains(body, "suspended") {
		t.Fatalf("body = %q", body)
	}
}
