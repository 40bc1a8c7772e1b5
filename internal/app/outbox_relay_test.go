package app

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/finverse/banking-platform/internal/domain"
)

type stubOutboxRepo struct {
	entries []domain.OutboxEntry

	published  []uuid.UUID
	failed     []uuid.UUID
	failDelays []int
	dead       []uuid.UUID
}

func (s *stubOutboxRepo) ClaimPending(ctx context.Context, limit int, staleAfterSeconds int) ([]domain.OutboxEntry, error) {
	if len(s.entries) > limit {
		return s.entries[:limit], nil
	}
	return s.entries, nil
}

func (s *stubOutboxRepo) MarkPublished(ctx context.Context, id uuid.UUID) error {
	s.published = append(s.published, id)
	return nil
}

func (s *stubOutboxRepo) MarkFailed(ctx context.Context, id uuid.UUID, retryAfterSeconds int, reason string) error {
	s.failed = append(s.failed, id)
	s.failDelays = append(s.failDelays, retryAfterSeconds)
	return nil
}

func (s *stubOutboxRepo) MarkDeadLetter(ctx context.Context, id uuid.UUID, reason string) error {
	s.dead = append(s.dead, id)
	return nil
}

type stubPublisher struct {
	routingKeys []string
	err         error
}

func (s *stubPublisher) Publish(ctx context.Context, routingKey string, eventID string, body []byte) error {
	s.routingKeys = append(s.routingKeys, routingKey)
	return s.err
}

func outboxEntry(eventType string, attempts int) domain.OutboxEntry {
	return domain.OutboxEntry{
		ID:          uuid.New(),
		AggregateID: uuid.New(),
		EventType:   eventType,
		Payload:     []byte(`{"amount":"10"}`),
		Status:      domain.OutboxProcessing,
		Attempts:    attempts,
	}
}

func TestFlushOncePublishesAndMarks(t *testing.T) {
	entry := outboxEntry("transaction.deposit", 1)
	repo := &stubOutboxRepo{entries: []domain.OutboxEntry{entry}}
	publisher := &stubPublisher{}

	relay := NewOutboxRelay(repo, publisher)
	if err := relay.FlushOnce(context.Background()); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	if len(publisher.routingKeys) != 1 || publisher.routingKeys[0] != "transaction.deposit" {
		t.Fatalf("routing keys = %v", publisher.routingKeys)
	}
	if len(repo.published) != 1 || repo.published[0] != entry.ID {
		t.Fatalf("published = %v", repo.published)
	}
	if len(repo.failed) != 0 || len(repo.dead) != 0 {
		t.Fatal("successful publish must not mark failed or dead")
	}
}

func TestFlushOnceReschedulesOnPublishFailure(t *testing.T) {
	entry := outboxEntry("transaction.withdrawal", 3)
	repo := &stubOutboxRepo{entries: []domain.OutboxEntry{entry}}
	publisher := &stubPublisher{err: errors.New("broker unavailable")}

	relay := NewOutboxRelay(repo, publisher)
	if err := relay.FlushOnce(context.Background()); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	if len(repo.published) != 0 {
		t.Fatal("failed publish must not be marked published")
	}
	if len(repo.failed) != 1 || repo.failed[0] != entry.ID {
		t.Fatalf("failed = %v", repo.failed)
	}
	if repo.failDelays[0] != 8 {
		t.Fatalf("retry delay = %d, want 8 (2^3)", repo.failDelays[0])
	}
}

// selectivePublisher fails only the listed routing keys.
type selectivePublisher struct {
	failKeys    map[string]bool
	routingKeys []string
}

func (s *selectivePublisher) Publish(ctx context.Context, routingKey string, eventID string, body []byte) error {
	if s.failKeys[routingKey] {
		return errors.New("broker unavailable")
	}
	s.routingKeys = append(s.routingKeys, routingKey)
	return nil
}

// After a publish failure, later entries for the same account in the batch
// must not be published ahead of the failed one; other accounts still flow.
func TestFlushOnceHoldsBackSameAccountAfterFailure(t *testing.T) {
	accountID := uuid.New()
	first := outboxEntry("transaction.transfer_out", 2)
	first.AggregateID = accountID
	second := outboxEntry("transaction.fee", 1)
	second.AggregateID = accountID
	other := outboxEntry("transaction.deposit", 1)

	repo := &stubOutboxRepo{entries: []domain.OutboxEntry{first, second, other}}
	publisher := &selectivePublisher{failKeys: map[string]bool{"transaction.transfer_out": true}}

	relay := NewOutboxRelay(repo, publisher)
	if err := relay.FlushOnce(context.Background()); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	if len(publisher.routingKeys) != 1 || publisher.routingKeys[0] != "transaction.deposit" {
		t.Fatalf("published keys = %v, want only the other account's entry", publisher.routingKeys)
	}
	if len(repo.failed) != 2 {
		t.Fatalf("failed = %v, want the failed entry and its held-back successor", repo.failed)
	}
	if repo.failed[0] != first.ID || repo.failed[1] != second.ID {
		t.Fatalf("failed order = %v, want [%s %s]", repo.failed, first.ID, second.ID)
	}
	// The held-back entry comes due together with the one it waits on.
	if repo.failDelays[0] != repo.failDelays[1] {
		t.Fatalf("delays = %v, want matching delays", repo.failDelays)
	}
	if len(repo.published) != 1 || repo.published[0] != other.ID {
		t.Fatalf("published = %v", repo.published)
	}
}

func TestFlushOnceDeadLettersExhaustedEntries(t *testing.T) {
	exhausted := outboxEntry("transaction.deposit", 11)
	healthy := outboxEntry("transaction.deposit", 1)
	repo := &stubOutboxRepo{entries: []domain.OutboxEntry{exhausted, healthy}}
	publisher := &stubPublisher{}

	relay := NewOutboxRelay(repo, publisher)
	if err := relay.FlushOnce(context.Background()); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	if len(repo.dead) != 1 || repo.dead[0] != exhausted.ID {
		t.Fatalf("dead = %v", repo.dead)
	}
	// The exhausted entry must never hit the bus; the healthy one must.
	if len(publisher.routingKeys) != 1 {
		t.Fatalf("published %d messages, want 1", len(publisher.routingKeys))
	}
	if len(repo.published) != 1 || repo.published[0] != healthy.ID {
		t.Fatalf("published = %v", repo.published)
	}
}

func TestFlushOnceRespectsBatchSize(t *testing.T) {
	repo := &stubOutboxRepo{}
	for i := 0; i < 5; i++ {
		repo.entries = append(repo.entries, outboxEntry("transaction.deposit", 1))
	}
	publisher := &stubPublisher{}

	relay := NewOutboxRelay(repo, publisher)
	relay.Configure(2, 0, 0, 0)
	if err := relay.FlushOnce(context.Background()); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if len(publisher.routingKeys) != 2 {
		t.Fatalf("published %d messages, want batch of 2", len(publisher.routingKeys))
	}
}

func TestRetryDelayBacksOffAndCaps(t *testing.T) {
	cases := []struct{ attempt, want int }{
		{0, 1},
		{1, 2},
		{2, 4},
		{5, 32},
		{8, 256},
		{9, 256},
		{50, 256},
	}
	for _, tc := range cases {
		if got := retryDelaySeconds(tc.attempt); got != tc.want {
			t.Fatalf("retryDelaySeconds(%d) = %d, want %d", tc.attempt, got, tc.want)
		}
	}
}
