package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/finverse/banking-platform/internal/domain"
	"github.com/finverse/banking-platform/internal/store"
)

// stubLedger implements the ledger surface with overridable functions. The
// embedded interface panics on anything a test did not expect to be called.
type stubLedger struct {
	store.LedgerRepository
	getAccount    func(ctx context.Context, id uuid.UUID) (*domain.Account, error)
	getByNumber   func(ctx context.Context, number string) (*domain.Account, error)
	create        func(ctx context.Context, account *domain.Account, txs []domain.Transaction, events []domain.EventEnvelope) error
	save          func(ctx context.Context, account *domain.Account, expectedVersion int64, txs []domain.Transaction, events []domain.EventEnvelope) error
	getByNumberTx func(ctx context.Context, tx pgx.Tx, number string) (*domain.Account, error)
	saveTx        func(ctx context.Context, tx pgx.Tx, account *domain.Account, expectedVersion int64, txs []domain.Transaction, events []domain.EventEnvelope) error
	park          func(ctx context.Context, tx pgx.Tx, consumerName string, event domain.EventEnvelope, reason string) error
}

func (s *stubLedger) GetAccount(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
	return s.getAccount(ctx, id)
}

func (s *stubLedger) GetAccountByNumber(ctx context.Context, number string) (*domain.Account, error) {
	return s.getByNumber(ctx, number)
}

func (s *stubLedger) CreateAccountAndOutbox(ctx context.Context, account *domain.Account, txs []domain.Transaction, events []domain.EventEnvelope) error {
	return s.create(ctx, account, txs, events)
}

func (s *stubLedger) SaveAccountAndOutbox(ctx context.Context, account *domain.Account, expectedVersion int64, txs []domain.Transaction, events []domain.EventEnvelope) error {
	return s.save(ctx, account, expectedVersion, txs, events)
}

func (s *stubLedger) GetAccountByNumberTx(ctx context.Context, tx pgx.Tx, number string) (*domain.Account, error) {
	return s.getByNumberTx(ctx, tx, number)
}

func (s *stubLedger) SaveAccountAndOutboxTx(ctx context.Context, tx pgx.Tx, account *domain.Account, expectedVersion int64, txs []domain.Transaction, events []domain.EventEnvelope) error {
	return s.saveTx(ctx, tx, account, expectedVersion, txs, events)
}

func (s *stubLedger) ParkUnroutableTx(ctx context.Context, tx pgx.Tx, consumerName string, event domain.EventEnvelope, reason string) error {
	return s.park(ctx, tx, consumerName, event, reason)
}

func storedAccount(accountType domain.AccountType, balance string) *domain.Account {
	now := time.Now().UTC()
	return &domain.Account{
		ID:            uuid.New(),
		AccountNumber: "1000000001",
		OwnerID:       uuid.New(),
		Type:          accountType,
		Balance:       decimal.RequireFromString(balance),
		Status:        domain.AccountActive,
		Version:       3,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestCreateDepositPersistsEntryAndOutbox(t *testing.T) {
	account := storedAccount(domain.AccountTypeStandard, "100")

	var savedTxs []domain.Transaction
	var savedEvents []domain.EventEnvelope
	var savedVersion int64
	ledger := &stubLedger{
		getAccount: func(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
			clone := *account
			return &clone, nil
		},
		save: func(ctx context.Context, a *domain.Account, expectedVersion int64, txs []domain.Transaction, events []domain.EventEnvelope) error {
			savedVersion = expectedVersion
			savedTxs = txs
			savedEvents = events
			return nil
		},
	}

	handler := NewCommandHandler(ledger, domain.DefaultPolicies())
	result, err := handler.CreateDeposit(context.Background(), account.ID, decimal.NewFromInt(50), "salary")
	if err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	if savedVersion != 3 {
		t.Fatalf("expected version = %d, want 3", savedVersion)
	}
	if len(savedTxs) != 1 || len(savedEvents) != 1 {
		t.Fatalf("saved %d txs, %d events", len(savedTxs), len(savedEvents))
	}
	if !result.NewBalance.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("new balance = %s, want 150", result.NewBalance)
	}
	if !result.FeeCharged.IsZero() {
		t.Fatalf("fee = %s, want 0", result.FeeCharged)
	}
	if savedEvents[0].EventType != "transaction.deposit" {
		t.Fatalf("event type = %s", savedEvents[0].EventType)
	}
}

func TestCreateDepositRetriesVersionConflict(t *testing.T) {
	account := storedAccount(domain.AccountTypeStandard, "100")

	loads, saves := 0, 0
	ledger := &stubLedger{
		getAccount: func(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
			loads++
			clone := *account
			return &clone, nil
		},
		save: func(ctx context.Context, a *domain.Account, expectedVersion int64, txs []domain.Transaction, events []domain.EventEnvelope) error {
			saves++
			if saves == 1 {
				return domain.ErrConcurrencyConflict
			}
			return nil
		},
	}

	handler := NewCommandHandler(ledger, domain.DefaultPolicies())
	if _, err := handler.CreateDeposit(context.Background(), account.ID, decimal.NewFromInt(50), "salary"); err != nil {
		t.Fatalf("deposit failed after retry: %v", err)
	}
	if loads != 2 {
		t.Fatalf("account loaded %d times, want 2 (fresh reload per attempt)", loads)
	}
}

func TestCreateDepositConflictExhaustsRetries(t *testing.T) {
	account := storedAccount(domain.AccountTypeStandard, "100")

	loads := 0
	ledger := &stubLedger{
		getAccount: func(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
			loads++
			clone := *account
			return &clone, nil
		},
		save: func(ctx context.Context, a *domain.Account, expectedVersion int64, txs []domain.Transaction, events []domain.EventEnvelope) error {
			return domain.ErrConcurrencyConflict
		},
	}

	handler := NewCommandHandler(ledger, domain.DefaultPolicies())
	handler.Configure(2, time.Second)

	_, err := handler.CreateDeposit(context.Background(), account.ID, decimal.NewFromInt(50), "salary")
	if !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("got %v, want ErrConcurrencyConflict", err)
	}
	if loads != 3 {
		t.Fatalf("attempted %d times, want 3 (initial + 2 retries)", loads)
	}
}

// Two commands race on one account with 100 on it, each withdrawing 80. The
// loser's save hits the version check, reloads the winner's committed balance
// of 20, and the retry fails the funds check instead of overdrawing.
func TestConcurrentWithdrawalsNeverBothSucceed(t *testing.T) {
	account := storedAccount(domain.AccountTypeStandard, "100")

	loads, saves := 0, 0
	ledger := &stubLedger{
		getAccount: func(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
			loads++
			clone := *account
			if loads > 1 {
				clone.Balance = decimal.NewFromInt(20)
				clone.Version = 4
			}
			return &clone, nil
		},
		save: func(ctx context.Context, a *domain.Account, expectedVersion int64, txs []domain.Transaction, events []domain.EventEnvelope) error {
			saves++
			if saves > 1 {
				t.Fatal("second withdrawal must not reach the store")
			}
			return domain.ErrConcurrencyConflict
		},
	}

	handler := NewCommandHandler(ledger, domain.DefaultPolicies())
	_, err := handler.CreateWithdrawal(context.Background(), account.ID, decimal.NewFromInt(80), "rent")
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds after the reload", err)
	}
	if loads != 2 {
		t.Fatalf("account loaded %d times, want 2 (fresh reload after conflict)", loads)
	}
	if saves != 1 {
		t.Fatalf("store reached %d times, want 1", saves)
	}
}

func TestCreateDepositValidationSkipsStorage(t *testing.T) {
	ledger := &stubLedger{
		getAccount: func(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
			t.Fatal("storage must not be touched for invalid input")
			return nil, nil
		},
	}

	handler := NewCommandHandler(ledger, nil)
	_, err := handler.CreateDeposit(context.Background(), uuid.New(), decimal.Zero, "x")
	if !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("got %v, want ErrInvalidAmount", err)
	}
}

func TestCreateWithdrawalDomainErrorNotRetried(t *testing.T) {
	account := storedAccount(domain.AccountTypeStandard, "10")

	loads := 0
	ledger := &stubLedger{
		getAccount: func(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
			loads++
			clone := *account
			return &clone, nil
		},
		save: func(ctx context.Context, a *domain.Account, expectedVersion int64, txs []domain.Transaction, events []domain.EventEnvelope) error {
			t.Fatal("rejected command must not reach the store")
			return nil
		},
	}

	handler := NewCommandHandler(ledger, domain.DefaultPolicies())
	_, err := handler.CreateWithdrawal(context.Background(), account.ID, decimal.NewFromInt(100), "rent")
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}
	if loads != 1 {
		t.Fatalf("domain rejection retried: %d loads", loads)
	}
}

func TestCreateWithdrawalChargesBusinessFee(t *testing.T) {
	account := storedAccount(domain.AccountTypeBusiness, "100")

	var savedTxs []domain.Transaction
	ledger := &stubLedger{
		getAccount: func(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
			clone := *account
			return &clone, nil
		},
		save: func(ctx context.Context, a *domain.Account, expectedVersion int64, txs []domain.Transaction, events []domain.EventEnvelope) error {
			savedTxs = txs
			return nil
		},
	}

	handler := NewCommandHandler(ledger, domain.DefaultPolicies())
	result, err := handler.CreateWithdrawal(context.Background(), account.ID, decimal.NewFromInt(20), "cash")
	if err != nil {
		t.Fatalf("withdrawal failed: %v", err)
	}

	if len(savedTxs) != 2 {
		t.Fatalf("saved %d entries, want withdrawal + fee", len(savedTxs))
	}
	if !result.FeeCharged.Equal(decimal.RequireFromString("0.50")) {
		t.Fatalf("fee = %s, want 0.50", result.FeeCharged)
	}
	if !result.NewBalance.Equal(decimal.RequireFromString("79.50")) {
		t.Fatalf("new balance = %s, want 79.50", result.NewBalance)
	}
}

func TestCreateTransferRejectsSelfTransfer(t *testing.T) {
	source := storedAccount(domain.AccountTypeStandard, "100")

	ledger := &stubLedger{
		getByNumber: func(ctx context.Context, number string) (*domain.Account, error) {
			return source, nil
		},
	}

	handler := NewCommandHandler(ledger, domain.DefaultPolicies())
	_, err := handler.CreateTransfer(context.Background(), source.ID, source.AccountNumber, decimal.NewFromInt(10), "loop")
	if domain.KindOf(err) != domain.KindValidation {
		t.Fatalf("got %v, want validation error", err)
	}
}

func TestCreateTransferUnknownDestination(t *testing.T) {
	ledger := &stubLedger{
		getByNumber: func(ctx context.Context, number string) (*domain.Account, error) {
			return nil, domain.ErrAccountNotFound
		},
	}

	handler := NewCommandHandler(ledger, domain.DefaultPolicies())
	_, err := handler.CreateTransfer(context.Background(), uuid.New(), "9999999999", decimal.NewFromInt(10), "x")
	if !errors.Is(err, domain.ErrAccountNotFound) {
		t.Fatalf("got %v, want ErrAccountNotFound", err)
	}
}

func TestCreateTransferStampsDestinationOnEvent(t *testing.T) {
	source := storedAccount(domain.AccountTypeStandard, "100")
	destination := storedAccount(domain.AccountTypeStandard, "0")
	destination.AccountNumber = "2000000002"

	var savedEvents []domain.EventEnvelope
	ledger := &stubLedger{
		getAccount: func(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
			clone := *source
			return &clone, nil
		},
		getByNumber: func(ctx context.Context, number string) (*domain.Account, error) {
			return destination, nil
		},
		save: func(ctx context.Context, a *domain.Account, expectedVersion int64, txs []domain.Transaction, events []domain.EventEnvelope) error {
			savedEvents = events
			return nil
		},
	}

	handler := NewCommandHandler(ledger, domain.DefaultPolicies())
	if _, err := handler.CreateTransfer(context.Background(), source.ID, destination.AccountNumber, decimal.NewFromInt(25), "rent"); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}

	if len(savedEvents) != 1 {
		t.Fatalf("saved %d events, want 1", len(savedEvents))
	}
	if savedEvents[0].CounterpartyAccount != destination.AccountNumber {
		t.Fatalf("counterparty = %q", savedEvents[0].CounterpartyAccount)
	}
}

func TestOpenAccountRejectsNegativeInitialDeposit(t *testing.T) {
	handler := NewCommandHandler(&stubLedger{}, nil)
	_, err := handler.OpenAccount(context.Background(), uuid.New(), domain.AccountTypeStandard, decimal.NewFromInt(-1))
	if !errors.Is(err, domain.ErrInvalidAmount) {
		t.Fatalf("got %v, want ErrInvalidAmount", err)
	}
}

func TestOpenAccountSeedsInitialDeposit(t *testing.T) {
	var createdTxs []domain.Transaction
	ledger := &stubLedger{
		create: func(ctx context.Context, account *domain.Account, txs []domain.Transaction, events []domain.EventEnvelope) error {
			createdTxs = txs
			return nil
		},
	}

	handler := NewCommandHandler(ledger, domain.DefaultPolicies())
	account, err := handler.OpenAccount(context.Background(), uuid.New(), domain.AccountTypePremium, decimal.NewFromInt(200))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	if !account.Balance.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("balance = %s, want 200", account.Balance)
	}
	if len(createdTxs) != 1 || createdTxs[0].Type != domain.TransactionDeposit {
		t.Fatalf("initial deposit not in ledger: %+v", createdTxs)
	}
	if account.Status != domain.AccountActive {
		t.Fatalf("status = %s", account.Status)
	}
}

func transferOutEvent(counterparty string, amount string) domain.EventEnvelope {
	return domain.EventEnvelope{
		EventID:             uuid.New(),
		EventType:           "transaction.transfer_out",
		AccountID:           uuid.New(),
		TransactionID:       uuid.New(),
		Amount:              decimal.RequireFromString(amount),
		Description:         "rent",
		CounterpartyAccount: counterparty,
		OccurredAt:          time.Now().UTC(),
	}
}

func TestHandleTransferOutAppliesCredit(t *testing.T) {
	destination := storedAccount(domain.AccountTypeStandard, "10")
	event := transferOutEvent(destination.AccountNumber, "-40")

	var savedTxs []domain.Transaction
	ledger := &stubLedger{
		getByNumberTx: func(ctx context.Context, tx pgx.Tx, number string) (*domain.Account, error) {
			return destination, nil
		},
		saveTx: func(ctx context.Context, tx pgx.Tx, account *domain.Account, expectedVersion int64, txs []domain.Transaction, events []domain.EventEnvelope) error {
			savedTxs = txs
			return nil
		},
	}

	handler := NewCommandHandler(ledger, domain.DefaultPolicies())
	if err := handler.HandleTransferOut(context.Background(), nil, event); err != nil {
		t.Fatalf("credit leg failed: %v", err)
	}

	if len(savedTxs) != 1 {
		t.Fatalf("saved %d entries, want 1", len(savedTxs))
	}
	if savedTxs[0].Type != domain.TransactionTransferIn {
		t.Fatalf("type = %s, want transfer_in", savedTxs[0].Type)
	}
	if !savedTxs[0].Amount.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("credit amount = %s, want 40", savedTxs[0].Amount)
	}
	if savedTxs[0].SourceEventID == nil || *savedTxs[0].SourceEventID != event.EventID {
		t.Fatal("source event id not recorded on credit leg")
	}
	if !destination.Balance.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("destination balance = %s, want 50", destination.Balance)
	}
}

func TestHandleTransferOutMissingCounterpartyParked(t *testing.T) {
	var parkedReason string
	ledger := &stubLedger{
		getByNumberTx: func(ctx context.Context, tx pgx.Tx, number string) (*domain.Account, error) {
			t.Fatal("no lookup expected without a counterparty")
			return nil, nil
		},
		park: func(ctx context.Context, tx pgx.Tx, consumerName string, event domain.EventEnvelope, reason string) error {
			parkedReason = reason
			return nil
		},
	}

	handler := NewCommandHandler(ledger, nil)
	if err := handler.HandleTransferOut(context.Background(), nil, transferOutEvent("", "-40")); err != nil {
		t.Fatalf("got %v, want nil (parked + acked)", err)
	}
	if parkedReason == "" {
		t.Fatal("event without a counterparty must leave a parked record")
	}
}

func TestHandleTransferOutUnknownDestinationParked(t *testing.T) {
	event := transferOutEvent("9999999999", "-40")

	var parked *domain.EventEnvelope
	ledger := &stubLedger{
		getByNumberTx: func(ctx context.Context, tx pgx.Tx, number string) (*domain.Account, error) {
			return nil, domain.ErrAccountNotFound
		},
		park: func(ctx context.Context, tx pgx.Tx, consumerName string, e domain.EventEnvelope, reason string) error {
			if consumerName != AccountConsumerName {
				t.Fatalf("parked under consumer %q", consumerName)
			}
			parked = &e
			return nil
		},
	}

	handler := NewCommandHandler(ledger, nil)
	if err := handler.HandleTransferOut(context.Background(), nil, event); err != nil {
		t.Fatalf("got %v, want nil (parked + acked)", err)
	}
	if parked == nil || parked.EventID != event.EventID {
		t.Fatal("unknown destination must park the original event")
	}
}

// A suspended destination is a transient condition: the credit leg must not
// be acked away, it has to come back until the account is reactivated.
func TestHandleTransferOutSuspendedDestinationRequeued(t *testing.T) {
	destination := storedAccount(domain.AccountTypeStandard, "10")
	destination.Status = domain.AccountSuspended

	ledger := &stubLedger{
		getByNumberTx: func(ctx context.Context, tx pgx.Tx, number string) (*domain.Account, error) {
			return destination, nil
		},
		saveTx: func(ctx context.Context, tx pgx.Tx, account *domain.Account, expectedVersion int64, txs []domain.Transaction, events []domain.EventEnvelope) error {
			t.Fatal("deferred credit must not be saved")
			return nil
		},
		park: func(ctx context.Context, tx pgx.Tx, consumerName string, event domain.EventEnvelope, reason string) error {
			t.Fatal("a suspended destination is not terminal; nothing to park")
			return nil
		},
	}

	handler := NewCommandHandler(ledger, nil)
	err := handler.HandleTransferOut(context.Background(), nil, transferOutEvent(destination.AccountNumber, "-40"))
	if !errors.Is(err, domain.ErrAccountNotActive) {
		t.Fatalf("got %v, want ErrAccountNotActive for redelivery", err)
	}
}

func TestHandleTransferOutClosedDestinationParked(t *testing.T) {
	destination := storedAccount(domain.AccountTypeStandard, "10")
	destination.Status = domain.AccountClosed

	parked := false
	ledger := &stubLedger{
		getByNumberTx: func(ctx context.Context, tx pgx.Tx, number string) (*domain.Account, error) {
			return destination, nil
		},
		saveTx: func(ctx context.Context, tx pgx.Tx, account *domain.Account, expectedVersion int64, txs []domain.Transaction, events []domain.EventEnvelope) error {
			t.Fatal("rejected credit must not be saved")
			return nil
		},
		park: func(ctx context.Context, tx pgx.Tx, consumerName string, event domain.EventEnvelope, reason string) error {
			parked = true
			return nil
		},
	}

	handler := NewCommandHandler(ledger, nil)
	if err := handler.HandleTransferOut(context.Background(), nil, transferOutEvent(destination.AccountNumber, "-40")); err != nil {
		t.Fatalf("got %v, want nil (parked + acked)", err)
	}
	if !parked {
		t.Fatal("closed destination must leave a parked record")
	}
}

func TestHandleTransferOutInfrastructureErrorPropagates(t *testing.T) {
	storageDown := errors.New("connection refused")
	ledger := &stubLedger{
		getByNumberTx: func(ctx context.Context, tx pgx.Tx, number string) (*domain.Account, error) {
			return nil, storageDown
		},
	}

	handler := NewCommandHandler(ledger, nil)
	if err := handler.HandleTransferOut(context.Background(), nil, transferOutEvent("1234567890", "-40")); !errors.Is(err, storageDown) {
		t.Fatalf("got %v, want storage error for requeue", err)
	}
}

func TestSuspendAccountStagesStatusEvent(t *testing.T) {
	account := storedAccount(domain.AccountTypeStandard, "100")

	var savedEvents []domain.EventEnvelope
	ledger := &stubLedger{
		getAccount: func(ctx context.Context, id uuid.UUID) (*domain.Account, error) {
			clone := *account
			return &clone, nil
		},
		save: func(ctx context.Context, a *domain.Account, expectedVersion int64, txs []domain.Transaction, events []domain.EventEnvelope) error {
			savedEvents = events
			return nil
		},
	}

	handler := NewCommandHandler(ledger, nil)
	updated, err := handler.SuspendAccount(context.Background(), account.ID)
	if err != nil {
		t.Fatalf("suspend failed: %v", err)
	}
	if updated.Status != domain.AccountSuspended {
		t.Fatalf("status = %s", updated.Status)
	}
	if len(savedEvents) != 1 || savedEvents[0].EventType != domain.EventTypeAccountStatusChanged {
		t.Fatalf("events = %+v", savedEvents)
	}
}
