/**
 * @description
 * HTTP handlers for all four service binaries. Handlers parse the request,
 * call the application layer, and map the error taxonomy onto HTTP statuses.
 * Synchronous callers see the outcome of their own write only; downstream
 * read models catch up through the bus.
 *
 * @dependencies
 * - internal/app, internal/movement, internal/notification: application logic.
 * - internal/domain: models and the error taxonomy.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/finverse/banking-platform/internal/app"
	"github.com/finverse/banking-platform/internal/domain"
	"github.com/finverse/banking-platform/internal/movement"
	"github.com/finverse/banking-platform/internal/notification"
)

type errorBody struct {
	Kind    domain.ErrorKind `json:"kind"`
	Code    string           `json:"code,omitempty"`
	Message string           `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("level=error component=api msg=\"response encode failed\" err=%v", err)
	}
}

// writeDomainError maps the taxonomy onto HTTP statuses. Raw storage errors
// never reach the client.
func writeDomainError(w http.ResponseWriter, err error) {
	var domainErr *domain.Error
	if !errors.As(err, &domainErr) {
		log.Printf("level=error component=api msg=\"infrastructure error\" err=%v", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: errorBody{
			Kind:    domain.KindInfrastructure,
			Message: "service temporarily unavailable",
		}})
		return
	}

	status := http.StatusInternalServerError
	switch domainErr.Kind {
	case domain.KindValidation:
		status = http.StatusBadRequest
	case domain.KindDomain:
		status = http.StatusUnprocessableEntity
	case domain.KindNotFound:
		status = http.StatusNotFound
	case domain.KindConflict:
		status = http.StatusConflict
	case domain.KindInfrastructure:
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, errorResponse{Error: errorBody{
		Kind:    domainErr.Kind,
		Code:    domainErr.Code,
		Message: domainErr.Message,
	}})
}

func parsePathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, &domain.Error{Kind: domain.KindValidation, Code: "invalid_id", Message: "invalid " + name}
	}
	return id, nil
}

func parsePage(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}

// ---- transaction-service ----

type TransactionHandlers struct {
	commands *app.CommandHandler
}

func NewTransactionHandlers(commands *app.CommandHandler) *TransactionHandlers {
	return &TransactionHandlers{commands: commands}
}

type depositRequest struct {
	AccountID   uuid.UUID       `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

type transferRequest struct {
	SourceAccountID          uuid.UUID       `json:"source_account_id"`
	DestinationAccountNumber string          `json:"destination_account_number"`
	Amount                   decimal.Decimal `json:"amount"`
	Description              string          `json:"description"`
}

func (h *TransactionHandlers) DepositHandler(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDomainError(w, &domain.Error{Kind: domain.KindValidation, Code: "bad_body", Message: "malformed request body"})
		return
	}
	result, err := h.commands.CreateDeposit(r.Context(), req.AccountID, req.Amount, req.Description)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *TransactionHandlers) WithdrawalHandler(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDomainError(w, &domain.Error{Kind: domain.KindValidation, Code: "bad_body", Message: "malformed request body"})
		return
	}
	result, err := h.commands.CreateWithdrawal(r.Context(), req.AccountID, req.Amount, req.Description)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *TransactionHandlers) TransferHandler(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDomainError(w, &domain.Error{Kind: domain.KindValidation, Code: "bad_body", Message: "malformed request body"})
		return
	}
	result, err := h.commands.CreateTransfer(r.Context(), req.SourceAccountID, req.DestinationAccountNumber, req.Amount, req.Description)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *TransactionHandlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	accountID, err := parsePathUUID(r, "accountID")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	limit, offset := parsePage(r)
	entries, err := h.commands.ListTransactions(r.Context(), accountID, limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// ---- account-service ----

type AccountHandlers struct {
	commands *app.CommandHandler
}

func NewAccountHandlers(commands *app.CommandHandler) *AccountHandlers {
	return &AccountHandlers{commands: commands}
}

type createAccountRequest struct {
	OwnerID        uuid.UUID          `json:"owner_id"`
	AccountType    domain.AccountType `json:"account_type"`
	InitialDeposit decimal.Decimal    `json:"initial_deposit"`
}

func (h *AccountHandlers) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeDomainError(w, &domain.Error{Kind: domain.KindValidation, Code: "bad_body", Message: "malformed request body"})
		return
	}
	if req.OwnerID == uuid.Nil {
		writeDomainError(w, &domain.Error{Kind: domain.KindValidation, Code: "missing_owner", Message: "owner_id is required"})
		return
	}
	if req.AccountType == "" {
		req.AccountType = domain.AccountTypeStandard
	}
	account, err := h.commands.OpenAccount(r.Context(), req.OwnerID, req.AccountType, req.InitialDeposit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

func (h *AccountHandlers) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	accountID, err := parsePathUUID(r, "accountID")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	account, err := h.commands.GetAccount(r.Context(), accountID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (h *AccountHandlers) statusHandler(mutate func(*http.Request, uuid.UUID) (*domain.Account, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID, err := parsePathUUID(r, "accountID")
		if err != nil {
			writeDomainError(w, err)
			return
		}
		account, err := mutate(r, accountID)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, account)
	}
}

func (h *AccountHandlers) SuspendHandler() http.HandlerFunc {
	return h.statusHandler(func(r *http.Request, id uuid.UUID) (*domain.Account, error) {
		return h.commands.SuspendAccount(r.Context(), id)
	})
}

func (h *AccountHandlers) ReactivateHandler() http.HandlerFunc {
	return h.statusHandler(func(r *http.Request, id uuid.UUID) (*domain.Account, error) {
		return h.commands.ReactivateAccount(r.Context(), id)
	})
}

func (h *AccountHandlers) CloseHandler() http.HandlerFunc {
	return h.statusHandler(func(r *http.Request, id uuid.UUID) (*domain.Account, error) {
		return h.commands.CloseAccount(r.Context(), id)
	})
}

// ---- movement-service ----

type MovementHandlers struct {
	service *movement.Service
}

func NewMovementHandlers(service *movement.Service) *MovementHandlers {
	return &MovementHandlers{service: service}
}

func (h *MovementHandlers) ListMovementsHandler(w http.ResponseWriter, r *http.Request) {
	accountID, err := parsePathUUID(r, "accountID")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	limit, offset := parsePage(r)
	movements, err := h.service.ListMovements(r.Context(), accountID, limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, movements)
}

func (h *MovementHandlers) StatementHandler(w http.ResponseWriter, r *http.Request) {
	accountID, err := parsePathUUID(r, "accountID")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	from, err := parseTimeParam(r, "from")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	statement, err := h.service.GetStatement(r.Context(), accountID, from, to)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, statement)
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, &domain.Error{Kind: domain.KindValidation, Code: "invalid_time", Message: name + " must be RFC3339"}
	}
	return parsed, nil
}

// ---- notification-service ----

type NotificationHandlers struct {
	service *notification.Service
}

func NewNotificationHandlers(service *notification.Service) *NotificationHandlers {
	return &NotificationHandlers{service: service}
}

func (h *NotificationHandlers) ListNotificationsHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := parsePathUUID(r, "userID")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	limit, offset := parsePage(r)
	items, err := h.service.ListNotifications(r.Context(), userID, limit, offset)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}
