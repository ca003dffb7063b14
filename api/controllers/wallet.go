package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/gastonanderson039-glitch/supermarketpro/api/responses"
	"github.com/gastonanderson039-glitch/supermarketpro/api/validators"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/db/models"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/enums"
	pkgerrors "github.com/gastonanderson039-glitch/supermarketpro/pkg/errors"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/logger"
	"github.com/gastonanderson039-glitch/supermarketpro/pkg/pagination"
)

// WalletService is the slice of the wallet service the HTTP layer depends on.
type WalletService interface {
	Get(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	Credit(ctx context.Context, userID uuid.UUID, amountCents int64, reference *string) (*models.WalletTransaction, error)
	Debit(ctx context.Context, userID uuid.UUID, amountCents int64, reference *string) (*models.WalletTransaction, error)
	Withdraw(ctx context.Context, userID uuid.UUID, amountCents int64, reference *string) (*models.WalletTransaction, error)
	Adjust(ctx context.Context, userID uuid.UUID, amountCents int64, reference *string) (*models.WalletTransaction, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]models.WalletTransaction, error)
}

// WalletFetch returns the caller's wallet and its most recent transactions.
func WalletFetch(svc WalletService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		record, err := svc.Get(r.Context(), actor.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		transactions, err := svc.ListTransactions(r.Context(), actor.UserID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]walletTransactionResponse, 0, len(transactions))
		for _, entry := range transactions {
			items = append(items, newWalletTransactionResponse(&entry))
		}

		responses.WriteSuccess(w, walletResponse{
			ID:           record.ID,
			UserID:       record.UserID,
			BalanceCents: record.BalanceCents,
			Transactions: items,
			UpdatedAt:    record.UpdatedAt,
		})
	}
}

type walletTransactionRequest struct {
	Type        string  `json:"type" validate:"required"`
	AmountCents int64   `json:"amount_cents" validate:"required,min=1"`
	Reference   *string `json:"reference"`
	UserID      *string `json:"user_id"`
}

// WalletCreateTransaction applies a credit, debit, withdrawal, or adjustment.
// Adjustments, and moves against another user's wallet, are admin-only.
func WalletCreateTransaction(svc WalletService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload walletTransactionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		txType, err := enums.ParseWalletTransactionType(payload.Type)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid transaction type"))
			return
		}

		targetUser := actor.UserID
		if payload.UserID != nil {
			parsed, parseErr := uuid.Parse(*payload.UserID)
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, parseErr, "invalid user id"))
				return
			}
			targetUser = parsed
		}

		isAdmin := actor.Role == enums.ActorRoleAdmin || actor.Role == enums.ActorRoleSystem
		if targetUser != actor.UserID && !isAdmin {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "cannot move another user's funds"))
			return
		}

		var entry *models.WalletTransaction
		switch txType {
		case enums.WalletTransactionTypeCredit:
			if !isAdmin {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "credits are issued by the platform"))
				return
			}
			entry, err = svc.Credit(r.Context(), targetUser, payload.AmountCents, payload.Reference)
		case enums.WalletTransactionTypeDebit:
			entry, err = svc.Debit(r.Context(), targetUser, payload.AmountCents, payload.Reference)
		case enums.WalletTransactionTypeWithdrawal:
			entry, err = svc.Withdraw(r.Context(), targetUser, payload.AmountCents, payload.Reference)
		case enums.WalletTransactionTypeAdjustment:
			if !isAdmin {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "adjustments are admin-only"))
				return
			}
			entry, err = svc.Adjust(r.Context(), targetUser, payload.AmountCents, payload.Reference)
		default:
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "transaction type not accepted on this surface"))
			return
		}
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newWalletTransactionResponse(entry))
	}
}

type walletResponse struct {
	ID           uuid.UUID                   `json:"id"`
	UserID       uuid.UUID                   `json:"user_id"`
	BalanceCents int64                       `json:"balance_cents"`
	Transactions []walletTransactionResponse `json:"transactions"`
	UpdatedAt    time.Time                   `json:"updated_at"`
}

type walletTransactionResponse struct {
	ID                uuid.UUID `json:"id"`
	WalletID          uuid.UUID `json:"wallet_id"`
	Type              string    `json:"type"`
	AmountCents       int64     `json:"amount_cents"`
	BalanceAfterCents int64     `json:"balance_after_cents"`
	Reference         *string   `json:"reference,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

func newWalletTransactionResponse(entry *models.WalletTransaction) walletTransactionResponse {
	return walletTransactionResponse{
		ID:                entry.ID,
		WalletID:          entry.WalletID,
		Type:              string(entry.Type),
		AmountCents:       entry.AmountCents,
		BalanceAfterCents: entry.BalanceAfterCents,
		Reference:         entry.Reference,
		CreatedAt:         entry.CreatedAt,
	}
}
