package api

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/yashasviy/peer-transfer-api/middleware"
	"github.com/yashasviy/peer-transfer-api/models"
	"github.com/yashasviy/peer-transfer-api/transfer"
)

// ChaosHeader asks the server to crash right after committing a transfer.
const ChaosHeader = "X-Simulate-Chaos"

// SendMoney moves funds from the caller's account to the account named in the body.
func (h *Handler) SendMoney(w http.ResponseWriter, r *http.Request) {
	var req models.TransferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, "recipient account is required")
		return
	}

	amount, err := models.ToMinorUnits(req.Amount)
	if err != nil {
		h.fail(w, r, fmt.Errorf("%w: %v", transfer.ErrInvalidAmount, err))
		return
	}

	caller := middleware.CallerFrom(r.Context())
	res, err := h.transfers.Execute(r.Context(), caller, transfer.Request{
		RecipientAccountID: req.To,
		Amount:             amount,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	// Chaos mode: simulate a crash after commit when requested.
	if h.chaos && r.Header.Get(ChaosHeader) == "true" {
		h.logger.WarnContext(r.Context(), "simulated crash after commit", slog.String("transfer_id", res.TransferID))
		panic("intentional chaos crash")
	}

	respond(w, http.StatusOK, "Transfer Complete", models.TransferResponse{
		TransferID:             res.TransferID,
		SenderAccountID:        res.SenderAccountID,
		RecipientAccountID:     res.RecipientAccountID,
		Amount:                 models.FormatMinorUnits(res.Amount),
		SenderRemainingBalance: models.FormatMinorUnits(res.SenderRemainingBalance),
	})
}

// Balance returns the caller's balance. /balance/{accountID} only answers
// for the caller's own account.
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	acct, err := h.transfers.Balance(r.Context(), middleware.CallerFrom(r.Context()), accountParam(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "Balance", models.BalanceResponse{
		AccountID: acct.ID,
		Balance:   models.FormatMinorUnits(acct.Balance),
	})
}
