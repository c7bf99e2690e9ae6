package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/yashasviy/peer-transfer-api/models"
	"github.com/yashasviy/peer-transfer-api/session"
	"github.com/yashasviy/peer-transfer-api/transfer"
	"github.com/yashasviy/peer-transfer-api/users"
)

const kindInvalidInput = "invalid_input"

// MaxBodyBytes caps the size of a request body.
const MaxBodyBytes = 1 << 20

var serviceKinds = []struct {
	err    error
	kind   string
	status int
}{
	{users.ErrUserExists, "user_exists", http.StatusBadRequest},
	{users.ErrInvalidInput, kindInvalidInput, http.StatusBadRequest},
	{users.ErrInvalidCredentials, "invalid_credentials", http.StatusBadRequest},
	{users.ErrUserNotFound, "user_not_found", http.StatusNotFound},
	{users.ErrInvalidFilter, "invalid_filter", http.StatusBadRequest},
	{session.ErrNotFound, string(transfer.KindUnauthenticated), http.StatusUnauthorized},
}

var transferStatus = map[transfer.Kind]int{
	transfer.KindUnauthenticated:          http.StatusUnauthorized,
	transfer.KindInvalidAmount:            http.StatusBadRequest,
	transfer.KindSenderAccountNotFound:    http.StatusNotFound,
	transfer.KindInsufficientFunds:        http.StatusUnprocessableEntity,
	transfer.KindRecipientAccountNotFound: http.StatusNotFound,
	transfer.KindSelfTransfer:             http.StatusBadRequest,
	transfer.KindForbidden:                http.StatusForbidden,
	transfer.KindConflict:                 http.StatusConflict,
	transfer.KindInternal:                 http.StatusInternalServerError,
}

// classify returns the status code and kind reported for err.
func classify(err error) (int, string) {
	for _, k := range serviceKinds {
		if errors.Is(err, k.err) {
			return k.status, k.kind
		}
	}
	kind := transfer.KindOf(err)
	return transferStatus[kind], string(kind)
}

// decodeJSON reads at most MaxBodyBytes of r's body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes)).Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, resp models.Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

func respond(w http.ResponseWriter, status int, msg string, data any) {
	writeJSON(w, status, models.Response{Status: "success", Message: msg, Data: data})
}

// fail renders err. Internal errors are logged and replaced by a generic
// message.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := classify(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		msg = "internal server error"
	}
	writeJSON(w, status, models.Response{
		Status:  "error",
		Message: msg,
		Error:   &models.ErrorBody{Kind: kind, Message: msg},
	})
}

func (h *Handler) badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, models.Response{
		Status:  "error",
		Message: msg,
		Error:   &models.ErrorBody{Kind: kindInvalidInput, Message: msg},
	})
}
