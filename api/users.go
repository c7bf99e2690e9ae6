package api

import (
	"net/http"
	"time"

	"github.com/yashasviy/peer-transfer-api/middleware"
	"github.com/yashasviy/peer-transfer-api/models"
	"github.com/yashasviy/peer-transfer-api/users"
)

type loginResponse struct {
	User      models.UserProfile `json:"user"`
	Token     string             `json:"token"`
	ExpiresAt time.Time          `json:"expires_at"`
	AccountID string             `json:"account_id"`
	Balance   string             `json:"balance"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var in users.RegisterInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}
	profile, err := h.users.Register(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusCreated, "User registered", profile)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var in users.LoginInput
	if err := decodeJSON(w, r, &in); err != nil {
		h.badRequest(w, "invalid request body")
		return
	}
	res, err := h.users.Login(r.Context(), in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "Logged in", loginResponse{
		User:      res.Profile,
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt,
		AccountID: res.AccountID,
		Balance:   models.FormatMinorUnits(res.Balance),
	})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.users.Logout(r.Context(), middleware.BearerToken(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "Logged out", nil)
}

// DeleteUser removes the caller together with their account.
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.users.Delete(r.Context(), middleware.CallerFrom(r.Context())); err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "User deleted", nil)
}

// SearchUsers answers ?filter=all or ?filter=<regex>.
func (h *Handler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.users.Search(r.Context(), r.URL.Query().Get("filter"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	respond(w, http.StatusOK, "Users found", profiles)
}
