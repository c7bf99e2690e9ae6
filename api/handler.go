// Package api exposes the user and transfer operations over HTTP.
package api

import (
	"context"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"github.com/yashasviy/peer-transfer-api/models"
	"github.com/yashasviy/peer-transfer-api/transfer"
	"github.com/yashasviy/peer-transfer-api/users"
)

// Transfers is the part of transfer.Engine the handlers use.
type Transfers interface {
	Execute(ctx context.Context, caller models.CallerIdentity, req transfer.Request) (transfer.Result, error)
	Balance(ctx context.Context, caller models.CallerIdentity, accountID string) (models.Account, error)
}

// Users is the part of users.Service the handlers use.
type Users interface {
	Register(ctx context.Context, in users.RegisterInput) (models.UserProfile, error)
	Login(ctx context.Context, in users.LoginInput) (users.LoginResult, error)
	Logout(ctx context.Context, token string) error
	Delete(ctx context.Context, caller models.CallerIdentity) error
	Search(ctx context.Context, filter string) ([]models.UserProfile, error)
}

// Handler holds the HTTP handlers.
type Handler struct {
	transfers Transfers
	users     Users
	logger    *slog.Logger
	validate  *validator.Validate

	// chaos enables the X-Simulate-Chaos header on transfers.
	chaos bool
}

func NewHandler(transfers Transfers, users Users, logger *slog.Logger, chaos bool) *Handler {
	return &Handler{
		transfers: transfers,
		users:     users,
		logger:    logger.With(slog.String("component", "api")),
		validate:  validator.New(),
		chaos:     chaos,
	}
}
