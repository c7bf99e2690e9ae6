package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/yashasviy/peer-transfer-api/models"
	"github.com/yashasviy/peer-transfer-api/transfer"
)

const (
	DefaultBcryptCost = 10

	// MinOpeningBalance is credited to every new account, in cents.
	MinOpeningBalance int64 = 100

	// SearchAll is the filter value that lists every user.
	SearchAll = "all"
)

// RegisterInput is the body of a registration request.
type RegisterInput struct {
	Username string `json:"username" validate:"required,min=3"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=5"`
}

// LoginInput identifies the user by username or email.
type LoginInput struct {
	Username string `json:"username" validate:"required_without=Email"`
	Email    string `json:"email" validate:"omitempty,email"`
	Password string `json:"password" validate:"required"`
}

// LoginResult is returned after a successful login.
type LoginResult struct {
	Profile   models.UserProfile `json:"user"`
	Token     string             `json:"token"`
	ExpiresAt time.Time          `json:"expires_at"`
	AccountID string             `json:"account_id"`
	Balance   int64              `json:"-"`
}

// Service implements registration, login and the other user operations on
// top of a Directory and a Sessions store.
type Service struct {
	dir            Directory
	sessions       Sessions
	validate       *validator.Validate
	bcryptCost     int
	openingBalance func() int64
	logger         *slog.Logger
}

type Option func(*Service)

// WithBcryptCost overrides DefaultBcryptCost.
func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.bcryptCost = cost }
}

// WithOpeningBalance sets the function that picks a new account's balance.
func WithOpeningBalance(fn func() int64) Option {
	return func(s *Service) { s.openingBalance = fn }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// RandomOpeningBalance returns a picker for balances in
// [MinOpeningBalance, MinOpeningBalance+spread).
func RandomOpeningBalance(spread int64) func() int64 {
	return func() int64 {
		if spread <= 0 {
			return MinOpeningBalance
		}
		return MinOpeningBalance + rand.Int63n(spread)
	}
}

func NewService(dir Directory, sessions Sessions, opts ...Option) *Service {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	s := &Service{
		dir:            dir,
		sessions:       sessions,
		validate:       v,
		bcryptCost:     DefaultBcryptCost,
		openingBalance: RandomOpeningBalance(100000),
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("component", "users"))
	return s
}

// Register creates a user and its bank account.
func (s *Service) Register(ctx context.Context, in RegisterInput) (models.UserProfile, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := s.check(in); err != nil {
		return models.UserProfile{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return models.UserProfile{}, fmt.Errorf("hash password: %w", err)
	}

	user := models.User{
		ID:           uuid.NewString(),
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}
	account := models.Account{ID: uuid.NewString(), UserID: user.ID, Balance: s.openingBalance()}

	if err := s.dir.CreateUser(ctx, user, account); err != nil {
		return models.UserProfile{}, err
	}
	s.logger.InfoContext(ctx, "user registered", slog.String("user_id", user.ID), slog.String("account_id", account.ID))
	return user.Profile(account.ID), nil
}

// Login checks the password and issues a session token.
func (s *Service) Login(ctx context.Context, in LoginInput) (LoginResult, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if err := s.check(in); err != nil {
		return LoginResult{}, err
	}

	user, err := s.dir.FindUser(ctx, in.Username, in.Email)
	if errors.Is(err, ErrUserNotFound) {
		return LoginResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return LoginResult{}, fmt.Errorf("find user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(in.Password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	account, err := s.dir.AccountByUser(ctx, user.ID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("load account: %w", err)
	}

	token, expiresAt, err := s.sessions.Issue(ctx, models.CallerIdentity{AccountID: account.ID, UserID: user.ID})
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue session: %w", err)
	}
	s.logger.InfoContext(ctx, "user logged in", slog.String("user_id", user.ID))

	return LoginResult{
		Profile:   user.Profile(account.ID),
		Token:     token,
		ExpiresAt: expiresAt,
		AccountID: account.ID,
		Balance:   account.Balance,
	}, nil
}

// Logout revokes token.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.sessions.Revoke(ctx, token)
}

// Delete removes the caller's user and account, then every session they hold.
func (s *Service) Delete(ctx context.Context, caller models.CallerIdentity) error {
	if !caller.Authenticated() {
		return transfer.ErrUnauthenticated
	}
	if err := s.dir.DeleteUser(ctx, caller.UserID); err != nil {
		return err
	}
	if err := s.sessions.RevokeAll(ctx, caller.UserID); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	s.logger.InfoContext(ctx, "user deleted", slog.String("user_id", caller.UserID))
	return nil
}

// Search lists public profiles. filter is SearchAll or a case-insensitive
// regular expression over username and email. No match is ErrUserNotFound.
func (s *Service) Search(ctx context.Context, filter string) ([]models.UserProfile, error) {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return nil, fmt.Errorf("%w: filter is required", ErrInvalidInput)
	}
	if filter == SearchAll {
		filter = ""
	}
	profiles, err := s.dir.SearchProfiles(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return nil, ErrUserNotFound
	}
	return profiles, nil
}

func (s *Service) check(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "required_without":
		return fe.Field() + " or " + strings.ToLower(fe.Param()) + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "email":
		return fe.Field() + " must be a valid email address"
	}
	return fe.Field() + " is invalid"
}
