package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/ipulse/apiserver/config"
	"github.com/ipulse/apiserver/internal/events"
	"github.com/ipulse/apiserver/internal/store"
	"github.com/ipulse/apiserver/internal/token"
	"github.com/ipulse/apiserver/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 72
)

var (
	// ErrInvalidCredentials indicates that no account matches the login.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrEmailTaken is returned by hardened registration for a known email.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidInput wraps a field validation failure.
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidResetToken covers expired, forged and already used tokens.
	ErrInvalidResetToken = errors.New("invalid or expired reset token")
	// ErrResetUnavailable means a reset could not be issued or delivered.
	ErrResetUnavailable = errors.New("password reset unavailable")
)

// UserRepository defines persistence operations for accounts.
type UserRepository interface {
	Create(ctx context.Context, user types.NewUser) (types.User, error)
	FindByCredentials(ctx context.Context, email, password string) (types.User, error)
	GetByEmail(ctx context.Context, email string) (types.User, error)
	GetByID(ctx context.Context, id int) (types.User, error)
	GetPasswordByEmail(ctx context.Context, email string) (string, error)
	UpdatePassword(ctx context.Context, id int, password string) error
	Ping(ctx context.Context) error
}

// Recovery is the outcome of a password recovery request. Legacy mode
// discloses the stored password; hardened mode only reports when the
// emailed reset token expires.
type Recovery struct {
	Password  string
	ExpiresAt time.Time
}

// AccountService implements register, login and password recovery.
type AccountService struct {
	repo       UserRepository
	mode       string
	tokens     *token.ResetTokens
	publisher  events.Publisher
	log        logrus.FieldLogger
	bcryptCost int
}

func NewAccountService(repo UserRepository, cfg config.AccountConfig, publisher events.Publisher, log logrus.FieldLogger) *AccountService {
	svc := &AccountService{
		repo:       repo,
		mode:       cfg.Mode,
		publisher:  publisher,
		log:        log,
		bcryptCost: bcrypt.DefaultCost,
	}
	if svc.mode == "" {
		svc.mode = config.ModeLegacy
	}
	if svc.Hardened() {
		svc.tokens = token.NewResetTokens(cfg.ResetTokenSecret, cfg.ResetTokenTTL)
	}
	return svc
}

func (s *AccountService) Mode() string {
	return s.mode
}

// Hardened reports whether credentials are digested and recovery goes
// through reset tokens.
func (s *AccountService) Hardened() bool {
	return s.mode == config.ModeHardened
}

// Register stores a new account. In legacy mode the row is inserted as
// given, duplicates included.
func (s *AccountService) Register(ctx context.Context, req types.NewUser) (types.User, error) {
	log := s.log.WithFields(logrus.Fields{"op": "register", "email": req.Email})

	if s.Hardened() {
		var err error
		if req, err = s.prepareHardenedUser(ctx, req); err != nil {
			if errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrEmailTaken) {
				log.WithError(err).Warn("registration rejected")
			} else {
				log.WithError(err).Error("registration failed")
			}
			return types.User{}, err
		}
	}

	user, err := s.repo.Create(ctx, req)
	if err != nil {
		if s.Hardened() && errors.Is(err, store.ErrConflict) {
			log.Warn("registration rejected: email already registered")
			return types.User{}, ErrEmailTaken
		}
		log.WithError(err).Error("registration failed")
		return types.User{}, fmt.Errorf("register: %w", err)
	}

	log.WithField("user_id", user.ID).Info("user registered")
	s.publishRegistered(ctx, user)

	if s.Hardened() {
		user.Password = ""
	}
	return user, nil
}

// Login returns the first account matching the credentials.
func (s *AccountService) Login(ctx context.Context, email, password string) (types.User, error) {
	log := s.log.WithFields(logrus.Fields{"op": "login", "email": email})

	var (
		user types.User
		err  error
	)
	if s.Hardened() {
		user, err = s.verifyDigest(ctx, email, password)
	} else {
		user, err = s.repo.FindByCredentials(ctx, email, password)
		if errors.Is(err, store.ErrNotFound) {
			err = ErrInvalidCredentials
		}
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		log.Warn("invalid login credentials")
		return types.User{}, err
	case err != nil:
		log.WithError(err).Error("login failed")
		return types.User{}, fmt.Errorf("login: %w", err)
	}

	log.WithField("user_id", user.ID).Info("user logged in")
	return user, nil
}

// RecoverPassword handles a forgot-password request for email. Unknown
// emails yield store.ErrNotFound in both modes.
func (s *AccountService) RecoverPassword(ctx context.Context, email string) (Recovery, error) {
	log := s.log.WithFields(logrus.Fields{"op": "recover_password", "email": email})

	if !s.Hardened() {
		password, err := s.repo.GetPasswordByEmail(ctx, email)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				log.Warn("password recovery for unknown email")
				return Recovery{}, err
			}
			log.WithError(err).Error("password recovery failed")
			return Recovery{}, fmt.Errorf("recover password: %w", err)
		}
		log.Info("stored password disclosed")
		return Recovery{Password: password}, nil
	}

	user, err := s.repo.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Warn("password reset for unknown email")
			return Recovery{}, err
		}
		log.WithError(err).Error("password reset failed")
		return Recovery{}, fmt.Errorf("recover password: %w", err)
	}

	signed, expires, err := s.tokens.Issue(user.ID, user.Password)
	if err != nil {
		log.WithError(err).Error("issue reset token")
		return Recovery{}, fmt.Errorf("%w: %v", ErrResetUnavailable, err)
	}

	event, err := events.NewEvent(events.TypePasswordResetRequested, passwordResetPayload{
		UserID:    user.ID,
		Email:     user.Email,
		Name:      user.Name,
		Token:     signed,
		ExpiresAt: expires,
	})
	if err == nil {
		err = s.publisher.Publish(ctx, event)
	}
	if err != nil {
		log.WithError(err).Error("deliver reset token")
		return Recovery{}, fmt.Errorf("%w: %v", ErrResetUnavailable, err)
	}

	log.WithField("user_id", user.ID).Info("password reset token issued")
	return Recovery{ExpiresAt: expires}, nil
}

// ResetPassword replaces the credential of the account named by a reset
// token. A token stops working once the credential it was issued for changes.
func (s *AccountService) ResetPassword(ctx context.Context, resetToken, newPassword string) error {
	log := s.log.WithField("op", "reset_password")

	if !s.Hardened() {
		return ErrResetUnavailable
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	userID, claims, err := s.tokens.Verify(strings.TrimSpace(resetToken))
	if err != nil {
		log.Warn("reset token rejected")
		return ErrInvalidResetToken
	}
	log = log.WithField("user_id", userID)

	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Warn("reset token for missing user")
			return ErrInvalidResetToken
		}
		log.WithError(err).Error("password reset failed")
		return fmt.Errorf("reset password: %w", err)
	}

	current := token.Fingerprint(user.Password)
	if subtle.ConstantTimeCompare([]byte(current), []byte(claims.Fingerprint)) != 1 {
		log.Warn("reset token already used")
		return ErrInvalidResetToken
	}

	digest, err := bcrypt.GenerateFromPassword([]byte(newPassword), s.bcryptCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	if err := s.repo.UpdatePassword(ctx, user.ID, string(digest)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrInvalidResetToken
		}
		log.WithError(err).Error("password reset failed")
		return fmt.Errorf("reset password: %w", err)
	}

	log.Info("password reset")
	return nil
}

// Ping checks the backing store.
func (s *AccountService) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

func (s *AccountService) prepareHardenedUser(ctx context.Context, req types.NewUser) (types.NewUser, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)

	if err := validateRegistration(req); err != nil {
		return types.NewUser{}, err
	}

	if _, err := s.repo.GetByEmail(ctx, req.Email); err == nil {
		return types.NewUser{}, ErrEmailTaken
	} else if !errors.Is(err, store.ErrNotFound) {
		return types.NewUser{}, fmt.Errorf("register: %w", err)
	}

	digest, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.bcryptCost)
	if err != nil {
		return types.NewUser{}, fmt.Errorf("hash password: %w", err)
	}
	req.Password = string(digest)
	return req, nil
}

func (s *AccountService) verifyDigest(ctx context.Context, email, password string) (types.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return types.User{}, ErrInvalidCredentials
	}

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.User{}, ErrInvalidCredentials
		}
		return types.User{}, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return types.User{}, ErrInvalidCredentials
	}

	user.Password = ""
	return user, nil
}

// publishRegistered is best effort: a broker outage must not undo a
// committed registration.
func (s *AccountService) publishRegistered(ctx context.Context, user types.User) {
	event, err := events.NewEvent(events.TypeAccountRegistered, registeredPayload{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
	})
	if err == nil {
		err = s.publisher.Publish(ctx, event)
	}
	if err != nil {
		s.log.WithError(err).WithField("user_id", user.ID).Warn("publish registration event")
	}
}

func validateRegistration(req types.NewUser) error {
	if req.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if req.Email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	addr, err := mail.ParseAddress(req.Email)
	if err != nil || addr.Address != req.Email {
		return fmt.Errorf("%w: email is not a valid address", ErrInvalidInput)
	}
	return validatePassword(req.Password)
}

func validatePassword(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}
	// bcrypt ignores everything past 72 bytes
	if len(password) > maxPasswordLength {
		return fmt.Errorf("%w: password must be at most %d bytes", ErrInvalidInput, maxPasswordLength)
	}
	return nil
}

type registeredPayload struct {
	UserID int    `json:"user_id"`
	Email  string `json:"email"`
	Name   string `json:"name"`
}

type passwordResetPayload struct {
	UserID    int       `json:"user_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}
