// Package auth implements account registration, email verification, login
// and password reset.
//
// Passwords are hashed with bcrypt. Access tokens are HS256 JWTs whose
// subject is the user ID. Verification and reset links carry single-use
// tokens from a [session.TokenStore]; a token is deleted the moment it is
// redeemed.
//
// Flows that take an email address from an unauthenticated caller
// (ResendVerification, ForgotPassword) succeed whether or not the address is
// registered, so they cannot be used to probe for accounts.
package auth

import (
	"context"
	stderrors "errors"
	"io"
	"net/url"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/examprep/examprep/pkg/errors"
	"github.com/examprep/examprep/pkg/mail"
	"github.com/examprep/examprep/pkg/session"
	"github.com/examprep/examprep/pkg/store"
)

// Config holds the service settings.
type Config struct {
	AppName    string
	AppURL     string // base URL of the web app; links point at its pages
	VerifyTTL  time.Duration
	ResetTTL   time.Duration
	BcryptCost int // zero uses bcrypt.DefaultCost
}

// Service runs the account flows.
type Service struct {
	users  store.Users
	tokens session.TokenStore
	mailer mail.Sender
	issuer *Issuer
	cfg    Config
	logger *log.Logger

	// dummyHash is compared against when the user does not exist so that
	// unknown emails take as long as wrong passwords.
	dummyHash string
}

// NewService wires a Service. A nil logger discards output.
func NewService(users store.Users, tokens session.TokenStore, mailer mail.Sender, issuer *Issuer, cfg Config, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	if cfg.VerifyTTL <= 0 {
		cfg.VerifyTTL = session.DefaultVerifyTTL
	}
	if cfg.ResetTTL <= 0 {
		cfg.ResetTTL = session.DefaultResetTTL
	}
	if cfg.AppName == "" {
		cfg.AppName = "Exam Prep"
	}
	cfg.AppURL = strings.TrimRight(cfg.AppURL, "/")

	dummy, _ := HashPassword("not-a-real-password", cfg.BcryptCost)
	return &Service{
		users:     users,
		tokens:    tokens,
		mailer:    mailer,
		issuer:    issuer,
		cfg:       cfg,
		logger:    logger,
		dummyHash: dummy,
	}
}

// RegisterInput is the data of a new account.
type RegisterInput struct {
	Email    string
	Password string
	Name     string
}

// LoginResult is a successful login.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	User      *store.User
}

var (
	errInvalidCredentials = errors.New(errors.ErrCodeUnauthorized, "invalid email or password")
	errInvalidToken       = errors.New(errors.ErrCodeBadRequest, "invalid or expired token")
)

// Register creates an unverified account and emails a verification link. A
// failure to send the email is logged; the account still exists and the
// user can ask for another link.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*store.User, error) {
	email, err := errors.NormalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if err := errors.ValidatePassword(in.Password); err != nil {
		return nil, err
	}
	hash, err := HashPassword(in.Password, s.cfg.BcryptCost)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "hash password")
	}

	u := &store.User{Email: email, Name: strings.TrimSpace(in.Name), PasswordHash: hash}
	if err := s.users.CreateUser(ctx, u); err != nil {
		if stderrors.Is(err, store.ErrDuplicate) {
			return nil, errors.New(errors.ErrCodeBadRequest, "email already registered")
		}
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "create user")
	}
	s.logger.Info("user registered", "user", u.ID)

	s.sendVerification(ctx, u)
	return u, nil
}

// Authenticate returns the user with email when password matches.
func (s *Service) Authenticate(ctx context.Context, email, password string) (*store.User, error) {
	u, err := s.users.UserByEmail(ctx, email)
	if err != nil {
		if !stderrors.Is(err, store.ErrNotFound) {
			return nil, errors.Wrap(errors.ErrCodeInternal, err, "load user")
		}
		CheckPassword(s.dummyHash, password)
		return nil, errInvalidCredentials
	}
	if !CheckPassword(u.PasswordHash, password) {
		return nil, errInvalidCredentials
	}
	return u, nil
}

// Login authenticates and issues an access token. Unverified accounts are
// refused with FORBIDDEN.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	u, err := s.Authenticate(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if !u.Verified {
		return nil, errors.New(errors.ErrCodeForbidden, "email not verified")
	}
	tok, exp, err := s.issuer.Issue(u.ID)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "issue token")
	}
	return &LoginResult{Token: tok, ExpiresAt: exp, User: u}, nil
}

// VerifyEmail redeems a verification token and marks the account verified.
func (s *Service) VerifyEmail(ctx context.Context, token string) (*store.User, error) {
	u, err := s.redeem(ctx, session.PurposeVerify, token)
	if err != nil {
		return nil, err
	}
	if u.Verified {
		return u, nil
	}
	u.Verified = true
	if err := s.users.UpdateUser(ctx, u); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "update user")
	}
	s.logger.Info("email verified", "user", u.ID)
	return u, nil
}

// ResendVerification emails a fresh link to an unverified account. It
// succeeds for unknown and already verified addresses too.
func (s *Service) ResendVerification(ctx context.Context, email string) error {
	u, err := s.lookup(ctx, email)
	if err != nil || u == nil || u.Verified {
		return err
	}
	s.sendVerification(ctx, u)
	return nil
}

// ForgotPassword emails a reset link when the address belongs to an account.
// It succeeds for unknown addresses too.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	u, err := s.lookup(ctx, email)
	if err != nil || u == nil {
		return err
	}

	tok, err := s.tokens.Issue(ctx, session.PurposeReset, u.ID, s.cfg.ResetTTL)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "issue reset token")
	}
	msg, err := mail.PasswordResetEmail(mail.LinkEmail{
		AppName: s.cfg.AppName,
		To:      u.Email,
		Name:    u.Name,
		Link:    s.link("/reset-password", tok),
		TTL:     s.cfg.ResetTTL,
	})
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "build reset email")
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.logger.Warn("reset email failed", "user", u.ID, "err", err)
	}
	return nil
}

// ResetPassword redeems a reset token and replaces the password. Redeeming
// also proves ownership of the address, so the account becomes verified.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := errors.ValidatePassword(newPassword); err != nil {
		return err
	}
	u, err := s.redeem(ctx, session.PurposeReset, token)
	if err != nil {
		return err
	}
	hash, err := HashPassword(newPassword, s.cfg.BcryptCost)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "hash password")
	}
	u.PasswordHash = hash
	u.Verified = true
	if err := s.users.UpdateUser(ctx, u); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "update user")
	}
	s.logger.Info("password reset", "user", u.ID)
	return nil
}

// VerifyToken validates an access token and loads its user.
func (s *Service) VerifyToken(ctx context.Context, token string) (*store.User, error) {
	id, err := s.issuer.Verify(token)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeUnauthorized, err, "invalid token")
	}
	u, err := s.users.UserByID(ctx, id)
	if err != nil {
		if stderrors.Is(err, store.ErrNotFound) {
			return nil, errors.New(errors.ErrCodeUnauthorized, "invalid token")
		}
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "load user")
	}
	return u, nil
}

func (s *Service) sendVerification(ctx context.Context, u *store.User) {
	tok, err := s.tokens.Issue(ctx, session.PurposeVerify, u.ID, s.cfg.VerifyTTL)
	if err != nil {
		s.logger.Error("issue verification token", "user", u.ID, "err", err)
		return
	}
	msg, err := mail.VerificationEmail(mail.LinkEmail{
		AppName: s.cfg.AppName,
		To:      u.Email,
		Name:    u.Name,
		Link:    s.link("/verify-email", tok),
		TTL:     s.cfg.VerifyTTL,
	})
	if err != nil {
		s.logger.Error("build verification email", "user", u.ID, "err", err)
		return
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		s.logger.Warn("verification email failed", "user", u.ID, "err", err)
	}
}

// lookup finds a user by a caller-supplied address. A malformed or unknown
// address yields nil without error.
func (s *Service) lookup(ctx context.Context, email string) (*store.User, error) {
	email, err := errors.NormalizeEmail(email)
	if err != nil {
		return nil, nil
	}
	u, err := s.users.UserByEmail(ctx, email)
	if stderrors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "load user")
	}
	return u, nil
}

func (s *Service) redeem(ctx context.Context, purpose session.Purpose, token string) (*store.User, error) {
	id, err := s.tokens.Consume(ctx, purpose, strings.TrimSpace(token))
	if err != nil {
		if stderrors.Is(err, session.ErrInvalidToken) {
			return nil, errInvalidToken
		}
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "redeem token")
	}
	u, err := s.users.UserByID(ctx, id)
	if err != nil {
		if stderrors.Is(err, store.ErrNotFound) {
			return nil, errInvalidToken
		}
		return nil, errors.Wrap(errors.ErrCodeInternal, err, "load user")
	}
	return u, nil
}

func (s *Service) link(path, token string) string {
	return s.cfg.AppURL + path + "?token=" + url.QueryEscape(token)
}
