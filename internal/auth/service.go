package auth

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ariefcatur/go-stripe-orders/internal/apperr"
	"github.com/ariefcatur/go-stripe-orders/internal/logx"
)

type Session struct {
	User  User
	Token string
}

type Service struct {
	Users  UserStore
	Tokens *Issuer
	Log    *zap.Logger
}

func (s *Service) Register(ctx context.Context, name, email, password string) (Session, error) {
	email = normalizeEmail(email)
	if name == "" || email == "" || password == "" {
		return Session{}, apperr.Validation("Name, email and password are required")
	}
	hash, err := HashPassword(password)
	if errors.Is(err, bcrypt.ErrPasswordTooLong) {
		return Session{}, apperr.Validation("Password must be at most 72 bytes")
	}
	if err != nil {
		return Session{}, apperr.Wrap(apperr.KindInternal, "Server error", err)
	}
	u := User{Name: name, Email: email, PasswordHash: hash}
	if err := s.Users.CreateUser(ctx, &u); errors.Is(err, ErrEmailTaken) {
		return Session{}, apperr.Validation("User already exists")
	} else if err != nil {
		return Session{}, apperr.Persistence("User store unavailable", err)
	}
	logx.OrNop(s.Log).Info("user registered", zap.String("user_id", u.ID))
	return s.session(u)
}

func (s *Service) Login(ctx context.Context, email, password string) (Session, error) {
	u, err := s.Users.FindUserByEmail(ctx, normalizeEmail(email))
	if errors.Is(err, ErrUserNotFound) {
		return Session{}, apperr.Authentication("Invalid email or password", nil)
	}
	if err != nil {
		return Session{}, apperr.Persistence("User store unavailable", err)
	}
	if !CheckPassword(u.PasswordHash, password) {
		return Session{}, apperr.Authentication("Invalid email or password", nil)
	}
	return s.session(u)
}

func (s *Service) session(u User) (Session, error) {
	tok, err := s.Tokens.Issue(u.ID)
	if err != nil {
		return Session{}, apperr.Wrap(apperr.KindInternal, "Server error", err)
	}
	return Session{User: u, Token: tok}, nil
}
