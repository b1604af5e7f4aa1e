package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"storefront-backend/internal/domain"
)

type OTPVerifier interface {
	Verify(ctx context.Context, email, code string, purpose domain.OtpPurpose) error
}

type AuthService struct {
	Users     UserStore
	OTP       OTPVerifier
	JWTSecret string
	TokenTTL  time.Duration
	Now       func() time.Time
}

func (s *AuthService) Issue(u *domain.User) (string, error) {
	ttl := s.TokenTTL
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	claims := jwt.MapClaims{
		"user_id": u.ID,
		"email":   u.Email,
		"exp":     clock(s.Now).Add(ttl).Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(s.JWTSecret))
}

// Verify returns the user id and email carried by token.
func (s *AuthService) Verify(token string) (string, string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if s.Now != nil {
		opts = append(opts, jwt.WithTimeFunc(s.Now))
	}
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return []byte(s.JWTSecret), nil
	}, opts...)
	if err != nil || !parsed.Valid {
		return "", "", ErrInvalidToken
	}
	m, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", "", ErrInvalidToken
	}
	uid, _ := m["user_id"].(string)
	email, _ := m["email"].(string)
	if uid == "" {
		return "", "", ErrInvalidToken
	}
	return uid, email, nil
}

// LoginWithOTP verifies a login code and signs in, creating the user on
// first login.
func (s *AuthService) LoginWithOTP(ctx context.Context, email, code string) (string, *domain.User, error) {
	ctx, span := tracer.Start(ctx, "AuthService.LoginWithOTP")
	defer span.End()
	email, err := normalizeEmail(email)
	if err != nil {
		return "", nil, err
	}
	if err := s.OTP.Verify(ctx, email, code, domain.PurposeLogin); err != nil {
		return "", nil, err
	}
	u, err := s.Users.GetUserByEmail(ctx, email)
	if errors.Is(err, domain.ErrRecordNotFound) {
		u, err = s.createUser(ctx, email)
		if errors.Is(err, domain.ErrDuplicateKey) {
			u, err = s.Users.GetUserByEmail(ctx, email)
		}
	}
	if err != nil {
		return "", nil, persistence("load user", err)
	}
	return s.signIn(u)
}

// RegisterWithOTP creates the account for a verified registration code. The
// code is checked first so unverified callers learn nothing about which
// emails exist.
func (s *AuthService) RegisterWithOTP(ctx context.Context, email, code string) (string, *domain.User, error) {
	ctx, span := tracer.Start(ctx, "AuthService.RegisterWithOTP")
	defer span.End()
	email, err := normalizeEmail(email)
	if err != nil {
		return "", nil, err
	}
	if err := s.OTP.Verify(ctx, email, code, domain.PurposeRegistration); err != nil {
		return "", nil, err
	}
	u, err := s.createUser(ctx, email)
	if errors.Is(err, domain.ErrDuplicateKey) {
		return "", nil, ErrConflict("user already registered")
	}
	if err != nil {
		return "", nil, persistence("create user", err)
	}
	return s.signIn(u)
}

func (s *AuthService) createUser(ctx context.Context, email string) (*domain.User, error) {
	now := clock(s.Now)
	u := &domain.User{ID: newID(), Email: email, CreatedAt: now, UpdatedAt: now}
	if err := s.Users.InsertUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

func (s *AuthService) signIn(u *domain.User) (string, *domain.User, error) {
	token, err := s.Issue(u)
	if err != nil {
		return "", nil, persistence("sign token", err)
	}
	return token, u, nil
}
