package usecase

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"storefront-backend/internal/domain"
	"storefront-backend/internal/infrastructure/mail"
	"storefront-backend/internal/metrics"
)

var validate = validator.New()

type OTPService struct {
	Tx             TxManager
	Store          OTPStore
	Mailer         Mailer
	Logger         *zap.Logger
	Metrics        *metrics.Registry
	TTL            time.Duration
	ResendCooldown time.Duration
	MaxAttempts    int
	HashCost       int
	Now            func() time.Time
}

func (s *OTPService) ttl() time.Duration {
	if s.TTL > 0 {
		return s.TTL
	}
	return 10 * time.Minute
}

func (s *OTPService) maxAttempts() int {
	if s.MaxAttempts > 0 {
		return s.MaxAttempts
	}
	return 3
}

func (s *OTPService) hashCost() int {
	if s.HashCost >= bcrypt.MinCost {
		return s.HashCost
	}
	return bcrypt.DefaultCost
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if err := validate.Var(email, "required,email"); err != nil {
		return "", ErrValidation("invalid email address")
	}
	return email, nil
}

func checkPurpose(p domain.OtpPurpose) error {
	if !p.Valid() {
		return ErrValidation("unknown otp purpose")
	}
	return nil
}

// Generate invalidates every active code for (email, purpose) and issues a
// new one. The returned record carries the plaintext code; only its hash is
// stored.
func (s *OTPService) Generate(ctx context.Context, email string, purpose domain.OtpPurpose) (*domain.OtpVerification, error) {
	ctx, span := tracer.Start(ctx, "OTPService.Generate")
	defer span.End()
	return s.issue(ctx, email, purpose, false)
}

// Resend behaves as Generate unless the newest active code is younger than
// the cooldown, in which case it returns *ErrWait and changes nothing.
func (s *OTPService) Resend(ctx context.Context, email string, purpose domain.OtpPurpose) (*domain.OtpVerification, error) {
	ctx, span := tracer.Start(ctx, "OTPService.Resend")
	defer span.End()
	return s.issue(ctx, email, purpose, true)
}

func (s *OTPService) issue(ctx context.Context, email string, purpose domain.OtpPurpose, cooldown bool) (*domain.OtpVerification, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := checkPurpose(purpose); err != nil {
		return nil, err
	}
	code, err := newOTPCode()
	if err != nil {
		return nil, persistence("generate otp", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.hashCost())
	if err != nil {
		return nil, persistence("generate otp", err)
	}

	var rec *domain.OtpVerification
	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.Store.LockOTPs(ctx, email, purpose); err != nil {
			return err
		}
		now := clock(s.Now)
		if cooldown && s.ResendCooldown > 0 {
			latest, err := s.Store.LatestUnusedOTP(ctx, email, purpose)
			switch {
			case errors.Is(err, domain.ErrRecordNotFound):
			case err != nil:
				return err
			case latest.Active(now):
				if elapsed := now.Sub(latest.CreatedAt); elapsed < s.ResendCooldown {
					return &ErrWait{RetryAfter: s.ResendCooldown - elapsed}
				}
			}
		}
		if _, err := s.Store.InvalidateActiveOTPs(ctx, email, purpose); err != nil {
			return err
		}
		rec = &domain.OtpVerification{
			ID:        newID(),
			Email:     email,
			Purpose:   purpose,
			CodeHash:  string(hash),
			ExpiresAt: now.Add(s.ttl()),
			CreatedAt: now,
		}
		return s.Store.InsertOTP(ctx, rec)
	})
	if err != nil {
		return nil, domainErr("issue otp", err)
	}
	rec.Code = code
	s.Metrics.OTPIssuedFor(string(purpose))

	msg, err := mail.OTPMessage(email, code, string(purpose), s.ttl())
	if err == nil && s.Mailer != nil {
		err = s.Mailer.Send(ctx, msg)
	}
	s.Metrics.Mail(string(mail.KindOTP), err)
	if err != nil {
		logOrNop(s.Logger).Warn("otp email not sent",
			zap.String("email", email),
			zap.String("purpose", string(purpose)),
			zap.Error(err))
	}
	return rec, nil
}

func wellFormedCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Verify checks code against the newest active record for (email, purpose).
// Attempt and used-flag changes are committed even when verification fails.
func (s *OTPService) Verify(ctx context.Context, email, code string, purpose domain.OtpPurpose) error {
	ctx, span := tracer.Start(ctx, "OTPService.Verify")
	defer span.End()

	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}
	if err := checkPurpose(purpose); err != nil {
		return err
	}
	code = strings.TrimSpace(code)

	var outcome error
	err = s.Tx.WithinTx(ctx, func(ctx context.Context) error {
		outcome = nil
		rec, err := s.Store.LatestUnusedOTP(ctx, email, purpose)
		if errors.Is(err, domain.ErrRecordNotFound) {
			outcome = ErrOTPNotFound
			return nil
		}
		if err != nil {
			return err
		}
		now := clock(s.Now)
		switch {
		case rec.Expired(now):
			rec.Used = true
			outcome = ErrOTPExpired
		case rec.Attempts >= s.maxAttempts():
			rec.Used = true
			outcome = ErrOTPTooManyAttempts
		case matches(rec, code):
			rec.Used = true
		default:
			stale, err := s.staleCode(ctx, email, purpose, code, now)
			if err != nil {
				return err
			}
			if stale {
				outcome = ErrOTPNotFound
				return nil
			}
			rec.Attempts++
			if rec.Attempts >= s.maxAttempts() {
				rec.Used = true
				outcome = ErrOTPTooManyAttempts
			} else {
				outcome = ErrOTPMismatch
			}
		}
		return s.Store.UpdateOTP(ctx, rec)
	})
	if err != nil {
		s.Metrics.OTPVerified("error")
		return persistence("verify otp", err)
	}
	s.Metrics.OTPVerified(verifyResult(outcome))
	return outcome
}

func matches(rec *domain.OtpVerification, code string) bool {
	return wellFormedCode(code) && bcrypt.CompareHashAndPassword([]byte(rec.CodeHash), []byte(code)) == nil
}

// staleCode reports whether code belongs to a record that was already
// consumed or superseded. Such codes verify as not found and do not count as
// an attempt.
func (s *OTPService) staleCode(ctx context.Context, email string, purpose domain.OtpPurpose, code string, now time.Time) (bool, error) {
	if !wellFormedCode(code) {
		return false, nil
	}
	used, err := s.Store.UsedOTPs(ctx, email, purpose, now)
	if err != nil {
		return false, err
	}
	for i := range used {
		if matches(&used[i], code) {
			return true, nil
		}
	}
	return false, nil
}

func verifyResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrOTPNotFound):
		return "not_found"
	case errors.Is(err, ErrOTPExpired):
		return "expired"
	case errors.Is(err, ErrOTPTooManyAttempts):
		return "too_many_attempts"
	case errors.Is(err, ErrOTPMismatch):
		return "mismatch"
	}
	return "error"
}

// Cleanup deletes used and expired records.
func (s *OTPService) Cleanup(ctx context.Context) (int, error) {
	n, err := s.Store.PurgeOTPs(ctx, clock(s.Now))
	if err != nil {
		return 0, persistence("purge otps", err)
	}
	s.Metrics.OTPPurgedN(n)
	return n, nil
}

// RunJanitor calls Cleanup every interval until ctx is done.
func (s *OTPService) RunJanitor(ctx context.Context, interval time.Duration) {
	log := logOrNop(s.Logger)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := s.Cleanup(ctx)
			if err != nil {
				log.Error("otp cleanup failed", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Info("otp cleanup", zap.Int("purged", n))
			}
		}
	}
}
