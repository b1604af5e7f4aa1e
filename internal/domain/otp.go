package domain

import "time"

type OtpPurpose string

const (
	PurposeRegistration      OtpPurpose = "registration"
	PurposeLogin             OtpPurpose = "login"
	PurposePasswordReset     OtpPurpose = "password_reset"
	PurposeEmailVerification OtpPurpose = "email_verification"
)

func (p OtpPurpose) Valid() bool {
	switch p {
	case PurposeRegistration, PurposeLogin, PurposePasswordReset, PurposeEmailVerification:
		return true
	}
	return false
}

// OtpVerification is a one-time code. Code is only populated on the value
// returned at issuance and is never persisted; CodeHash is.
type OtpVerification struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Purpose   OtpPurpose `json:"purpose"`
	Code      string     `json:"-"`
	CodeHash  string     `json:"-"`
	ExpiresAt time.Time  `json:"expiresAt"`
	Used      bool       `json:"used"`
	Attempts  int        `json:"attempts"`
	CreatedAt time.Time  `json:"createdAt"`
}

func (o *OtpVerification) Expired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}

func (o *OtpVerification) Active(now time.Time) bool {
	return !o.Used && !o.Expired(now)
}
