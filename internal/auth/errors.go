package auth

import "errors"

// FailureKind classifies terminal login failures. Each kind maps to a stable
// API error code and message; infrastructure errors are never expressed as a
// Failure so callers cannot mistake a store outage for a bad password.
type FailureKind string

const (
	FailureInvalidCredentials FailureKind = "invalid_credentials"
	FailureAccountLocked      FailureKind = "account_locked"
	FailureAccountNotActive   FailureKind = "account_not_active"
	FailureDeviceLimit        FailureKind = "device_limit_reached"
	FailureDelivery           FailureKind = "confirmation_delivery_failed"
	FailureTokenInvalid       FailureKind = "token_invalid_or_expired"
)

// Failure is a terminal authentication rejection. The Message is safe to
// surface to the caller; the real reason is recorded server-side in the
// audit log.
type Failure struct {
	Kind    FailureKind
	Message string

	// AttemptsRemaining is >= 0 only for invalid-credential failures.
	AttemptsRemaining int

	// LockedNow marks the attempt that crossed the lockout threshold.
	LockedNow bool
}

func (f *Failure) Error() string {
	return f.Message
}

// AsFailure unwraps err into a Failure when it is one.
func AsFailure(err error) (*Failure, bool) {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure, true
	}
	return nil, false
}

const invalidCredentialsMessage = "Invalid username or password"

func invalidCredentials(attemptsRemaining int) *Failure {
	// Identical wording for unknown-user and wrong-password paths, to
	// prevent username enumeration.
	return &Failure{
		Kind:              FailureInvalidCredentials,
		Message:           invalidCredentialsMessage,
		AttemptsRemaining: attemptsRemaining,
	}
}
