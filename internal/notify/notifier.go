package notify

import (
	"context"
	"errors"
)

// Kind classifies outbound notifications so delivery outcomes can be metered
// and templated independently.
type Kind string

const (
	// KindLoginConfirm carries a magic confirmation link when a login hits
	// the device limit.
	KindLoginConfirm Kind = "login_confirm"
	// KindAccountLock alerts the user that the account was locked after
	// repeated failed logins.
	KindAccountLock Kind = "account_lock"
	// KindSubscriptionPrompt asks the user to bind their Telegram account.
	KindSubscriptionPrompt Kind = "subscription_prompt"
)

// ErrDisabled signals that outbound delivery is disabled via configuration.
var ErrDisabled = errors.New("notify: delivery disabled")

// Message is a single outbound notification addressed to a bound channel.
type Message struct {
	ChatID int64
	Kind   Kind
	Text   string
}

// Notifier delivers out-of-band messages. Delivery is best-effort: callers
// log failures and decide per flow whether they are fatal (a confirmation
// link that cannot be delivered blocks the login that required it).
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}
