package channel

import (
	"context"
	"errors"
	"fmt"

	"github.com/LeventeLantos/message-scheduler/internal/model"
)

// ErrorKind classifies a failed send for the retry policy.
type ErrorKind int

const (
	// KindTransient covers network errors, timeouts and server-side
	// failures. Unknown errors classify as transient.
	KindTransient ErrorKind = iota

	// KindPermanent covers unknown recipients and invalid addresses.
	// Retrying cannot help.
	KindPermanent

	// KindNotReady means the underlying channel session is currently
	// unusable, e.g. the WhatsApp automation service is not
	// authenticated. Retryable.
	KindNotReady
)

func (k ErrorKind) String() string {
	switch k {
	case KindPermanent:
		return "permanent"
	case KindNotReady:
		return "not_ready"
	default:
		return "transient"
	}
}

// Error wraps a send failure with its classification.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func Transient(err error) error {
	return &Error{Kind: KindTransient, Err: err}
}

func Permanent(err error) error {
	return &Error{Kind: KindPermanent, Err: err}
}

func NotReady(err error) error {
	return &Error{Kind: KindNotReady, Err: err}
}

// KindOf extracts the classification from an error chain. Anything not
// explicitly classified (dial errors, context deadlines) counts as
// transient.
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindTransient
}

// Sender delivers one schedule over its channel. Implementations make no
// idempotency guarantee toward the external channel: a retry after a
// timeout may duplicate a message that was actually delivered.
type Sender interface {
	Send(ctx context.Context, s *model.Schedule) error
}

// Registry maps schedule kinds to their senders.
type Registry map[model.Kind]Sender

func (r Registry) For(kind model.Kind) (Sender, bool) {
	s, ok := r[kind]
	return s, ok
}
