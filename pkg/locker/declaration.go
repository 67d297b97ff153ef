package locker

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Type decides what happens to the lock after a successful call.
type Type int

const (
	// Auto releases the lock as soon as the guarded call returns.
	Auto Type = iota
	// Hold keeps the lock until its lease expires, turning it into a cooldown.
	Hold
)

// String returns the upper-case type name.
func (t Type) String() string {
	switch t {
	case Auto:
		return "AUTO"
	case Hold:
		return "HOLD"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// ParseType parses "AUTO" or "HOLD", ignoring case.
func ParseType(s string) (Type, error) {
	switch strings.ToUpper(s) {
	case "AUTO", "":
		return Auto, nil
	case "HOLD":
		return Hold, nil
	default:
		return 0, fmt.Errorf("unknown lock type %q", s)
	}
}

// Declaration defaults.
const (
	DefaultMessage       = "duplicate submission"
	DefaultExpireSeconds = 10
	DefaultWaitTimeout   = 2000 * time.Millisecond
)

// Declaration configures how an operation is guarded. It is a value type;
// use With to derive variants.
type Declaration struct {
	// Name is an expression over the operation's parameters whose result
	// completes the lock key. Empty means a random token per call.
	Name          string
	RejectPolicy  RejectionPolicy `validate:"gte=0,lte=3"`
	Type          Type            `validate:"gte=0,lte=1"`
	Message       string
	ExpireSeconds int64 `validate:"gte=1"`
	Blocking      bool
	WaitTimeout   time.Duration `validate:"gte=0"`
}

// Option customizes a Declaration.
type Option func(*Declaration)

// DefaultDeclaration returns a Declaration with every field at its default.
func DefaultDeclaration() Declaration {
	return Declaration{
		RejectPolicy:  Abort,
		Type:          Auto,
		Message:       DefaultMessage,
		ExpireSeconds: DefaultExpireSeconds,
		Blocking:      true,
		WaitTimeout:   DefaultWaitTimeout,
	}
}

// NewDeclaration applies opts on top of DefaultDeclaration.
func NewDeclaration(opts ...Option) Declaration {
	return DefaultDeclaration().With(opts...)
}

// With returns a copy of d with opts applied.
func (d Declaration) With(opts ...Option) Declaration {
	for _, opt := range opts {
		opt(&d)
	}

	return d
}

// WithName sets the key expression.
func WithName(expression string) Option {
	return func(d *Declaration) { d.Name = expression }
}

// WithRejectPolicy sets the rejection policy.
func WithRejectPolicy(p RejectionPolicy) Option {
	return func(d *Declaration) { d.RejectPolicy = p }
}

// WithType sets the lock type.
func WithType(t Type) Option {
	return func(d *Declaration) { d.Type = t }
}

// WithMessage sets the message carried by rejection errors.
func WithMessage(msg string) Option {
	return func(d *Declaration) { d.Message = msg }
}

// WithExpire sets the lease length in whole seconds.
func WithExpire(seconds int64) Option {
	return func(d *Declaration) { d.ExpireSeconds = seconds }
}

// WithBlocking selects between waiting for the lock and a single attempt.
func WithBlocking(blocking bool) Option {
	return func(d *Declaration) { d.Blocking = blocking }
}

// WithWaitTimeout bounds how long a blocking call waits for the lock.
func WithWaitTimeout(timeout time.Duration) Option {
	return func(d *Declaration) { d.WaitTimeout = timeout }
}

var validate = validator.New()

// Validate checks field ranges.
func (d Declaration) Validate() error {
	if err := validate.Struct(d); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDeclaration, err)
	}

	return nil
}
