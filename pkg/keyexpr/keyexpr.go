// Package keyexpr evaluates lock name expressions against the arguments of
// a guarded call. Expressions use the expr language; "#param" references
// are accepted as shorthand for "param". Compiled programs are cached.
package keyexpr

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ErrInvalidExpression wraps compile and evaluation failures.
var ErrInvalidExpression = errors.New("invalid name expression")

// Config holds evaluator settings.
type Config struct {
	// MaxEntries caps the number of cached programs.
	MaxEntries int64
	// TTL evicts cached programs after this long.
	TTL time.Duration
}

// DefaultConfig returns the default cache sizing.
func DefaultConfig() Config {
	return Config{MaxEntries: 2048, TTL: 30 * time.Minute}
}

// Evaluator compiles and evaluates name expressions.
type Evaluator struct {
	cache *ristretto.Cache
	ttl   time.Duration
}

// New creates an Evaluator with a program cache sized by cfg.
func New(cfg Config) (*Evaluator, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultConfig().MaxEntries
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.MaxEntries * 10,
		MaxCost:     cfg.MaxEntries, // every program costs 1
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("creating expression cache: %w", err)
	}

	return &Evaluator{cache: cache, ttl: cfg.TTL}, nil
}

// Compile returns the program for expression, compiling it on a cache miss.
func (e *Evaluator) Compile(expression string) (*vm.Program, error) {
	if cached, ok := e.cache.Get(expression); ok {
		if program, ok := cached.(*vm.Program); ok {
			return program, nil
		}
	}

	program, err := expr.Compile(Normalize(expression))
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrInvalidExpression, expression, err)
	}
	e.cache.SetWithTTL(expression, program, 1, e.ttl)

	return program, nil
}

// Evaluate runs expression with params as its environment and renders the
// result as a string. A nil result renders as "null".
func (e *Evaluator) Evaluate(expression string, params map[string]any) (string, error) {
	program, err := e.Compile(expression)
	if err != nil {
		return "", err
	}

	if params == nil {
		params = map[string]any{}
	}
	out, err := expr.Run(program, params)
	if err != nil {
		return "", fmt.Errorf("%w %q: %w", ErrInvalidExpression, expression, err)
	}
	if out == nil {
		return "null", nil
	}

	return fmt.Sprint(out), nil
}

// Close stops the cache's background goroutines.
func (e *Evaluator) Close() {
	e.cache.Close()
}

// Normalize drops the '#' prefix of parameter references outside string
// literals, so "'order.' + #id" becomes "'order.' + id".
func Normalize(expression string) string {
	if !strings.Contains(expression, "#") {
		return expression
	}

	var (
		sb    strings.Builder
		quote rune
	)
	sb.Grow(len(expression))
	for _, r := range expression {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"' || r == '`':
			quote = r
		case r == '#':
			continue
		}
		sb.WriteRune(r)
	}

	return sb.String()
}
