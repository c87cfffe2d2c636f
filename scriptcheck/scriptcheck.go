// Package scriptcheck evaluates rewritten JavaScript in-process with the otto
// interpreter to confirm a rewrite kept its meaning.
//
// Architecture:
//   - Checker wraps one otto.Otto VM seeded with a minimal browser-like global
//     (window, document, navigator) so page scripts referencing those names do
//     not throw. A sync.Mutex serialises access to the VM.
//   - Verify evaluates a single expression and compares its string value with
//     the expected one. The script transformer calls it for every string
//     concatenation it emits when verification is enabled.
//   - Run executes a whole script on a fresh VM so one page's globals never
//     leak into the next check.
package scriptcheck

import (
	"errors"
	"fmt"
	"sync"

	"github.com/robertkrimen/otto"
)

// ErrMismatch is returned by Verify when an expression evaluates to a value
// other than the expected one.
var ErrMismatch = errors.New("scriptcheck: value mismatch")

const bootstrap = `
var window = this;
var self = this;
var document = {
	cookie: "",
	getElementById: function () { return null; },
	querySelector: function () { return null; },
	querySelectorAll: function () { return []; },
	addEventListener: function () {}
};
var navigator = { userAgent: "Mozilla/5.0 (compatible; GoShroud/1.0)" };
var console = { log: function () {}, warn: function () {}, error: function () {} };
`

// Checker evaluates JavaScript. It is safe for concurrent use.
type Checker struct {
	vm *otto.Otto
	mu sync.Mutex
}

// New creates a Checker with the browser stubs loaded.
func New() (*Checker, error) {
	vm, err := newVM()
	if err != nil {
		return nil, err
	}
	return &Checker{vm: vm}, nil
}

func newVM() (*otto.Otto, error) {
	vm := otto.New()
	if _, err := vm.Run(bootstrap); err != nil {
		return nil, fmt.Errorf("scriptcheck: bootstrap JS globals: %w", err)
	}
	return vm, nil
}

// Eval evaluates expr and returns the string form of its value.
func (c *Checker) Eval(expr string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	val, err := c.vm.Run(expr)
	if err != nil {
		return "", fmt.Errorf("scriptcheck: eval: %w", err)
	}
	result, err := val.ToString()
	if err != nil {
		return "", fmt.Errorf("scriptcheck: convert result to string: %w", err)
	}
	return result, nil
}

// Verify reports whether expr evaluates to want.
func (c *Checker) Verify(expr, want string) error {
	got, err := c.Eval(expr)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%w: %s evaluates to %q, want %q", ErrMismatch, expr, got, want)
	}
	return nil
}

// Run executes script on a fresh VM and returns the string value of its last
// statement.
func (c *Checker) Run(script string) (string, error) {
	vm, err := newVM()
	if err != nil {
		return "", err
	}
	val, err := vm.Run(script)
	if err != nil {
		return "", fmt.Errorf("scriptcheck: run: %w", err)
	}
	result, err := val.ToString()
	if err != nil {
		return "", fmt.Errorf("scriptcheck: convert result to string: %w", err)
	}
	return result, nil
}
