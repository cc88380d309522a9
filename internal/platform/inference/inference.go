// Package inference wraps the hosted language models used to read lab reports.
//
// Every provider satisfies Completer: one system instruction, one user
// message, one text answer. Callers treat the answer as untrusted text.
package inference

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned by a client that has no credentials.
var ErrNotConfigured = errors.New("inference: provider not configured")

// Options tune a single completion call.
type Options struct {
	MaxTokens   int
	Temperature float64
}

// Option mutates Options.
type Option func(*Options)

// WithMaxTokens bounds the length of the answer.
func WithMaxTokens(n int) Option {
	return func(o *Options) { o.MaxTokens = n }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Options) { o.Temperature = t }
}

// Apply resolves opts over the defaults.
func Apply(opts []Option) Options {
	o := Options{MaxTokens: 1024, Temperature: 0.2}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// Completer is the text-completion capability.
type Completer interface {
	Complete(ctx context.Context, system, user string, opts ...Option) (string, error)
}

// Availability is implemented by completers that can tell whether they are
// usable without making a call.
type Availability interface {
	Available() bool
}

// IsAvailable reports whether c can be called. A nil completer is the
// "no provider configured" state.
func IsAvailable(c Completer) bool {
	if c == nil {
		return false
	}
	if a, ok := c.(Availability); ok {
		return a.Available()
	}
	return true
}
