package client

import (
	"time"

	"github.com/opentalon/geminicog/internal/auth"
	"github.com/opentalon/geminicog/internal/provider"
)

// Factory creates one Client per RPC call from that call's credentials.
type Factory struct {
	cfg      provider.Config
	newModel ModelFunc
	now      func() time.Time
}

// Option configures a Factory.
type Option func(*Factory)

// WithModelFunc replaces the backend constructor, e.g. with a fake in tests.
func WithModelFunc(fn ModelFunc) Option {
	return func(f *Factory) { f.newModel = fn }
}

// WithClock sets the time source used to measure completions.
func WithClock(now func() time.Time) Option {
	return func(f *Factory) { f.now = now }
}

// NewFactory returns a factory for backends described by cfg. cfg.APIKey is
// ignored; keys always come from the call.
func NewFactory(cfg provider.Config, opts ...Option) *Factory {
	f := &Factory{
		cfg:      cfg,
		newModel: provider.New,
		now:      time.Now,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// New returns a client bound to creds. It performs no I/O.
func (f *Factory) New(creds auth.Credentials) *Client {
	cfg := f.cfg
	cfg.APIKey = creds.Get(CredentialAPIKey)
	return &Client{
		cfg:      cfg,
		newModel: f.newModel,
		now:      f.now,
	}
}
