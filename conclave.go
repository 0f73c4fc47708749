// Package conclave provides a high-level façade over the thread store,
// provider gateway, consensus coordinator and workflow orchestrator. Most
// applications interact with this package by:
//  1. Creating a Conclave via New() or FromConfig()
//  2. Registering one or more providers (OpenAI, Anthropic, mocks)
//  3. Calling StartOrContinue per tool call, threading the returned
//     continuation id through subsequent calls
//
// All defaults are safe for local development: an in-memory thread store with
// a three-hour TTL, no model restrictions, and a no-op logger. Production
// deployments typically supply a SQLite-backed store and a structured logger.
package conclave

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/conclave-ai/conclave/config"
	"github.com/conclave-ai/conclave/consensus"
	"github.com/conclave-ai/conclave/core"
	"github.com/conclave-ai/conclave/gateway"
	"github.com/conclave-ai/conclave/gateway/anthropic"
	"github.com/conclave-ai/conclave/gateway/openai"
	"github.com/conclave-ai/conclave/logging"
	"github.com/conclave-ai/conclave/orchestrator"
	"github.com/conclave-ai/conclave/thread"
)

// Options configure the Conclave instance.
type Options struct {
	// ThreadStore holds conversation threads; defaults to in-memory.
	ThreadStore core.ThreadStore

	// AllowedModels / DisabledModels restrict provider registration.
	AllowedModels  []string
	DisabledModels []string

	// MemberTimeout bounds each consensus member call.
	MemberTimeout time.Duration

	// ReservedOutput is the default output allowance per call.
	ReservedOutput int

	// RetryTransientOnce retries single-provider calls once on transient
	// failure.
	RetryTransientOnce bool

	// Logger defaults to NoOp.
	Logger logging.Logger
}

// Conclave is the high-level façade aggregating the underlying components.
type Conclave struct {
	store        core.ThreadStore
	gateway      *gateway.Gateway
	orchestrator *orchestrator.Orchestrator
}

// New creates a Conclave with optional overrides. Any unset component is
// initialized with an in-memory implementation.
func New(optFns ...func(o *Options)) *Conclave {
	opts := Options{
		MemberTimeout:  consensus.DefaultMemberTimeout,
		ReservedOutput: orchestrator.DefaultReservedOutput,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.ThreadStore == nil {
		opts.ThreadStore = thread.NewInMemoryStore(func(o *thread.Options) {
			o.Logger = opts.Logger
		})
	}

	gw := gateway.New(func(o *gateway.Options) {
		o.AllowedModels = opts.AllowedModels
		o.DisabledModels = opts.DisabledModels
		o.Logger = opts.Logger
	})

	coord := consensus.NewCoordinator(gw, func(o *consensus.Options) {
		o.MemberTimeout = opts.MemberTimeout
		o.Logger = opts.Logger
	})

	orch := orchestrator.New(opts.ThreadStore, gw, func(o *orchestrator.Options) {
		o.Coordinator = coord
		o.Logger = opts.Logger
		o.ReservedOutput = opts.ReservedOutput
		o.RetryTransientOnce = opts.RetryTransientOnce
	})

	return &Conclave{store: opts.ThreadStore, gateway: gw, orchestrator: orch}
}

// FromConfig builds a fully wired Conclave from a loaded configuration,
// constructing the store and registering every configured provider.
func FromConfig(ctx context.Context, cfg config.Config, optFns ...func(o *Options)) (*Conclave, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := Options{
		AllowedModels:  cfg.AllowedModels,
		DisabledModels: cfg.DisabledModels,
		MemberTimeout:  cfg.Consensus.MemberTimeout,
		ReservedOutput: cfg.ReservedOutput,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger(&logging.LoggerConfig{
			Level:  logging.ParseLogLevel(cfg.LogLevel),
			Format: "json",
			Output: os.Stdout,
		})
	}

	if opts.ThreadStore == nil {
		if cfg.Store.SQLitePath != "" {
			store, err := thread.OpenSQLiteStore(ctx, cfg.Store.SQLitePath, func(o *thread.SQLiteOptions) {
				o.TTL = cfg.Store.TTL
				o.Logger = opts.Logger
			})
			if err != nil {
				return nil, fmt.Errorf("open thread store: %w", err)
			}
			opts.ThreadStore = store
		} else {
			opts.ThreadStore = thread.NewInMemoryStore(func(o *thread.Options) {
				o.TTL = cfg.Store.TTL
				o.Capacity = cfg.Store.Capacity
				o.Logger = opts.Logger
			})
		}
	}

	c := New(func(o *Options) { *o = opts })
	for _, pc := range cfg.Providers {
		provider, err := buildProvider(pc)
		if err != nil {
			return nil, err
		}
		if err := c.RegisterProvider(provider); err != nil {
			return nil, fmt.Errorf("register provider %q: %w", pc.ID, err)
		}
	}
	return c, nil
}

func buildProvider(pc config.ProviderConfig) (core.Provider, error) {
	profile := pc.Profile()
	switch pc.Kind {
	case config.KindOpenAI:
		return openai.New(profile), nil
	case config.KindAnthropic:
		return anthropic.New(profile, func(o *anthropic.Options) {
			o.APIKey = pc.APIKey()
		}), nil
	case config.KindMock:
		return core.NewMockProvider(pc.ID).WithProfile(profile), nil
	default:
		return nil, fmt.Errorf("provider %q: unknown kind %q", pc.ID, pc.Kind)
	}
}

// RegisterProvider adds a provider to the underlying gateway.
func (c *Conclave) RegisterProvider(p core.Provider) error { return c.gateway.Register(p) }

// StartOrContinue executes one tool call through the orchestrator.
func (c *Conclave) StartOrContinue(ctx context.Context, req orchestrator.Request) (*orchestrator.Response, error) {
	return c.orchestrator.StartOrContinue(ctx, req)
}

// ListAvailable returns the profiles of healthy providers satisfying the
// required capabilities, in deterministic preference order.
func (c *Conclave) ListAvailable(required core.Capabilities) []core.Profile {
	return c.gateway.ListAvailable(required)
}

// Availability reports the current health of one provider.
func (c *Conclave) Availability(idOrAlias string) (core.Availability, error) {
	return c.gateway.Availability(idOrAlias)
}

// Close releases the thread store when it owns external resources.
func (c *Conclave) Close() error {
	switch s := c.store.(type) {
	case io.Closer:
		return s.Close()
	case interface{ Close() }:
		s.Close()
	}
	return nil
}
