// Package provider implements the Provider Fallback orchestrator (C7): an
// ordered chain of upstream TTS providers with error-class-based fallback,
// grounded on the teacher's internal/router load-balancer's ordered
// health-aware selection (internal/router/loadbalancer.go), simplified to
// spec §4.7's strict ordered-list-plus-eligibility-predicate model rather
// than the teacher's multi-mode (round-robin/weighted/least-connections)
// selector set, since the spec does not call for those modes.
package provider

import (
    "context"
    "strings"

    "github.com/sametakofficial/cachevoice/internal/config"
    "github.com/sametakofficial/cachevoice/pkg/errors"
    "github.com/sametakofficial/cachevoice/pkg/logger"
)

// Synthesizer is the upstream TTS provider contract assumed by the core
// (spec §1: "only their synthesize(text, voice, model) -> audio_bytes
// contract is assumed").
type Synthesizer interface {
    Synthesize(ctx context.Context, text, voice, model string) ([]byte, error)
}

// Factory constructs a named provider's Synthesizer from its config.
type Factory func(name string, cfg config.ProviderConfig) Synthesizer

type namedProvider struct {
    name string
    impl Synthesizer
    cfg  config.ProviderConfig
}

// Chain holds the ordered, credentials-filtered list of providers.
type Chain struct {
    providers []namedProvider
}

// NewChain instantiates every provider in cfg.FallbackChain whose
// credentials are present, in the configured order. Providers without
// credentials (per ProviderConfig.HasCredentials) are skipped cleanly
// rather than attempted and failing.
func NewChain(cfg config.ProvidersConfig, factory Factory) *Chain {
    var providers []namedProvider
    for _, name := range cfg.FallbackChain {
        pc, ok := cfg.Configs[name]
        if !ok || !pc.HasCredentials() {
            logger.WithField("provider", name).Warn("provider skipped: no credentials configured")
            continue
        }
        providers = append(providers, namedProvider{
            name: name,
            impl: factory(name, pc),
            cfg:  pc,
        })
    }
    return &Chain{providers: providers}
}

// Available reports whether the chain is non-empty.
func (c *Chain) Available() bool {
    return len(c.providers) > 0
}

// Synthesize attempts each provider in order, returning the first success
// together with the provider's name. A fallback-eligible error from one
// provider tries the next; a non-eligible error (validation/authorization,
// implying the request itself is bad) propagates immediately. If every
// provider is exhausted with fallback-eligible errors, returns
// ErrUpstreamExhausted. If the chain is empty, returns ErrNoProvider.
func (c *Chain) Synthesize(ctx context.Context, text, voice, model string) ([]byte, string, error) {
    if !c.Available() {
        return nil, "", errors.New(errors.ErrNoProvider, "no provider configured in the fallback chain")
    }

    var lastErr error
    for _, p := range c.providers {
        audio, err := p.impl.Synthesize(ctx, text, voice, model)
        if err == nil {
            return audio, p.name, nil
        }

        if !IsFallbackEligible(err) {
            return nil, "", errors.Wrap(err, errors.ErrUpstreamRejected, "provider rejected the request").WithContext("provider", p.name)
        }

        logger.WithField("provider", p.name).WithError(err).Warn("provider failed, trying next in fallback chain")
        lastErr = err
    }

    return nil, "", errors.Wrap(lastErr, errors.ErrUpstreamExhausted, "all providers in the fallback chain failed")
}

// IsFallbackEligible classifies an upstream error as fallback-eligible
// (transport/timeout/no-deployment-configured) versus non-eligible
// (validation/authorization, where the request itself is bad and retrying
// against another provider would not help). This replaces exception-class
// dispatch with an explicit predicate over a closed set of error kinds
// (spec §9).
func IsFallbackEligible(err error) bool {
    if err == nil {
        return false
    }

    if ctx, ok := err.(*ContextError); ok {
        return ctx.FallbackEligible
    }

    msg := strings.ToLower(err.Error())
    for _, substr := range []string{"timeout", "deadline exceeded", "connection refused", "connection reset", "no deployment", "temporarily unavailable", "context canceled"} {
        if strings.Contains(msg, substr) {
            return true
        }
    }
    return false
}

// ContextError lets a Synthesizer implementation state its own eligibility
// explicitly instead of relying on substring classification of err.Error().
type ContextError struct {
    Err              error
    FallbackEligible bool
}

func (e *ContextError) Error() string { return e.Err.Error() }
func (e *ContextError) Unwrap() error { return e.Err }
