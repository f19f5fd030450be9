package hedge

import (
	"fmt"
	"time"
)

// Config is the immutable per-request-class hedging policy (spec §3 "HedgingConfig"). Build one with
// NewConfigBuilder. Exactly one of a Rule or a RuleWithContent backs a Config; content-aware configs additionally
// carry MaxContentLength, the cap applied when duplicating a streamed response body for rule evaluation.
type Config[R any] struct {
	rule             RuleWithContent[R]
	contentAware     bool
	maxTotalAttempts int
	perAttemptTimeout time.Duration
	initialDelay      time.Duration
	maxContentLength  int
}

// MaxTotalAttempts is the hard cap on attempts for a single outer request (initial attempt counts as 1).
func (c *Config[R]) MaxTotalAttempts() int { return c.maxTotalAttempts }

// PerAttemptTimeout is the per-attempt response timeout; zero means unlimited.
func (c *Config[R]) PerAttemptTimeout() time.Duration { return c.perAttemptTimeout }

// InitialHedgingDelay is the delay before the first hedge (attempt 1) if the initial attempt hasn't completed.
func (c *Config[R]) InitialHedgingDelay() time.Duration { return c.initialDelay }

// MaxContentLength is the duplication cap for content-aware rules; zero for non-content-aware configs.
func (c *Config[R]) MaxContentLength() int { return c.maxContentLength }

// ContentAware reports whether this Config was built from a RuleWithContent (so attempts need duplication).
func (c *Config[R]) ContentAware() bool { return c.contentAware }

// ToBuilder returns a ConfigBuilder pre-populated with this Config's settings, such that
// config.ToBuilder().Build() reproduces an equal Config (spec §8 "Round-trip / idempotence").
func (c *Config[R]) ToBuilder() ConfigBuilder[R] {
	return &configBuilder[R]{
		rule:              c.rule,
		ruleSet:           true,
		contentAware:      c.contentAware,
		maxTotalAttempts:  c.maxTotalAttempts,
		perAttemptTimeout: c.perAttemptTimeout,
		initialDelay:      c.initialDelay,
		maxContentLength:  c.maxContentLength,
	}
}

// ConfigBuilder builds Config instances. Exactly one of WithRule/WithRuleWithContent must be called before Build.
type ConfigBuilder[R any] interface {
	// WithRule sets a content-agnostic rule.
	WithRule(rule Rule[R]) ConfigBuilder[R]
	// WithRuleWithContent sets a content-aware rule and the content-length cap used when duplicating the response
	// for evaluation. maxContentLength must be > 0.
	WithRuleWithContent(rule RuleWithContent[R], maxContentLength int) ConfigBuilder[R]
	// WithMaxTotalAttempts sets the hard attempt cap (initial attempt included). Must be > 0.
	WithMaxTotalAttempts(n int) ConfigBuilder[R]
	// WithPerAttemptTimeout sets the per-attempt response timeout. Zero means unlimited.
	WithPerAttemptTimeout(d time.Duration) ConfigBuilder[R]
	// WithInitialHedgingDelay sets the delay before the first hedge. Must be >= 0.
	WithInitialHedgingDelay(d time.Duration) ConfigBuilder[R]
	// Build validates the accumulated configuration and returns an immutable Config, panicking on violation (spec
	// §6 "Configuration validation").
	Build() *Config[R]
}

type configBuilder[R any] struct {
	rule              RuleWithContent[R]
	ruleSet           bool
	contentAware      bool
	maxTotalAttempts  int
	perAttemptTimeout time.Duration
	initialDelay      time.Duration
	maxContentLength  int
}

// NewConfigBuilder returns a ConfigBuilder defaulted to maxTotalAttempts=2, no per-attempt timeout, and no initial
// delay (callers must still set a rule before Build).
func NewConfigBuilder[R any]() ConfigBuilder[R] {
	return &configBuilder[R]{maxTotalAttempts: 2}
}

func (b *configBuilder[R]) WithRule(rule Rule[R]) ConfigBuilder[R] {
	b.rule = FromRule(rule)
	b.ruleSet = true
	b.contentAware = false
	return b
}

func (b *configBuilder[R]) WithRuleWithContent(rule RuleWithContent[R], maxContentLength int) ConfigBuilder[R] {
	b.rule = rule
	b.ruleSet = true
	b.contentAware = true
	b.maxContentLength = maxContentLength
	return b
}

func (b *configBuilder[R]) WithMaxTotalAttempts(n int) ConfigBuilder[R] {
	b.maxTotalAttempts = n
	return b
}

func (b *configBuilder[R]) WithPerAttemptTimeout(d time.Duration) ConfigBuilder[R] {
	b.perAttemptTimeout = d
	return b
}

func (b *configBuilder[R]) WithInitialHedgingDelay(d time.Duration) ConfigBuilder[R] {
	b.initialDelay = d
	return b
}

func (b *configBuilder[R]) Build() *Config[R] {
	if !b.ruleSet {
		panic("hedge: Config requires WithRule or WithRuleWithContent")
	}
	if b.maxTotalAttempts <= 0 {
		panic(fmt.Sprintf("hedge: maxTotalAttempts must be > 0, got %d", b.maxTotalAttempts))
	}
	if b.perAttemptTimeout < 0 {
		panic(fmt.Sprintf("hedge: perAttemptTimeout must be >= 0, got %s", b.perAttemptTimeout))
	}
	if b.initialDelay < 0 {
		panic(fmt.Sprintf("hedge: initialHedgingDelay must be >= 0, got %s", b.initialDelay))
	}
	if b.contentAware && b.maxContentLength <= 0 {
		panic(fmt.Sprintf("hedge: maxContentLength must be > 0 for a content-aware rule, got %d", b.maxContentLength))
	}
	if !b.contentAware && b.maxContentLength != 0 {
		panic("hedge: maxContentLength is only meaningful with a content-aware rule")
	}

	return &Config[R]{
		rule:              b.rule,
		contentAware:      b.contentAware,
		maxTotalAttempts:  b.maxTotalAttempts,
		perAttemptTimeout: b.perAttemptTimeout,
		initialDelay:      b.initialDelay,
		maxContentLength:  b.maxContentLength,
	}
}
