package flow

import "time"

// Config carries the tunable parameters of the orchestrator. Zero values
// are replaced by defaults in NewConfig; construct with NewConfig and
// functional options rather than a struct literal.
type Config struct {
	// SessionTTL bounds how long an inactive session survives before
	// garbage collection removes its chain.
	SessionTTL time.Duration

	// DecisionReminder is how long a session may wait for user input
	// before a reminder event is published. Zero disables reminders.
	DecisionReminder time.Duration

	// MaxGapsPerSession caps the research loop. Zero means unbounded.
	MaxGapsPerSession int

	// OptionsPerGap is how many researched options to present per gap.
	// Clamped to [2, 5].
	OptionsPerGap int

	// SearchCacheTTL bounds reuse of cached research results.
	SearchCacheTTL time.Duration

	// TRDScoreThreshold is the minimum validation score for a TRD draft
	// to pass.
	TRDScoreThreshold int

	// TRDMaxRetries caps regeneration attempts; when exhausted, the best
	// draft is forced through with a note in the validation report.
	TRDMaxRetries int

	// LLMTimeout bounds a single completion call.
	LLMTimeout time.Duration

	// ResearchTimeout bounds one gap's research, including search and
	// enrichment.
	ResearchTimeout time.Duration

	// ParseTimeout bounds code bundle parsing.
	ParseTimeout time.Duration

	// EventQueueCapacity bounds each session's event backlog; oldest
	// events are dropped beyond it.
	EventQueueCapacity int

	// CompactKeep is how many recent checkpoints Compact preserves in
	// addition to the first. Zero disables compaction.
	CompactKeep int

	// Namespace partitions checkpoint chains.
	Namespace string
}

// Configuration defaults.
const (
	DefaultSessionTTL         = 7 * 24 * time.Hour
	DefaultDecisionReminder   = 30 * time.Minute
	DefaultOptionsPerGap      = 3
	DefaultSearchCacheTTL     = 24 * time.Hour
	DefaultTRDScoreThreshold  = 90
	DefaultTRDMaxRetries      = 3
	DefaultLLMTimeout         = 120 * time.Second
	DefaultResearchTimeout    = 180 * time.Second
	DefaultParseTimeout       = 300 * time.Second
	DefaultEventQueueCapacity = 100
	DefaultCompactKeep        = 20
)

// Option mutates a Config during construction.
type Option func(*Config)

// NewConfig builds a Config from defaults plus options.
func NewConfig(opts ...Option) Config {
	cfg := Config{
		SessionTTL:         DefaultSessionTTL,
		DecisionReminder:   DefaultDecisionReminder,
		OptionsPerGap:      DefaultOptionsPerGap,
		SearchCacheTTL:     DefaultSearchCacheTTL,
		TRDScoreThreshold:  DefaultTRDScoreThreshold,
		TRDMaxRetries:      DefaultTRDMaxRetries,
		LLMTimeout:         DefaultLLMTimeout,
		ResearchTimeout:    DefaultResearchTimeout,
		ParseTimeout:       DefaultParseTimeout,
		EventQueueCapacity: DefaultEventQueueCapacity,
		CompactKeep:        DefaultCompactKeep,
		Namespace:          "session",
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.OptionsPerGap < 2 {
		cfg.OptionsPerGap = 2
	}
	if cfg.OptionsPerGap > 5 {
		cfg.OptionsPerGap = 5
	}
	return cfg
}

// WithSessionTTL sets the inactive-session lifetime.
func WithSessionTTL(d time.Duration) Option {
	return func(c *Config) { c.SessionTTL = d }
}

// WithDecisionReminder sets the wait before a reminder event.
func WithDecisionReminder(d time.Duration) Option {
	return func(c *Config) { c.DecisionReminder = d }
}

// WithMaxGapsPerSession caps the research loop.
func WithMaxGapsPerSession(n int) Option {
	return func(c *Config) { c.MaxGapsPerSession = n }
}

// WithOptionsPerGap sets how many options to present per gap.
func WithOptionsPerGap(n int) Option {
	return func(c *Config) { c.OptionsPerGap = n }
}

// WithSearchCacheTTL sets the research cache lifetime.
func WithSearchCacheTTL(d time.Duration) Option {
	return func(c *Config) { c.SearchCacheTTL = d }
}

// WithTRDScoreThreshold sets the minimum passing TRD score.
func WithTRDScoreThreshold(n int) Option {
	return func(c *Config) { c.TRDScoreThreshold = n }
}

// WithTRDMaxRetries caps TRD regeneration attempts.
func WithTRDMaxRetries(n int) Option {
	return func(c *Config) { c.TRDMaxRetries = n }
}

// WithLLMTimeout bounds a single completion call.
func WithLLMTimeout(d time.Duration) Option {
	return func(c *Config) { c.LLMTimeout = d }
}

// WithResearchTimeout bounds one gap's research.
func WithResearchTimeout(d time.Duration) Option {
	return func(c *Config) { c.ResearchTimeout = d }
}

// WithParseTimeout bounds code bundle parsing.
func WithParseTimeout(d time.Duration) Option {
	return func(c *Config) { c.ParseTimeout = d }
}

// WithEventQueueCapacity bounds the per-session event backlog.
func WithEventQueueCapacity(n int) Option {
	return func(c *Config) { c.EventQueueCapacity = n }
}

// WithCompactKeep sets how many recent checkpoints survive compaction.
func WithCompactKeep(n int) Option {
	return func(c *Config) { c.CompactKeep = n }
}

// WithNamespace partitions checkpoint chains.
func WithNamespace(ns string) Option {
	return func(c *Config) { c.Namespace = ns }
}
