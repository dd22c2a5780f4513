package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/randalmurphal/threadflow/pkg/threadflow/agent"
	"github.com/randalmurphal/threadflow/pkg/threadflow/blob"
	tferrors "github.com/randalmurphal/threadflow/pkg/threadflow/errors"
)

// Defaults applied by FromConfig for missing keys.
const (
	DefaultEngine      = "gpt-4o-mini"
	DefaultIdleTimeout = 5 * time.Minute
	DefaultMaxThreads  = 16

	DefaultCompletionTimeout = 2 * time.Minute

	DefaultIdleNotice    = "This thread has been quiet for a while, so I'm closing it. Start a new one whenever you like."
	DefaultFailureNotice = "Sorry, I couldn't come up with a reply just now. Please try again in a new thread."

	// DefaultAgentName is the agent used when none are configured.
	DefaultAgentName = "socratic"

	defaultInstructions = "You are a Socratic tutor. Never state the answer. " +
		"Reply with one short question that leads the student a step closer to working it out themselves."
)

// Settings is the typed runtime configuration.
type Settings struct {
	// Engine is the default completion model.
	Engine string

	// IdleTimeout bounds each wait for the next message. A thread that
	// stays idle this long is closed.
	IdleTimeout time.Duration

	// CompletionTimeout bounds a single completion call; retries get a
	// fresh deadline. Zero means no bound.
	CompletionTimeout time.Duration

	// MaxTurns closes a thread after this many exchanges. Zero means no
	// limit.
	MaxTurns int

	// MaxThreads bounds concurrently running sessions.
	MaxThreads int

	// Retry governs completion calls.
	Retry tferrors.RetryProtocol

	// Store selects the blob backend.
	Store blob.Options

	Notices Notices

	// Agents in registration order; the first is the default.
	Agents []agent.Agent
}

// Notices are the user-facing texts sent when a thread ends abnormally.
type Notices struct {
	// Idle is sent when a thread closes on idle timeout. Empty sends
	// nothing.
	Idle string

	// Failure is sent when a completion fails after retries.
	Failure string
}

// Default returns the settings used when no file is given.
func Default() Settings {
	s, _ := FromConfig(New(nil))
	return s
}

// Load reads, defaults and validates settings from a file.
func Load(path string) (Settings, error) {
	cfg, err := FromFile(path)
	if err != nil {
		return Settings{}, err
	}
	s, err := FromConfig(cfg)
	if err != nil {
		return Settings{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// FromConfig extracts and validates Settings.
func FromConfig(cfg Config) (Settings, error) {
	s := Settings{
		Engine:            cfg.String("engine", DefaultEngine),
		IdleTimeout:       cfg.Duration("idle_timeout", DefaultIdleTimeout),
		CompletionTimeout: cfg.Duration("completion_timeout", DefaultCompletionTimeout),
		MaxTurns:          cfg.Int("max_turns", 0),
		MaxThreads:        cfg.Int("max_threads", DefaultMaxThreads),
		Retry: tferrors.RetryProtocol{
			MaxRetries: cfg.Int("retry.max_retries", tferrors.DefaultRetry.MaxRetries),
			Delay:      cfg.Duration("retry.delay", tferrors.DefaultRetry.Delay),
			Backoff:    cfg.Int("retry.backoff", tferrors.DefaultRetry.Backoff),
			MaxDelay:   cfg.Duration("retry.max_delay", tferrors.DefaultRetry.MaxDelay),
		},
		Store: blob.Options{
			Backend:     cfg.String("store.backend", blob.BackendMemory),
			Path:        cfg.String("store.path", ""),
			RedisAddr:   cfg.String("store.redis_addr", ""),
			RedisPrefix: cfg.String("store.redis_prefix", ""),
			Compress:    cfg.Bool("store.compress", false),
			AgeIdentity: os.ExpandEnv(cfg.String("store.age_identity", "")),
		},
		Notices: Notices{
			Idle:    cfg.String("notices.idle", DefaultIdleNotice),
			Failure: cfg.String("notices.failure", DefaultFailureNotice),
		},
	}

	for _, sec := range cfg.Sections("agents") {
		s.Agents = append(s.Agents, agent.Agent{
			Name:         sec.String("name", ""),
			Model:        sec.String("model", ""),
			Instructions: sec.String("instructions", ""),
			Description:  sec.String("description", ""),
			Handoffs:     sec.StringSlice("handoffs", nil),
		})
	}
	if len(s.Agents) == 0 {
		s.Agents = []agent.Agent{{Name: DefaultAgentName, Instructions: defaultInstructions}}
	}

	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks the settings are usable.
func (s Settings) Validate() error {
	var errs []error
	if s.Engine == "" {
		errs = append(errs, errors.New("engine is required"))
	}
	if s.IdleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("idle_timeout must be > 0, got %s", s.IdleTimeout))
	}
	if s.CompletionTimeout < 0 {
		errs = append(errs, fmt.Errorf("completion_timeout must be >= 0, got %s", s.CompletionTimeout))
	}
	if s.MaxTurns < 0 {
		errs = append(errs, fmt.Errorf("max_turns must be >= 0, got %d", s.MaxTurns))
	}
	if s.MaxThreads < 1 {
		errs = append(errs, fmt.Errorf("max_threads must be >= 1, got %d", s.MaxThreads))
	}
	if err := s.Retry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("retry: %w", err))
	}
	if s.Notices.Failure == "" {
		errs = append(errs, errors.New("notices.failure is required"))
	} else if s.Notices.Failure == s.Notices.Idle {
		errs = append(errs, errors.New("notices.failure must differ from notices.idle"))
	}
	if _, err := s.Registry(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Registry builds the agent registry from Agents.
func (s Settings) Registry() (*agent.Registry, error) {
	reg := agent.NewRegistry()
	seen := make(map[string]bool, len(s.Agents))
	for _, a := range s.Agents {
		if seen[a.Name] {
			return nil, fmt.Errorf("agents: duplicate agent %q", a.Name)
		}
		seen[a.Name] = true
		if err := reg.Register(a); err != nil {
			return nil, fmt.Errorf("agents: %w", err)
		}
	}
	if err := reg.Check(); err != nil {
		return nil, fmt.Errorf("agents: %w", err)
	}
	return reg, nil
}
