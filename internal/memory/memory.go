package memory

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dshills/nexus/internal/chunker"
	"github.com/dshills/nexus/internal/registry"
	"github.com/dshills/nexus/internal/storage"
)

// StatsAdjuster receives counter changes for a project.
// *registry.Registry implements it.
type StatsAdjuster interface {
	AdjustStats(ctx context.Context, name string, delta registry.StatsDelta) error
}

// Service writes memories and patterns to a store and keeps the owning
// project's counters in step
type Service struct {
	compressor Compressor
	stats      StatsAdjuster
	logger     zerolog.Logger
}

// Option configures a Service
type Option func(*Service)

// WithCompressor replaces the truncating compressor
func WithCompressor(c Compressor) Option {
	return func(s *Service) {
		if c != nil {
			s.compressor = c
		}
	}
}

// WithStats sets where counter changes are reported
func WithStats(a StatsAdjuster) Option {
	return func(s *Service) {
		s.stats = a
	}
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// New creates a Service
func New(opts ...Option) *Service {
	s := &Service{
		compressor: Truncator{},
		logger:     log.Logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "memory").Logger()
	return s
}

// Add stores m in store. When maxTokens is positive the content is first
// compressed to that budget. project names the registry record to bump;
// an empty name or the global store leaves counters alone.
func (s *Service) Add(ctx context.Context, store storage.Store, project string, m *storage.Memory, maxTokens int) error {
	if maxTokens > 0 && chunker.EstimateTokens(m.Content) > maxTokens {
		compressed, err := s.compressor.Compress(ctx, m.Content, maxTokens)
		if err != nil {
			s.logger.Warn().Err(err).Msg("compression failed, truncating")
			compressed = Truncate(m.Content, maxTokens)
		}
		m.Content = compressed
	}
	m.TokenCount = chunker.EstimateTokens(m.Content)

	if err := store.AddMemory(ctx, m); err != nil {
		return err
	}
	s.adjust(ctx, project, registry.StatsDelta{Memories: 1})
	return nil
}

// Search ranks memories in store by keyword relevance
func (s *Service) Search(ctx context.Context, store storage.Store, query string, limit int) ([]*storage.Memory, error) {
	return store.SearchMemories(ctx, query, limit)
}

// Delete removes a memory and decrements the project's counter
func (s *Service) Delete(ctx context.Context, store storage.Store, project, id string) error {
	if err := store.DeleteMemory(ctx, id); err != nil {
		return fmt.Errorf("failed to delete memory %s: %w", id, err)
	}
	s.adjust(ctx, project, registry.StatsDelta{Memories: -1})
	return nil
}

// AddPattern stores p and increments the project's pattern counter
func (s *Service) AddPattern(ctx context.Context, store storage.Store, project string, p *storage.Pattern) error {
	if err := store.AddPattern(ctx, p); err != nil {
		return err
	}
	s.adjust(ctx, project, registry.StatsDelta{Patterns: 1})
	return nil
}

func (s *Service) ListPatterns(ctx context.Context, store storage.Store, limit int) ([]*storage.Pattern, error) {
	return store.ListPatterns(ctx, limit)
}

// adjust reports a counter change. The write already happened, so a
// failure here is logged; UpdateStats repairs the counters later.
func (s *Service) adjust(ctx context.Context, project string, delta registry.StatsDelta) {
	if s.stats == nil || project == "" || project == registry.GlobalStoreName {
		return
	}
	if err := s.stats.AdjustStats(ctx, project, delta); err != nil {
		s.logger.Warn().Err(err).Str("project", project).Msg("failed to adjust project stats")
	}
}
