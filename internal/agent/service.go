package agent

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Service wraps a Client with call logging and counters.
type Service struct {
	client Client
	name   string
	logger *slog.Logger

	completeCalls atomic.Int64
	classifyCalls atomic.Int64
	failures      atomic.Int64
}

// Stats contains model call counters.
type Stats struct {
	Provider      string `json:"provider"`
	CompleteCalls int64  `json:"complete_calls"`
	ClassifyCalls int64  `json:"classify_calls"`
	Failures      int64  `json:"failures"`
}

// NewService wraps client. name identifies the provider in logs and stats.
func NewService(client Client, name string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{client: client, name: name, logger: logger}
}

// Complete forwards to the wrapped client.
func (s *Service) Complete(ctx context.Context, messages []Message) (string, error) {
	s.completeCalls.Add(1)
	start := time.Now()
	text, err := s.client.Complete(ctx, messages)
	if err != nil {
		s.failures.Add(1)
		s.logger.Warn("model complete failed", "provider", s.name, "messages", len(messages), "duration", time.Since(start), "error", err)
		return "", err
	}
	s.logger.Debug("model complete", "provider", s.name, "messages", len(messages), "duration", time.Since(start))
	return text, nil
}

// Classify forwards to the wrapped client.
func (s *Service) Classify(ctx context.Context, prompt string) (bool, error) {
	s.classifyCalls.Add(1)
	start := time.Now()
	ok, err := s.client.Classify(ctx, prompt)
	if err != nil {
		s.failures.Add(1)
		s.logger.Warn("model classify failed", "provider", s.name, "duration", time.Since(start), "error", err)
		return false, err
	}
	s.logger.Debug("model classify", "provider", s.name, "verdict", ok, "duration", time.Since(start))
	return ok, nil
}

// Provider returns the provider name.
func (s *Service) Provider() string {
	return s.name
}

// GetStats returns call counters.
func (s *Service) GetStats() Stats {
	return Stats{
		Provider:      s.name,
		CompleteCalls: s.completeCalls.Load(),
		ClassifyCalls: s.classifyCalls.Load(),
		Failures:      s.failures.Load(),
	}
}

// Close releases the wrapped client when it holds resources.
func (s *Service) Close() {
	if c, ok := s.client.(interface{ Close() }); ok {
		c.Close()
	}
}

// Health checks the wrapped client when it supports health checks.
func (s *Service) Health(ctx context.Context) error {
	if h, ok := s.client.(interface{ Health(context.Context) error }); ok {
		return h.Health(ctx)
	}
	return nil
}
