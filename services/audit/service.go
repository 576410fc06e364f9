package audit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/namaskah/namaskah-sms/backend/models"
	"github.com/namaskah/namaskah-sms/backend/repositories"
	"github.com/namaskah/namaskah-sms/backend/services/providers"
)

// AuditService persists provider call events asynchronously. It implements
// providers.CallObserver and never blocks the caller.
type AuditService struct {
	repo        repositories.ProviderEventRepository
	logger      *zap.Logger
	eventChan   chan *models.ProviderEvent
	workerCount int
	bufferSize  int
	wg          sync.WaitGroup
	mu          sync.Mutex
	started     bool
	stopped     bool
	dropped     int64
	written     int64
}

// Config holds configuration for the AuditService
type Config struct {
	BufferSize  int // Size of the event buffer channel
	WorkerCount int // Number of concurrent workers
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		BufferSize:  1000,
		WorkerCount: 2,
	}
}

// NewAuditService creates a new AuditService instance
func NewAuditService(repo repositories.ProviderEventRepository, logger *zap.Logger, config Config) *AuditService {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultConfig().BufferSize
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = DefaultConfig().WorkerCount
	}
	return &AuditService{
		repo:        repo,
		logger:      logger,
		eventChan:   make(chan *models.ProviderEvent, config.BufferSize),
		workerCount: config.WorkerCount,
		bufferSize:  config.BufferSize,
	}
}

// Start starts the background workers
func (s *AuditService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("audit service already started")
	}

	for i := 0; i < s.workerCount; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.started = true
	s.logger.Info("started audit service",
		zap.Int("worker_count", s.workerCount),
		zap.Int("buffer_size", s.bufferSize))

	return nil
}

// Stop drains queued events and waits for workers up to timeout
func (s *AuditService) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return fmt.Errorf("audit service not running")
	}
	s.stopped = true
	close(s.eventChan)
	s.mu.Unlock()

	s.logger.Info("stopping audit service", zap.Int("pending_events", len(s.eventChan)))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("audit service stopped gracefully")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("audit service stop timeout after %v", timeout)
	}
}

// ObserveCall implements providers.CallObserver
func (s *AuditService) ObserveCall(ev providers.CallEvent) {
	event := models.NewProviderEvent(ev.Provider, string(ev.Operation), ev.Attempt, ev.Duration)
	event.HealthStatus = string(ev.Status)
	if !ev.At.IsZero() {
		event.CreatedAt = ev.At.UTC()
	}
	if ev.Err != nil {
		event.WithError(ev.Err.Error())
	}
	_ = s.LogEvent(event)
}

// LogEvent queues an event without blocking. Events are dropped when the
// buffer is full or the service is not running.
func (s *AuditService) LogEvent(event *models.ProviderEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.stopped {
		return fmt.Errorf("audit service not running")
	}

	select {
	case s.eventChan <- event:
		return nil
	default:
		s.dropped++
		s.logger.Warn("audit event channel full, dropping event",
			zap.String("provider", event.Provider),
			zap.String("operation", event.Operation))
		return fmt.Errorf("audit event buffer full")
	}
}

func (s *AuditService) worker(id int) {
	defer s.wg.Done()

	for event := range s.eventChan {
		if err := s.processEvent(event); err != nil {
			s.logger.Error("failed to process audit event",
				zap.Int("worker_id", id),
				zap.Error(err),
				zap.String("provider", event.Provider),
				zap.String("operation", event.Operation))
			continue
		}
		s.mu.Lock()
		s.written++
		s.mu.Unlock()
	}
}

func (s *AuditService) processEvent(event *models.ProviderEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.repo.Insert(ctx, event)
}

// RecentEvents returns the newest persisted events for a provider
func (s *AuditService) RecentEvents(ctx context.Context, provider string, limit int) ([]*models.ProviderEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	return s.repo.ListRecent(ctx, provider, limit)
}

// GetStats returns statistics about the audit service
func (s *AuditService) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		BufferSize:    s.bufferSize,
		PendingEvents: len(s.eventChan),
		WorkerCount:   s.workerCount,
		Started:       s.started && !s.stopped,
		Dropped:       s.dropped,
		Written:       s.written,
	}
}

// Stats represents audit service statistics
type Stats struct {
	BufferSize    int   `json:"buffer_size"`
	PendingEvents int   `json:"pending_events"`
	WorkerCount   int   `json:"worker_count"`
	Started       bool  `json:"started"`
	Dropped       int64 `json:"dropped"`
	Written       int64 `json:"written"`
}
