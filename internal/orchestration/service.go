// Package orchestration implements the job orchestration core for pulse:
// job submission, run assignment with per-agent concurrency bounds, the
// command/acknowledgment protocol, and idempotent event ingestion.
//
// Every operation is a single transaction against the store. There is no
// in-process scheduler; the capacity check in AssignRun is a read-then-write
// inside one transaction, and the per-agent active-run count is recomputed
// from the runs table on every call so it can never drift.
package orchestration

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/pulsehq/pulse/internal/db"
	"github.com/pulsehq/pulse/internal/events"
	"github.com/pulsehq/pulse/internal/ratelimit"
	"github.com/pulsehq/pulse/internal/workspace"
)

// DefaultMaxRetries bounds retryRun when the job sets no explicit ceiling.
const DefaultMaxRetries = 3

// Service is the orchestration core. All methods are safe for concurrent use.
type Service struct {
	store     *db.Store
	members   *workspace.Directory
	limiter   *ratelimit.Limiter
	publisher events.Publisher
	logger    *slog.Logger

	defaultMaxRetries int
	now               func() time.Time
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithPublisher sets the live event publisher. Publishing is additive:
// the persisted event log in the store remains the source of truth.
func WithPublisher(p events.Publisher) ServiceOption {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithRateLimiter overrides the job submission limiter.
func WithRateLimiter(l *ratelimit.Limiter) ServiceOption {
	return func(s *Service) {
		s.limiter = l
	}
}

// WithDefaultMaxRetries overrides the retry ceiling used when a job sets none.
func WithDefaultMaxRetries(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.defaultMaxRetries = n
		}
	}
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates the orchestration core over the given store.
func NewService(store *db.Store, members *workspace.Directory, opts ...ServiceOption) *Service {
	s := &Service{
		store:             store,
		members:           members,
		limiter:           ratelimit.New(ratelimit.DefaultLimit, ratelimit.DefaultWindow),
		publisher:         events.NewNopPublisher(),
		logger:            slog.Default(),
		defaultMaxRetries: DefaultMaxRetries,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store exposes the underlying store for read-side collaborators.
func (s *Service) Store() *db.Store {
	return s.store
}

// appendAudit writes an audit event inside the transaction and returns the
// live event to publish after commit. Audit events the core writes itself
// get fresh event IDs; dedupe only matters for caller-supplied IDs on the
// ingest path.
func (s *Service) appendAudit(q db.Querier, workspaceID, subjectID string, eventType events.EventType, data any) (events.Event, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return events.Event{}, fmt.Errorf("marshal %s event data: %w", eventType, err)
	}

	eventID := NewEventID()
	rec := &db.Event{
		WorkspaceID: workspaceID,
		SubjectID:   subjectID,
		EventID:     eventID,
		EventType:   string(eventType),
		Data:        payload,
		CreatedAt:   s.now().UTC(),
	}
	if _, err := db.SaveEvent(q, rec); err != nil {
		return events.Event{}, err
	}

	ev := events.NewEvent(eventType, workspaceID, subjectID, data)
	ev.EventID = eventID
	return ev, nil
}

// publish forwards events to live subscribers after a successful commit.
func (s *Service) publish(evs []events.Event) {
	for _, ev := range evs {
		s.publisher.Publish(ev)
	}
}

// Events returns the persisted event log for a run or job, oldest first.
func (s *Service) Events(workspaceID, userID, subjectID string, limit int) ([]db.Event, error) {
	if err := s.members.RequireMember(workspaceID, userID); err != nil {
		return nil, err
	}
	return db.ListEvents(s.store, workspaceID, subjectID, limit)
}
