// Package lifecycle implements the authoritative state machine for
// proposals, markets, resolutions and disputes. Every transition re-checks
// the persisted status through a conditional write and appends an audit
// entry; zero rows affected surfaces as a typed invalid_status error, which
// is the pipeline's sole defense against duplicate or out-of-order worker
// reports.
package lifecycle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quorumlabs/marketforge/internal/domain"
)

// EventSink receives lifecycle transitions for the operator feed. Broadcast
// must not block.
type EventSink interface {
	Broadcast(ev domain.LifecycleEvent)
}

// Notifier pings a human channel for needs_human proposals and escalated
// disputes.
type Notifier interface {
	Notify(ctx context.Context, subject, text string) error
}

// EvidenceArchiver persists raw resolution evidence outside the relational
// store; the store keeps only the digest.
type EvidenceArchiver interface {
	Archive(ctx context.Context, marketID, hash string, raw []byte) (location string, err error)
}

// Config tunes lifecycle decisions.
type Config struct {
	// ConfidenceThreshold below which an approval is forced to needs_human.
	ConfidenceThreshold float64
	// AIVersion is recorded on every AI-driven audit entry.
	AIVersion string
}

// Service owns all lifecycle transitions. It is safe for concurrent use from
// multiple processes: correctness rests on the stores' conditional writes,
// not on in-process locking.
type Service struct {
	proposals   domain.ProposalStore
	candidates  domain.CandidateStore
	markets     domain.MarketStore
	resolutions domain.ResolutionStore
	disputes    domain.DisputeStore
	audit       domain.AuditStore
	bus         domain.Publisher
	events      EventSink        // optional
	notifier    Notifier         // optional
	archiver    EvidenceArchiver // optional
	cfg         Config
	logger      *slog.Logger
	now         func() time.Time
}

// Stores bundles the persistence dependencies of the Service.
type Stores struct {
	Proposals   domain.ProposalStore
	Candidates  domain.CandidateStore
	Markets     domain.MarketStore
	Resolutions domain.ResolutionStore
	Disputes    domain.DisputeStore
	Audit       domain.AuditStore
}

// NewService creates the lifecycle service. events, notifier and archiver may
// be nil.
func NewService(st Stores, bus domain.Publisher, events EventSink, notifier Notifier, archiver EvidenceArchiver, cfg Config, logger *slog.Logger) *Service {
	return &Service{
		proposals:   st.Proposals,
		candidates:  st.Candidates,
		markets:     st.Markets,
		resolutions: st.Resolutions,
		disputes:    st.Disputes,
		audit:       st.Audit,
		bus:         bus,
		events:      events,
		notifier:    notifier,
		archiver:    archiver,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// HashText computes the duplicate-guard digest over normalized text:
// lowercased with collapsed whitespace.
func HashText(text string) string {
	norm := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])
}

// HashEvidence computes the 64-char digest binding a resolution to its raw
// evidence.
func HashEvidence(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// appendAudit records a state-changing action. Audit failures are logged but
// do not roll back the transition: the write already happened.
func (s *Service) appendAudit(ctx context.Context, e domain.AuditEntry) {
	if e.AIVersion == "" {
		e.AIVersion = s.cfg.AIVersion
	}
	if err := s.audit.Append(ctx, e); err != nil {
		s.logger.Error("lifecycle: audit append failed",
			slog.String("action", e.Action),
			slog.String("entity_id", e.EntityID),
			slog.String("error", err.Error()),
		)
	}
}

// emit broadcasts a transition to the operator feed.
func (s *Service) emit(entityType, entityID, from, to, actor string) {
	if s.events == nil {
		return
	}
	s.events.Broadcast(domain.LifecycleEvent{
		EntityType: entityType,
		EntityID:   entityID,
		From:       from,
		To:         to,
		Actor:      actor,
		At:         s.now().UTC(),
	})
}

// notify pings the human channel; failures are logged only.
func (s *Service) notify(ctx context.Context, subject, text string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, subject, text); err != nil {
		s.logger.Warn("lifecycle: notification failed",
			slog.String("subject", subject),
			slog.String("error", err.Error()),
		)
	}
}

// publish enqueues a JSON message; the broker owns delivery policy.
func (s *Service) publish(ctx context.Context, queue string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("lifecycle: marshal %s message: %w", queue, err)
	}
	if err := s.bus.Publish(ctx, queue, payload); err != nil {
		return fmt.Errorf("lifecycle: publish %s: %w", queue, err)
	}
	return nil
}

// correlationOrNew returns the given correlation id or mints one.
func correlationOrNew(id string) string {
	if id != "" {
		return id
	}
	return uuid.New().String()
}
