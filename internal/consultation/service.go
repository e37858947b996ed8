package consultation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Aniketchurihar/CardioGenie/internal/platform/metrics"
	"github.com/Aniketchurihar/CardioGenie/internal/rules"
)

var (
	ErrEmptyMessage      = errors.New("empty message")
	ErrUnknownSession    = errors.New("unknown session")
	ErrInvalidSessionID  = errors.New("invalid session id")
	// ErrSessionSuperseded is returned to a connection whose session was
	// taken over by a newer connection for the same id.
	ErrSessionSuperseded = errors.New("session continued on another connection")
)

const saveTimeout = 5 * time.Second

// Reply is one outbound message for the transport.
type Reply struct {
	Role      Role
	Text      string
	Phase     Phase
	Completed bool
}

// Deps wires the service. Catalog and Store are required; everything else
// may be nil, in which case the local fallback is used or the step skipped.
type Deps struct {
	Catalog         *rules.Catalog
	Policy          Policy
	Store           SessionStore
	Repo            Repository
	Extractor       Extractor
	Phraser         Phraser
	Notifier        Notifier
	DispatchTimeout time.Duration
	Logger          *slog.Logger
	Metrics         *metrics.Metrics
}

// Service runs the intake conversation state machine.
type Service struct {
	catalog   *rules.Catalog
	policy    Policy
	store     SessionStore
	repo      Repository
	extractor Extractor
	phraser   Phraser
	sequencer *Sequencer
	trigger   *Trigger
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	// openMu serializes registration so two connections for one id cannot
	// both take over the same session.
	openMu sync.Mutex
}

func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Policy.MaxFollowUps == 0 {
		d.Policy = DefaultPolicy()
	}
	if d.Store == nil {
		d.Store = NewMemoryStore()
	}
	return &Service{
		catalog:   d.Catalog,
		policy:    d.Policy,
		store:     d.Store,
		repo:      d.Repo,
		extractor: d.Extractor,
		phraser:   d.Phraser,
		sequencer: NewSequencer(d.Catalog, d.Policy.MaxFollowUps),
		trigger:   NewTrigger(d.Notifier, d.DispatchTimeout, d.Logger, d.Metrics),
		logger:    d.Logger,
		metrics:   d.Metrics,
		now:       time.Now,
	}
}

// Welcome is the greeting sent when a fresh session connects.
func (svc *Service) Welcome() string { return WelcomeMessage }

// Open registers a live session for id and returns it together with the
// greeting. The caller drives the returned session and must hand it back to
// Close. A connection opened for an id that is already live takes the
// session over; the older connection gets ErrSessionSuperseded on its next
// message. Otherwise a persisted session that has not completed yet is
// resumed, and anything else starts over in basic_info.
func (svc *Service) Open(ctx context.Context, id string) (*Session, Reply, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, Reply{}, ErrInvalidSessionID
	}

	svc.openMu.Lock()
	sess, resumed := svc.takeOver(id)
	if sess == nil {
		sess, resumed = svc.resume(ctx, id)
	}
	if sess == nil {
		sess = NewSession(id, svc.now())
	}
	if _, live := svc.store.Get(id); !live {
		svc.metrics.SessionOpened()
	}
	svc.store.Put(sess)
	svc.openMu.Unlock()

	if !resumed {
		svc.logger.Info("session opened", "session_id", id)
		return sess, Reply{Role: RoleAI, Text: svc.Welcome(), Phase: sess.Phase}, nil
	}

	svc.logger.Info("session resumed", "session_id", id, "phase", sess.Phase)
	prompt := FallbackText(sess.Phase)
	if sess.Phase == PhaseFollowUp && sess.CurrentSymptom != "" {
		if q, done := svc.sequencer.Next(sess); !done {
			prompt = q
		}
	}
	return sess, Reply{Role: RoleAI, Text: "Welcome back. " + prompt, Phase: sess.Phase}, nil
}

// takeOver retires the live session for id, waiting for any message it is
// processing, and returns a copy of its state for the new connection.
func (svc *Service) takeOver(id string) (*Session, bool) {
	prev, ok := svc.store.Get(id)
	if !ok {
		return nil, false
	}
	prev.mu.Lock()
	prev.superseded = true
	snap := prev.Snapshot()
	prev.mu.Unlock()

	svc.logger.Info("session taken over by a new connection", "session_id", id)
	if snap.Phase == PhaseCompleted {
		return nil, false
	}
	return RestoreSession(snap), true
}

func (svc *Service) resume(ctx context.Context, id string) (*Session, bool) {
	if svc.repo == nil {
		return nil, false
	}
	snap, err := svc.repo.Load(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			svc.logger.Warn("failed to load session snapshot", "session_id", id, "error", err)
		}
		return nil, false
	}
	if snap.Phase == PhaseCompleted {
		return nil, false
	}
	return RestoreSession(snap), true
}

// Close evicts sess from the live store unless a newer connection has
// already replaced it. The persisted snapshot is kept.
func (svc *Service) Close(sess *Session) {
	if sess == nil || !svc.store.CompareAndDelete(sess.ID, sess) {
		return
	}
	svc.metrics.SessionClosed()
	svc.logger.Info("session closed", "session_id", sess.ID)
}

// ProcessMessage advances the live session registered for id by one patient
// message and returns the reply.
func (svc *Service) ProcessMessage(ctx context.Context, id, text string) (Reply, error) {
	sess, ok := svc.store.Get(id)
	if !ok {
		return Reply{Role: RoleSystem, Text: SessionErrorMessage}, ErrUnknownSession
	}
	return svc.process(ctx, sess, text)
}

// process advances sess by one patient message. A message that fails
// leaves the session untouched.
func (svc *Service) process(ctx context.Context, sess *Session, text string) (Reply, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	// 1. Resolve session
	if sess.superseded {
		return Reply{Role: RoleSystem, Text: SessionMovedMessage}, ErrSessionSuperseded
	}
	if strings.TrimSpace(text) == "" {
		return Reply{}, ErrEmptyMessage
	}

	// 2. Record input
	svc.metrics.Message(sess.Phase.String())
	received := svc.now()

	// 3. Phase handling
	switch sess.Phase {
	case PhaseBasicInfo:
		if err := svc.collectInfo(ctx, sess, text); err != nil {
			return Reply{}, err
		}
	case PhaseSymptoms:
		svc.detectSymptoms(sess, text)
	case PhaseFollowUp:
		svc.recordAnswer(sess, text)
	}
	sess.appendHistory(RoleUser, text, received)

	// 4. Completion and reply
	var reply string
	switch {
	case svc.policy.IsComplete(sess.Snapshot()):
		if svc.transition(sess, PhaseCompleted) {
			svc.metrics.Completion("predicate")
		}
		reply = svc.trigger.Fire(ctx, sess)
	case sess.Phase == PhaseFollowUp && sess.CurrentSymptom != "":
		q, done := svc.sequencer.Next(sess)
		reply = q
		if done {
			svc.transition(sess, PhaseCompleted)
			svc.metrics.Completion("sequencer")
			reply = q + "\n\n" + svc.trigger.Fire(ctx, sess)
		}
	default:
		reply = svc.phrase(ctx, sess, text)
	}

	// 5. Record output and persist
	now := svc.now()
	sess.appendHistory(RoleAI, reply, now)
	sess.UpdatedAt = now
	svc.save(ctx, sess)

	return Reply{
		Role:      RoleAI,
		Text:      reply,
		Phase:     sess.Phase,
		Completed: sess.Phase == PhaseCompleted,
	}, nil
}

func (svc *Service) collectInfo(ctx context.Context, sess *Session, text string) error {
	known := sess.Info()
	update, err := svc.extract(ctx, text, known)
	if err != nil {
		return err
	}
	sess.applyInfo(update)
	if svc.policy.HasEssentials(sess.Info()) {
		svc.transition(sess, PhaseSymptoms)
	}
	return nil
}

// extract prefers the configured delegate and falls back to the pattern
// extractor. Only cancellation of ctx is returned as an error.
func (svc *Service) extract(ctx context.Context, text string, known PatientInfo) (PatientInfo, error) {
	if svc.extractor != nil {
		update, err := svc.extractor.Extract(ctx, text, known)
		if err == nil {
			return update, nil
		}
		if ctx.Err() != nil {
			return PatientInfo{}, fmt.Errorf("extract patient info: %w", ctx.Err())
		}
		svc.metrics.DelegateFallback("extractor")
		svc.logger.Warn("extractor failed, using pattern extractor", "error", err)
	}
	return PatternExtractor{}.Extract(ctx, text, known)
}

func (svc *Service) detectSymptoms(sess *Session, text string) {
	found := svc.catalog.Detect(text)
	if len(found) == 0 {
		return
	}
	sess.addSymptoms(found...)
	sess.startFollowUp(found[0])
	svc.transition(sess, PhaseFollowUp)
	svc.logger.Info("symptoms detected", "session_id", sess.ID, "symptoms", found, "interviewing", found[0])
}

func (svc *Service) recordAnswer(sess *Session, text string) {
	if sess.CurrentSymptom == "" {
		if svc.transition(sess, PhaseCompleted) {
			svc.metrics.Completion("follow_up_exhausted")
		}
		return
	}
	sess.recordResponse(text)
	if svc.sequencer.Exhausted(sess) {
		if svc.transition(sess, PhaseCompleted) {
			svc.metrics.Completion("follow_up_exhausted")
		}
	}
}

func (svc *Service) phrase(ctx context.Context, sess *Session, text string) string {
	if svc.phraser == nil {
		return FallbackText(sess.Phase)
	}
	out, err := svc.phraser.Generate(ctx, sess.Snapshot(), text, sess.Phase)
	if err != nil || strings.TrimSpace(out) == "" {
		svc.metrics.DelegateFallback("phraser")
		if err != nil {
			svc.logger.Warn("phraser failed, using fallback text", "session_id", sess.ID, "error", err)
		}
		return FallbackText(sess.Phase)
	}
	return strings.TrimSpace(out)
}

func (svc *Service) transition(sess *Session, to Phase) bool {
	from := sess.Phase
	if !sess.advance(to) {
		return false
	}
	svc.metrics.Transition(from.String(), to.String())
	svc.logger.Debug("phase transition", "session_id", sess.ID, "from", from, "to", to)
	return true
}

// save persists a snapshot. The connection may already be gone, so the
// write is detached from ctx.
func (svc *Service) save(ctx context.Context, sess *Session) {
	if svc.repo == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), saveTimeout)
	defer cancel()
	if err := svc.repo.Save(ctx, sess.Snapshot()); err != nil {
		svc.logger.Error("failed to save session", "session_id", sess.ID, "error", err)
	}
}

// Patients lists persisted sessions, most recently updated first.
func (svc *Service) Patients(ctx context.Context, limit int) ([]Snapshot, error) {
	if svc.repo == nil {
		return nil, nil
	}
	return svc.repo.List(ctx, limit)
}

// Patient loads one persisted session.
func (svc *Service) Patient(ctx context.Context, id string) (Snapshot, error) {
	if svc.repo == nil {
		return Snapshot{}, ErrNotFound
	}
	return svc.repo.Load(ctx, id)
}

// ActiveSessions is the number of live connections.
func (svc *Service) ActiveSessions() int { return svc.store.Len() }

// Catalog exposes the loaded rule set.
func (svc *Service) Catalog() *rules.Catalog { return svc.catalog }
