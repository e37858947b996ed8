package consultation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aniketchurihar/CardioGenie/internal/platform/logger"
	"github.com/Aniketchurihar/CardioGenie/internal/rules"
)

type fakeNotifier struct {
	mu        sync.Mutex
	summaries int
	bookings  int
	info      PatientInfo
	symptoms  []string
	responses map[string][]string
	err       error
}

func (f *fakeNotifier) SendSummary(_ context.Context, info PatientInfo, symptoms []string, responses map[string][]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries++
	f.info, f.symptoms, f.responses = info, symptoms, responses
	return f.err
}

func (f *fakeNotifier) ScheduleAppointment(context.Context, PatientInfo) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bookings++
	if f.err != nil {
		return "", f.err
	}
	return "2026-03-01 at 10:15 (Calendar details logged for manual processing)", nil
}

func (f *fakeNotifier) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.summaries, f.bookings
}

type recordingPhraser struct {
	phases []Phase
	err    error
}

func (p *recordingPhraser) Generate(_ context.Context, _ Snapshot, _ string, phase Phase) (string, error) {
	p.phases = append(p.phases, phase)
	if p.err != nil {
		return "", p.err
	}
	return "phrased for " + phase.String(), nil
}

type failingExtractor struct{ calls int }

func (f *failingExtractor) Extract(context.Context, string, PatientInfo) (PatientInfo, error) {
	f.calls++
	return PatientInfo{}, errors.New("model unavailable")
}

// greedyExtractor always claims every field, even those already known.
type greedyExtractor struct{ info PatientInfo }

func (g greedyExtractor) Extract(context.Context, string, PatientInfo) (PatientInfo, error) {
	return g.info, nil
}

type failingRepo struct{ Repository }

func (failingRepo) Save(context.Context, Snapshot) error { return errors.New("disk full") }

type testEnv struct {
	svc      *Service
	store    *MemoryStore
	repo     Repository
	notifier *fakeNotifier
}

func newTestEnv(t *testing.T, mutate func(*Deps)) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    NewMemoryStore(),
		repo:     NewMemoryRepository(),
		notifier: &fakeNotifier{},
	}
	d := Deps{
		Catalog:  rules.Fallback(),
		Policy:   DefaultPolicy(),
		Store:    env.store,
		Repo:     env.repo,
		Notifier: env.notifier,
		Logger:   logger.Discard(),
	}
	if mutate != nil {
		mutate(&d)
	}
	env.repo = d.Repo
	env.svc = NewService(d)
	return env
}

func (e *testEnv) open(t *testing.T, id string) *Session {
	t.Helper()
	sess, _, err := e.svc.Open(context.Background(), id)
	require.NoError(t, err)
	return sess
}

func (e *testEnv) send(t *testing.T, id, text string) Reply {
	t.Helper()
	reply, err := e.svc.ProcessMessage(context.Background(), id, text)
	require.NoError(t, err)
	return reply
}

func (e *testEnv) session(t *testing.T, id string) Snapshot {
	t.Helper()
	s, ok := e.store.Get(id)
	require.True(t, ok)
	return s.Snapshot()
}

const chestPain = "chest pain / discomfort"

func TestProcessMessage_ExtractsBasicInfo(t *testing.T) {
	env := newTestEnv(t, nil)
	env.open(t, "s1")

	reply := env.send(t, "s1", "Hi I'm Jane, jane@x.com")

	s := env.session(t, "s1")
	assert.Equal(t, "Jane", s.Name)
	assert.Equal(t, "jane@x.com", s.Email)
	assert.Equal(t, PhaseSymptoms, s.Phase)
	assert.Equal(t, RoleAI, reply.Role)
	assert.Equal(t, FallbackText(PhaseSymptoms), reply.Text)
}

func TestProcessMessage_StaysInBasicInfoUntilRequiredFields(t *testing.T) {
	env := newTestEnv(t, nil)
	env.open(t, "s1")

	env.send(t, "s1", "I'm Jane")
	assert.Equal(t, PhaseBasicInfo, env.session(t, "s1").Phase)

	env.send(t, "s1", "sure, it's jane@x.com")
	assert.Equal(t, PhaseSymptoms, env.session(t, "s1").Phase)
}

func TestProcessMessage_ConfigurableRequiredFields(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Policy.RequiredFields = []Field{FieldName, FieldEmail, FieldAge}
	})
	env.open(t, "s1")

	env.send(t, "s1", "Hi I'm Jane, jane@x.com")
	assert.Equal(t, PhaseBasicInfo, env.session(t, "s1").Phase)

	env.send(t, "s1", "I am 52 years old")
	assert.Equal(t, PhaseSymptoms, env.session(t, "s1").Phase)
}

func TestProcessMessage_FieldsAreWriteOnce(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) {
		d.Policy.RequiredFields = []Field{FieldName, FieldEmail, FieldAge, FieldGender}
		d.Extractor = greedyExtractor{info: PatientInfo{Name: "Jane", Email: "jane@x.com"}}
	})
	env.open(t, "s1")
	env.send(t, "s1", "hello")

	env.svc.extractor = greedyExtractor{info: PatientInfo{Name: "Bob", Email: "bob@y.com", Age: 40, Gender: "Male"}}
	env.send(t, "s1", "hello again")

	s := env.session(t, "s1")
	assert.Equal(t, "Jane", s.Name)
	assert.Equal(t, "jane@x.com", s.Email)
	assert.Equal(t, 40, s.Age)
	assert.Equal(t, "Male", s.Gender)
}

func TestProcessMessage_DetectsSymptom(t *testing.T) {
	env := newTestEnv(t, nil)
	env.open(t, "s1")
	env.send(t, "s1", "Hi I'm Jane, jane@x.com")

	reply := env.send(t, "s1", "I have chest pain")

	s := env.session(t, "s1")
	assert.Equal(t, []string{chestPain}, s.Symptoms)
	assert.Equal(t, PhaseFollowUp, s.Phase)
	assert.Equal(t, chestPain, s.CurrentSymptom)
	assert.Equal(t, 0, s.CurrentQuestionIndex)

	rule, _ := rules.Fallback().Lookup(chestPain)
	assert.Equal(t, rule.Questions[0], reply.Text)
}

func TestProcessMessage_NoSymptomStaysInSymptoms(t *testing.T) {
	env := newTestEnv(t, nil)
	env.open(t, "s1")
	env.send(t, "s1", "Hi I'm Jane, jane@x.com")

	reply := env.send(t, "s1", "just a routine checkup")

	s := env.session(t, "s1")
	assert.Equal(t, PhaseSymptoms, s.Phase)
	assert.Empty(t, s.Symptoms)
	assert.Equal(t, FallbackText(PhaseSymptoms), reply.Text)
}

func TestProcessMessage_MultipleSymptomsInterviewsFirstInCatalogOrder(t *testing.T) {
	env := newTestEnv(t, nil)
	env.open(t, "s1")
	env.send(t, "s1", "Hi I'm Jane, jane@x.com")

	env.send(t, "s1", "I'm short of breath and have chest pain")

	s := env.session(t, "s1")
	assert.ElementsMatch(t, []string{chestPain, "shortness of breath (dyspnea)"}, s.Symptoms)
	assert.Equal(t, chestPain, s.CurrentSymptom)
}

func TestProcessMessage_FollowUpExhaustionCompletes(t *testing.T) {
	env := newTestEnv(t, nil)
	env.open(t, "s1")
	env.send(t, "s1", "Hi I'm Jane, jane@x.com")
	env.send(t, "s1", "I have chest pain")

	rule, _ := rules.Fallback().Lookup(chestPain)

	reply := env.send(t, "s1", "  since yesterday  ")
	s := env.session(t, "s1")
	assert.Equal(t, 1, s.CurrentQuestionIndex)
	assert.Equal(t, PhaseFollowUp, s.Phase)
	assert.Equal(t, rule.Questions[1], reply.Text)
	summaries, bookings := env.notifier.calls()
	assert.Zero(t, summaries+bookings)

	reply = env.send(t, "s1", "squeezing")
	s = env.session(t, "s1")
	assert.Equal(t, 2, s.CurrentQuestionIndex)
	assert.Equal(t, PhaseCompleted, s.Phase)
	assert.Empty(t, s.CurrentSymptom)
	assert.True(t, s.Notified)
	assert.NotNil(t, s.CompletedAt)
	assert.True(t, reply.Completed)
	assert.Contains(t, reply.Text, "Consultation Complete")
	assert.Equal(t, map[string][]string{chestPain: {"since yesterday", "squeezing"}}, s.Responses)

	summaries, bookings = env.notifier.calls()
	assert.Equal(t, 1, summaries)
	assert.Equal(t, 1, bookings)
	assert.Equal(t, "Jane", env.notifier.info.Name)
}

func TestProcessMessage_CompletionPredicateWithDemographics(t *testing.T) {
	env := newTestEnv(t, nil)
	env.open(t, "s1")
	env.send(t, "s1", "Hi I'm Jane, jane@x.com, 45 years old")
	env.send(t, "s1", "I have chest pain")

	reply := env.send(t, "s1", "since yesterday")

	s := env.session(t, "s1")
	assert.Equal(t, PhaseCompleted, s.Phase)
	assert.Equal(t, 1, s.CurrentQuestionIndex)
	assert.Empty(t, s.CurrentSymptom)
	assert.True(t, reply.Completed)
	summaries, _ := env.notifier.calls()
	assert.Equal(t, 1, summaries)
}

func TestProcessMessage_CompletedSessionDoesNotRedispatch(t *testing.T) {
	env := newTestEnv(t, nil)
	env.open(t, "s1")
	env.send(t, "s1", "Hi I'm Jane, jane@x.com, female")
	env.send(t, "s1", "I have chest pain")
	first := env.send(t, "s1", "since yesterday")
	require.True(t, first.Completed)

	for i := 0; i < 3; i++ {
		again := env.send(t, "s1", "hello?")
		assert.Equal(t, first.Text, again.Text)
		assert.Equal(t, PhaseCompleted, again.Phase)
	}

	summaries, bookings := env.notifier.calls()
	assert.Equal(t, 1, summaries)
	assert.Equal(t, 1, bookings)
	assert.Equal(t, map[string][]string{chestPain: {"since yesterday"}}, env.session(t, "s1").Responses)
}

func TestProcessMessage_DispatchFailureStillCompletes(t *testing.T) {
	env := newTestEnv(t, nil)
	env.notifier.err = errors.New("telegram down")
	env.open(t, "s1")
	env.send(t, "s1", "Hi I'm Jane, jane@x.com, female")
	env.send(t, "s1", "I have chest pain")

	reply := env.send(t, "s1", "since yesterday")

	assert.True(t, reply.Completed)
	assert.Contains(t, reply.Text, "Thank you for using CardioGenie.")
	assert.True(t, env.session(t, "s1").Notified)
}

func TestProcessMessage_UnknownCurrentSymptomCompletes(t *testing.T) {
	env := newTestEnv(t, nil)
	now := time.Now()
	require.NoError(t, env.repo.Save(context.Background(), Snapshot{
		ID:             "s1",
		Name:           "Jane",
		Email:          "jane@x.com",
		Symptoms:       []string{"retired symptom"},
		Responses:      map[string][]string{},
		Phase:          PhaseFollowUp,
		CurrentSymptom: "retired symptom",
		CreatedAt:      now,
		UpdatedAt:      now,
	}))
	env.open(t, "s1")

	reply, err := env.svc.ProcessMessage(context.Background(), "s1", "it comes and goes")
	require.NoError(t, err)

	s := env.session(t, "s1")
	assert.Equal(t, PhaseCompleted, s.Phase)
	assert.True(t, reply.Completed)
	summaries, _ := env.notifier.calls()
	assert.Equal(t, 1, summaries)
}

func TestProcessMessage_FollowUpNeverUsesPhraser(t *testing.T) {
	phraser := &recordingPhraser{}
	env := newTestEnv(t, func(d *Deps) { d.Phraser = phraser })
	env.open(t, "s1")

	env.send(t, "s1", "hello")
	env.send(t, "s1", "Hi I'm Jane, jane@x.com")
	env.send(t, "s1", "I have chest pain")
	env.send(t, "s1", "since yesterday")
	env.send(t, "s1", "squeezing")

	assert.Equal(t, []Phase{PhaseBasicInfo, PhaseSymptoms}, phraser.phases)
}

func TestProcessMessage_PhraserFailureUsesFallback(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Phraser = &recordingPhraser{err: errors.New("timeout")} })
	env.open(t, "s1")

	reply := env.send(t, "s1", "hello")
	assert.Equal(t, FallbackText(PhaseBasicInfo), reply.Text)
	assert.Equal(t, PhaseBasicInfo, env.session(t, "s1").Phase)
}

func TestProcessMessage_ExtractorFailureFallsBackToPatterns(t *testing.T) {
	ext := &failingExtractor{}
	env := newTestEnv(t, func(d *Deps) { d.Extractor = ext })
	env.open(t, "s1")

	env.send(t, "s1", "Hi I'm Jane, jane@x.com")

	s := env.session(t, "s1")
	assert.Equal(t, 1, ext.calls)
	assert.Equal(t, "Jane", s.Name)
	assert.Equal(t, PhaseSymptoms, s.Phase)
}

type blockingExtractor struct{}

func (blockingExtractor) Extract(ctx context.Context, _ string, _ PatientInfo) (PatientInfo, error) {
	<-ctx.Done()
	return PatientInfo{}, ctx.Err()
}

func TestProcessMessage_CancelledDelegateLeavesStateUntouched(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Extractor = blockingExtractor{} })
	env.open(t, "s1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := env.svc.ProcessMessage(ctx, "s1", "Hi I'm Jane, jane@x.com")
	require.ErrorIs(t, err, context.Canceled)

	s := env.session(t, "s1")
	assert.Empty(t, s.Name)
	assert.Equal(t, PhaseBasicInfo, s.Phase)
	assert.Empty(t, s.History)
}

func TestProcessMessage_EmptyMessage(t *testing.T) {
	env := newTestEnv(t, nil)
	env.open(t, "s1")

	for _, text := range []string{"", "   ", "\n\t"} {
		_, err := env.svc.ProcessMessage(context.Background(), "s1", text)
		assert.ErrorIs(t, err, ErrEmptyMessage)
	}
	assert.Empty(t, env.session(t, "s1").History)
}

func TestProcessMessage_UnknownSession(t *testing.T) {
	env := newTestEnv(t, nil)

	reply, err := env.svc.ProcessMessage(context.Background(), "missing", "hello")
	assert.ErrorIs(t, err, ErrUnknownSession)
	assert.Equal(t, RoleSystem, reply.Role)
	assert.Equal(t, SessionErrorMessage, reply.Text)
	assert.Zero(t, env.store.Len())
}

func TestProcessMessage_PhaseIsMonotonic(t *testing.T) {
	env := newTestEnv(t, nil)
	env.open(t, "s1")

	script := []string{
		"hello", "I'm Jane", "jane@x.com", "nothing much",
		"chest pain and breathless", "yesterday", "sharp", "more chest pain", "ok",
	}
	last := PhaseBasicInfo
	for _, msg := range script {
		reply := env.send(t, "s1", msg)
		assert.GreaterOrEqual(t, int(reply.Phase), int(last), msg)
		last = reply.Phase
	}
	assert.Equal(t, PhaseCompleted, last)
}

func TestProcessMessage_QuestionsAskedInOrderWithoutRepeats(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Policy.MaxFollowUps = 4; d.Policy.MinResponses = 4 })
	env.open(t, "s1")
	env.send(t, "s1", "Hi I'm Jane, jane@x.com")

	rule, _ := rules.Fallback().Lookup(chestPain)
	var asked []string
	asked = append(asked, env.send(t, "s1", "chest pain").Text)
	for i := 0; i < 3; i++ {
		asked = append(asked, env.send(t, "s1", "answer").Text)
	}
	assert.Equal(t, rule.Questions, asked)

	final := env.send(t, "s1", "last answer")
	assert.True(t, final.Completed)
}

func TestProcessMessage_PersistsAfterEveryMessage(t *testing.T) {
	env := newTestEnv(t, nil)
	env.open(t, "s1")

	env.send(t, "s1", "Hi I'm Jane, jane@x.com")
	snap, err := env.repo.Load(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, PhaseSymptoms, snap.Phase)
	require.Len(t, snap.History, 2)
	assert.Equal(t, RoleUser, snap.History[0].Role)
	assert.Equal(t, RoleAI, snap.History[1].Role)

	env.send(t, "s1", "I have chest pain")
	snap, err = env.repo.Load(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, PhaseFollowUp, snap.Phase)
	assert.Len(t, snap.History, 4)
}

func TestProcessMessage_SaveFailureIsNotReturned(t *testing.T) {
	env := newTestEnv(t, func(d *Deps) { d.Repo = failingRepo{NewMemoryRepository()} })
	env.open(t, "s1")

	_, err := env.svc.ProcessMessage(context.Background(), "s1", "Hi I'm Jane, jane@x.com")
	assert.NoError(t, err)
}

func TestOpen(t *testing.T) {
	env := newTestEnv(t, nil)

	_, reply, err := env.svc.Open(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, WelcomeMessage, reply.Text)
	assert.Equal(t, 1, env.svc.ActiveSessions())

	_, _, err = env.svc.Open(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrInvalidSessionID)
}

func TestOpen_ResumesIncompleteSession(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.open(t, "s1")
	env.send(t, "s1", "Hi I'm Jane, jane@x.com")
	env.send(t, "s1", "I have chest pain")
	env.svc.Close(sess)
	assert.Zero(t, env.svc.ActiveSessions())

	_, reply, err := env.svc.Open(context.Background(), "s1")
	require.NoError(t, err)

	rule, _ := rules.Fallback().Lookup(chestPain)
	assert.Equal(t, "Welcome back. "+rule.Questions[0], reply.Text)
	s := env.session(t, "s1")
	assert.Equal(t, "Jane", s.Name)
	assert.Equal(t, PhaseFollowUp, s.Phase)
}

func TestOpen_CompletedSessionStartsOver(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.open(t, "s1")
	env.send(t, "s1", "Hi I'm Jane, jane@x.com, female")
	env.send(t, "s1", "I have chest pain")
	env.send(t, "s1", "since yesterday")
	env.svc.Close(sess)

	_, reply, err := env.svc.Open(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, WelcomeMessage, reply.Text)
	s := env.session(t, "s1")
	assert.Equal(t, PhaseBasicInfo, s.Phase)
	assert.Empty(t, s.Name)
}

func TestClose_KeepsSnapshot(t *testing.T) {
	env := newTestEnv(t, nil)
	sess := env.open(t, "s1")
	env.send(t, "s1", "I'm Jane")

	env.svc.Close(sess)
	env.svc.Close(sess)
	assert.Zero(t, env.svc.ActiveSessions())

	_, ok := env.store.Get("s1")
	assert.False(t, ok)
	snap, err := env.svc.Patient(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "Jane", snap.Name)
}

func TestOpen_SecondConnectionTakesOver(t *testing.T) {
	env := newTestEnv(t, nil)
	old := env.open(t, "s1")
	env.send(t, "s1", "Hi I'm Jane, jane@x.com")

	cur, reply, err := env.svc.Open(context.Background(), "s1")
	require.NoError(t, err)
	assert.NotSame(t, old, cur)
	assert.Equal(t, "Welcome back. "+FallbackText(PhaseSymptoms), reply.Text)
	assert.Equal(t, 1, env.svc.ActiveSessions())

	reply, err = env.svc.process(context.Background(), old, "I have chest pain")
	assert.ErrorIs(t, err, ErrSessionSuperseded)
	assert.Equal(t, RoleSystem, reply.Role)
	assert.Equal(t, SessionMovedMessage, reply.Text)

	env.svc.Close(old)
	live, ok := env.store.Get("s1")
	require.True(t, ok)
	assert.Same(t, cur, live)
	assert.Equal(t, 1, env.svc.ActiveSessions())

	rule, _ := rules.Fallback().Lookup(chestPain)
	reply = env.send(t, "s1", "I have chest pain")
	assert.Equal(t, rule.Questions[0], reply.Text)
	assert.Equal(t, "Jane", env.session(t, "s1").Name)

	env.svc.Close(cur)
	assert.Zero(t, env.svc.ActiveSessions())
}
