package consultation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/Aniketchurihar/CardioGenie/internal/platform/metrics"
)

// Notifier delivers a finished consultation to the care team.
type Notifier interface {
	SendSummary(ctx context.Context, info PatientInfo, symptoms []string, responses map[string][]string) error
	ScheduleAppointment(ctx context.Context, info PatientInfo) (string, error)
}

// IsComplete reports whether the consultation has gathered enough
// information. It is pure and stays true once the session is completed.
func (p Policy) IsComplete(s Snapshot) bool {
	if s.Phase == PhaseCompleted {
		return true
	}
	info := s.Info()
	if !p.HasEssentials(info) || len(s.Symptoms) == 0 {
		return false
	}
	responses := s.ResponseCount()
	demographic := info.Has(FieldAge) || info.Has(FieldGender)
	return (demographic && responses > 0) || responses >= p.MinResponses
}

// Trigger runs the completion side effects at most once per session.
type Trigger struct {
	notifier Notifier
	timeout  time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

func NewTrigger(n Notifier, timeout time.Duration, logger *slog.Logger, m *metrics.Metrics) *Trigger {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Trigger{notifier: n, timeout: timeout, logger: logger, metrics: m, now: time.Now}
}

// Fire dispatches the summary and appointment request the first time it is
// called for s and returns the patient-facing completion message. Dispatch
// failures are logged only.
func (t *Trigger) Fire(ctx context.Context, s *Session) string {
	if !s.Notified {
		s.Notified = true
		now := t.now()
		s.CompletedAt = &now
		t.dispatch(ctx, s.Snapshot())
	}
	return CompletionMessage(s.Snapshot())
}

func (t *Trigger) dispatch(ctx context.Context, snap Snapshot) {
	if t.notifier == nil {
		return
	}

	// The patient may disconnect at any time; delivery must not depend on it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.timeout)
	defer cancel()

	log := t.logger.With("session_id", snap.ID)
	info := snap.Info()

	var g multierror.Group
	g.Go(func() error {
		if err := t.notifier.SendSummary(ctx, info, snap.Symptoms, snap.Responses); err != nil {
			t.metrics.DispatchFailure("summary")
			return fmt.Errorf("send summary: %w", err)
		}
		log.Info("consultation summary sent")
		return nil
	})
	g.Go(func() error {
		slot, err := t.notifier.ScheduleAppointment(ctx, info)
		if err != nil {
			t.metrics.DispatchFailure("appointment")
			return fmt.Errorf("schedule appointment: %w", err)
		}
		log.Info("appointment scheduled", "slot", slot)
		return nil
	})

	if err := g.Wait().ErrorOrNil(); err != nil {
		log.Error("completion dispatch failed", "error", err)
	}
}

// CompletionMessage renders the fixed completion template.
func CompletionMessage(s Snapshot) string {
	age := "Not provided"
	if s.Age > 0 {
		age = fmt.Sprintf("%d", s.Age)
	}
	return fmt.Sprintf(`Consultation Complete

Summary:
• Patient: %s
• Email: %s
• Age: %s
• Symptoms: %s

Next Steps:
• Doctor notification sent
• Appointment scheduling in progress
• You will receive confirmation shortly

Thank you for using CardioGenie.`,
		orDefault(s.Name), orDefault(s.Email), age, strings.Join(s.Symptoms, ", "))
}

func orDefault(v string) string {
	if v == "" {
		return "Not provided"
	}
	return v
}
