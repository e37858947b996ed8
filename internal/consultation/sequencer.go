package consultation

import "github.com/Aniketchurihar/CardioGenie/internal/rules"

const (
	ClosingUnknownSymptom = "Thank you for that information. Let me schedule your consultation."
	ClosingAllAnswered    = "Thank you for providing all the information. I'm now scheduling your consultation with the cardiologist."
)

// Sequencer picks follow-up questions strictly from the rule catalog.
type Sequencer struct {
	catalog      *rules.Catalog
	maxFollowUps int
}

func NewSequencer(c *rules.Catalog, maxFollowUps int) *Sequencer {
	return &Sequencer{catalog: c, maxFollowUps: maxFollowUps}
}

// Next returns the question at the current index for the symptom under
// interview. done is true when there is nothing left to ask; the caller must
// then complete the session.
func (q *Sequencer) Next(s *Session) (text string, done bool) {
	rule, ok := q.catalog.Lookup(s.CurrentSymptom)
	if !ok {
		return ClosingUnknownSymptom, true
	}
	i := s.CurrentQuestionIndex
	if i >= 0 && i < len(rule.Questions) && i < q.maxFollowUps {
		return rule.Questions[i], false
	}
	return ClosingAllAnswered, true
}

// Exhausted reports whether no further question may be asked for the
// current symptom.
func (q *Sequencer) Exhausted(s *Session) bool {
	if s.CurrentQuestionIndex >= q.maxFollowUps {
		return true
	}
	rule, ok := q.catalog.Lookup(s.CurrentSymptom)
	return !ok || s.CurrentQuestionIndex >= len(rule.Questions)
}
