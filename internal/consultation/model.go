package consultation

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Phase is the stage of the intake conversation. Phases are ordered and a
// session only ever moves forward.
type Phase int

const (
	PhaseBasicInfo Phase = iota
	PhaseSymptoms
	PhaseFollowUp
	PhaseCompleted
)

var phaseNames = [...]string{"basic_info", "symptoms", "follow_up", "completed"}

func (p Phase) String() string {
	if p < PhaseBasicInfo || p > PhaseCompleted {
		return fmt.Sprintf("phase(%d)", int(p))
	}
	return phaseNames[p]
}

func (p Phase) MarshalText() ([]byte, error) {
	if p < PhaseBasicInfo || p > PhaseCompleted {
		return nil, fmt.Errorf("invalid phase %d", int(p))
	}
	return []byte(p.String()), nil
}

func (p *Phase) UnmarshalText(b []byte) error {
	parsed, err := ParsePhase(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePhase converts the text form of a phase back to its value.
func ParsePhase(s string) (Phase, error) {
	for i, name := range phaseNames {
		if name == s {
			return Phase(i), nil
		}
	}
	return PhaseBasicInfo, fmt.Errorf("unknown phase %q", s)
}

// Role tags who authored a message, both on the wire and in history.
type Role string

const (
	RoleAI     Role = "ai"
	RoleUser   Role = "user"
	RoleSystem Role = "system"
)

type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Field names one demographic value.
type Field string

const (
	FieldName   Field = "name"
	FieldEmail  Field = "email"
	FieldAge    Field = "age"
	FieldGender Field = "gender"
)

// PatientInfo carries demographics. A zero value means "not known".
type PatientInfo struct {
	Name   string `json:"name,omitempty"`
	Email  string `json:"email,omitempty"`
	Age    int    `json:"age,omitempty"`
	Gender string `json:"gender,omitempty"`
}

// Has reports whether field f is known.
func (p PatientInfo) Has(f Field) bool {
	switch f {
	case FieldName:
		return p.Name != ""
	case FieldEmail:
		return p.Email != ""
	case FieldAge:
		return p.Age > 0
	case FieldGender:
		return p.Gender != ""
	}
	return false
}

// Session is the live state of one patient conversation. It is driven by
// the connection that opened it; mu only serializes that connection against
// a takeover by a newer one.
type Session struct {
	mu sync.Mutex
	// superseded is set when a newer connection took the session over.
	superseded bool

	ID string

	Name   string
	Email  string
	Age    int
	Gender string

	Symptoms  []string
	Responses map[string][]string

	Phase                Phase
	CurrentSymptom       string
	CurrentQuestionIndex int

	History []Message

	// Notified is set once the completion dispatch has run.
	Notified bool

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// NewSession returns a fresh session in basic_info.
func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:        id,
		Responses: make(map[string][]string),
		Phase:     PhaseBasicInfo,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Info returns the session demographics.
func (s *Session) Info() PatientInfo {
	return PatientInfo{Name: s.Name, Email: s.Email, Age: s.Age, Gender: s.Gender}
}

// applyInfo copies each value of update into an empty field only.
func (s *Session) applyInfo(update PatientInfo) {
	if s.Name == "" {
		s.Name = strings.TrimSpace(update.Name)
	}
	if s.Email == "" {
		s.Email = strings.TrimSpace(update.Email)
	}
	if s.Age == 0 && update.Age > 0 {
		s.Age = update.Age
	}
	if s.Gender == "" {
		s.Gender = strings.TrimSpace(update.Gender)
	}
}

func (s *Session) hasSymptom(name string) bool {
	for _, existing := range s.Symptoms {
		if existing == name {
			return true
		}
	}
	return false
}

func (s *Session) addSymptoms(names ...string) {
	for _, n := range names {
		if !s.hasSymptom(n) {
			s.Symptoms = append(s.Symptoms, n)
		}
	}
}

// advance moves the session to phase to. Backward moves are ignored.
func (s *Session) advance(to Phase) bool {
	if to <= s.Phase {
		return false
	}
	s.Phase = to
	if to == PhaseCompleted {
		s.CurrentSymptom = ""
	}
	return true
}

// startFollowUp makes symptom the one under interview.
func (s *Session) startFollowUp(symptom string) {
	s.CurrentSymptom = symptom
	s.CurrentQuestionIndex = 0
}

func (s *Session) recordResponse(text string) {
	if s.CurrentSymptom == "" || !s.hasSymptom(s.CurrentSymptom) {
		return
	}
	if s.Responses == nil {
		s.Responses = make(map[string][]string)
	}
	s.Responses[s.CurrentSymptom] = append(s.Responses[s.CurrentSymptom], strings.TrimSpace(text))
	s.CurrentQuestionIndex++
}

func (s *Session) appendHistory(role Role, content string, at time.Time) {
	s.History = append(s.History, Message{Role: role, Content: content, Timestamp: at})
}

// ResponseCount is the total number of recorded follow-up answers.
func (s *Session) ResponseCount() int {
	n := 0
	for _, answers := range s.Responses {
		n += len(answers)
	}
	return n
}

// Snapshot is an immutable copy of a session, handed to delegates and
// persistence so they cannot mutate live state.
type Snapshot struct {
	ID                   string              `json:"session_id"`
	Name                 string              `json:"name,omitempty"`
	Email                string              `json:"email,omitempty"`
	Age                  int                 `json:"age,omitempty"`
	Gender               string              `json:"gender,omitempty"`
	Symptoms             []string            `json:"symptoms"`
	Responses            map[string][]string `json:"responses"`
	Phase                Phase               `json:"status"`
	CurrentSymptom       string              `json:"current_symptom,omitempty"`
	CurrentQuestionIndex int                 `json:"current_question_index"`
	History              []Message           `json:"conversation_history,omitempty"`
	Notified             bool                `json:"notified"`
	CreatedAt            time.Time           `json:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at"`
	CompletedAt          *time.Time          `json:"completed_at,omitempty"`
}

// Info returns the snapshot demographics.
func (s Snapshot) Info() PatientInfo {
	return PatientInfo{Name: s.Name, Email: s.Email, Age: s.Age, Gender: s.Gender}
}

// ResponseCount is the total number of recorded follow-up answers.
func (s Snapshot) ResponseCount() int {
	n := 0
	for _, answers := range s.Responses {
		n += len(answers)
	}
	return n
}

// Snapshot deep-copies the session.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		ID:                   s.ID,
		Name:                 s.Name,
		Email:                s.Email,
		Age:                  s.Age,
		Gender:               s.Gender,
		Symptoms:             append([]string{}, s.Symptoms...),
		Responses:            copyResponses(s.Responses),
		Phase:                s.Phase,
		CurrentSymptom:       s.CurrentSymptom,
		CurrentQuestionIndex: s.CurrentQuestionIndex,
		History:              append([]Message(nil), s.History...),
		Notified:             s.Notified,
		CreatedAt:            s.CreatedAt,
		UpdatedAt:            s.UpdatedAt,
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		snap.CompletedAt = &t
	}
	return snap
}

// RestoreSession rebuilds a live session from a snapshot.
func RestoreSession(snap Snapshot) *Session {
	s := &Session{
		ID:                   snap.ID,
		Name:                 snap.Name,
		Email:                snap.Email,
		Age:                  snap.Age,
		Gender:               snap.Gender,
		Symptoms:             append([]string{}, snap.Symptoms...),
		Responses:            copyResponses(snap.Responses),
		Phase:                snap.Phase,
		CurrentSymptom:       snap.CurrentSymptom,
		CurrentQuestionIndex: snap.CurrentQuestionIndex,
		History:              append([]Message(nil), snap.History...),
		Notified:             snap.Notified,
		CreatedAt:            snap.CreatedAt,
		UpdatedAt:            snap.UpdatedAt,
	}
	if snap.CompletedAt != nil {
		t := *snap.CompletedAt
		s.CompletedAt = &t
	}
	return s
}

func copyResponses(in map[string][]string) map[string][]string {
	out := make(map[string][]string, len(in))
	for k, v := range in {
		out[k] = append([]string(nil), v...)
	}
	return out
}
