package consultation

import "fmt"

// Policy is the set of thresholds driving phase transitions and completion.
type Policy struct {
	// RequiredFields must all be known before leaving basic_info. The same
	// set is the "essential info" of the completion predicate.
	RequiredFields []Field
	// MaxFollowUps bounds the follow-up answers collected per symptom,
	// independent of how many questions the catalog holds.
	MaxFollowUps int
	// MinResponses is the answer count that completes an interview when no
	// age or gender is known.
	MinResponses int
}

// DefaultPolicy requires name and email and asks at most two follow-ups.
func DefaultPolicy() Policy {
	return Policy{
		RequiredFields: []Field{FieldName, FieldEmail},
		MaxFollowUps:   2,
		MinResponses:   2,
	}
}

// NewPolicy builds a policy from configuration values.
func NewPolicy(fields []string, maxFollowUps, minResponses int) (Policy, error) {
	p := Policy{MaxFollowUps: maxFollowUps, MinResponses: minResponses}
	for _, f := range fields {
		switch Field(f) {
		case FieldName, FieldEmail, FieldAge, FieldGender:
			p.RequiredFields = append(p.RequiredFields, Field(f))
		default:
			return Policy{}, fmt.Errorf("unknown intake field %q", f)
		}
	}
	if len(p.RequiredFields) == 0 {
		return Policy{}, fmt.Errorf("at least one required field is needed")
	}
	if p.MaxFollowUps < 1 || p.MinResponses < 1 {
		return Policy{}, fmt.Errorf("follow-up and response thresholds must be positive")
	}
	return p, nil
}

// HasEssentials reports whether every required field is known.
func (p Policy) HasEssentials(info PatientInfo) bool {
	for _, f := range p.RequiredFields {
		if !info.Has(f) {
			return false
		}
	}
	return true
}
