// Package rules holds the static symptom rule set: follow-up questions per
// symptom and the keywords used to detect a symptom in free text.
package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// MaxQuestions caps the follow-up questions kept per symptom.
const MaxQuestions = 4

// Per-category quotas, applied in this order.
const (
	detailsQuota  = 2
	vitalsQuota   = 1
	redFlagsQuota = 1
)

// ErrEmptyCatalog is returned when a dataset yields no usable rules.
var ErrEmptyCatalog = errors.New("rules: dataset contains no usable symptoms")

// Record is one entry of the medical dataset.
type Record struct {
	Symptom           string              `json:"symptom"`
	FollowUpQuestions map[string][]string `json:"follow_up_questions"`
}

// Rule is the immutable catalog entry for one symptom.
type Rule struct {
	Symptom   string
	Keywords  []string
	Questions []string
}

// Catalog maps symptom names to rules. It is never mutated after
// construction, so concurrent reads need no locking.
type Catalog struct {
	rules []Rule
	index map[string]int
}

// synonyms are matched against the symptom name, first hit wins.
var synonyms = []struct {
	phrase   string
	keywords []string
}{
	{"chest pain", []string{"chest pain", "chest hurt", "chest discomfort", "heart pain"}},
	{"shortness of breath", []string{"short of breath", "difficulty breathing", "breathless", "dyspnea"}},
	{"palpitation", []string{"heart racing", "irregular heartbeat", "palpitation", "heart flutter"}},
	{"fatigue", []string{"tired", "exhausted", "weakness", "fatigue"}},
	{"dizziness", []string{"dizzy", "lightheaded", "faint", "vertigo"}},
}

// Load decodes a JSON dataset into a catalog.
func Load(r io.Reader) (*Catalog, error) {
	var records []Record
	if err := json.NewDecoder(r).Decode(&records); err != nil {
		return nil, fmt.Errorf("rules: decode dataset: %w", err)
	}
	return FromRecords(records)
}

// FromRecords builds a catalog from already decoded records.
func FromRecords(records []Record) (*Catalog, error) {
	c := &Catalog{index: make(map[string]int, len(records))}
	for _, rec := range records {
		name := normalize(rec.Symptom)
		if name == "" {
			continue
		}
		if _, dup := c.index[name]; dup {
			continue
		}
		questions := buildQuestions(rec.FollowUpQuestions)
		if len(questions) == 0 {
			continue
		}
		c.index[name] = len(c.rules)
		c.rules = append(c.rules, Rule{
			Symptom:   name,
			Keywords:  buildKeywords(name),
			Questions: questions,
		})
	}
	if len(c.rules) == 0 {
		return nil, ErrEmptyCatalog
	}
	return c, nil
}

// LoadFile loads the dataset at path. Any failure is logged and the
// built-in fallback catalog is returned instead.
func LoadFile(path string, logger *slog.Logger) *Catalog {
	c, err := loadFile(path)
	if err != nil {
		logger.Warn("medical dataset unavailable, using fallback rules", "path", path, "error", err)
		return Fallback()
	}
	logger.Info("medical dataset loaded", "path", path, "symptoms", c.Len())
	return c
}

func loadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f)
}

// Fallback returns the minimal two-symptom catalog.
func Fallback() *Catalog {
	c, err := FromRecords([]Record{
		{
			Symptom: "chest pain / discomfort",
			FollowUpQuestions: map[string][]string{
				"symptom_details": {
					"When did the chest pain start?",
					"Can you describe the pain (pressure, squeezing, sharp, burning)?",
				},
				"vital_signs": {"What is your current blood pressure and heart rate?"},
				"red_flags":   {"Is the chest pain sudden and severe?"},
			},
		},
		{
			Symptom: "shortness of breath (dyspnea)",
			FollowUpQuestions: map[string][]string{
				"symptom_details": {
					"Is the breathlessness at rest or with exertion?",
					"Do you have difficulty breathing when lying flat?",
				},
				"vital_signs": {"What is your resting oxygen saturation?"},
				"red_flags":   {"Is the shortness of breath sudden in onset?"},
			},
		},
	})
	if err != nil {
		panic(err)
	}
	return c
}

// Lookup finds a rule by symptom name, ignoring case and surrounding space.
func (c *Catalog) Lookup(symptom string) (Rule, bool) {
	i, ok := c.index[normalize(symptom)]
	if !ok {
		return Rule{}, false
	}
	return c.rules[i], true
}

// Rules returns the rules in dataset order.
func (c *Catalog) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	copy(out, c.rules)
	return out
}

func (c *Catalog) Len() int { return len(c.rules) }

func buildQuestions(categories map[string][]string) []string {
	var questions []string
	questions = append(questions, head(categories["symptom_details"], detailsQuota)...)
	questions = append(questions, head(categories["vital_signs"], vitalsQuota)...)
	questions = append(questions, head(categories["red_flags"], redFlagsQuota)...)
	if len(questions) > MaxQuestions {
		questions = questions[:MaxQuestions]
	}
	return questions
}

func buildKeywords(name string) []string {
	keywords := []string{name}
	for _, s := range synonyms {
		if strings.Contains(name, s.phrase) {
			keywords = append(keywords, s.keywords...)
			break
		}
	}
	return dedupe(keywords)
}

func head(list []string, n int) []string {
	if len(list) > n {
		list = list[:n]
	}
	out := make([]string, 0, len(list))
	for _, q := range list {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
