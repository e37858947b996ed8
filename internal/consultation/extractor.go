package consultation

import (
	"context"
	"regexp"
	"strconv"
	"strings"
)

// Extractor pulls demographics out of free text. Implementations may return
// values for fields already in known; the service ignores those.
type Extractor interface {
	Extract(ctx context.Context, message string, known PatientInfo) (PatientInfo, error)
}

var (
	emailRE  = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	ageRE    = regexp.MustCompile(`(?i)\b(\d{1,3})\s*(?:years?|yrs?|y/?o)\b(?:\s*old)?`)
	ageLedRE = regexp.MustCompile(`(?i)\b(?:age|aged|i'?m|i am)\s*:?\s*(\d{1,3})\b`)
	maleRE   = regexp.MustCompile(`(?i)\b(male|man|boy|gentleman)\b`)
	femaleRE = regexp.MustCompile(`(?i)\b(female|woman|girl|lady)\b`)

	// Lead phrases are case-insensitive. After an explicit lead the name may
	// be typed in lower case; the looser leads only take capitalized words,
	// since "I'm doing well" is not a name.
	nameTitle  = `(?i:(?:dr|mr|mrs|ms|miss|prof)\.?\s+)?`
	looseName  = nameTitle + `([A-Za-z][A-Za-z'\-]+(?:\s+[A-Za-z][A-Za-z'\-]+)?)`
	strictName = nameTitle + `([A-Z][A-Za-z'\-]+(?:\s+[A-Z][A-Za-z'\-]+)?)`

	namePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i:\bmy name is)\s+` + looseName),
		regexp.MustCompile(`(?i:\bname'?s)\s+` + looseName),
		regexp.MustCompile(`(?i:\bcall me)\s+` + looseName),
		regexp.MustCompile(`(?i:\bthis is)\s+` + strictName),
		regexp.MustCompile(`(?i:\bi'?m)\s+` + strictName),
		regexp.MustCompile(`(?i:\bi am)\s+` + strictName),
	}
)

// notNames are words that commonly follow a name lead without being a name.
var notNames = map[string]bool{
	"a": true, "an": true, "the": true, "not": true, "so": true, "very": true,
	"fine": true, "good": true, "ok": true, "okay": true, "well": true, "here": true,
	"feeling": true, "having": true, "getting": true, "experiencing": true, "suffering": true,
	"sick": true, "ill": true, "tired": true, "worried": true, "scared": true, "afraid": true,
	"male": true, "female": true, "man": true, "woman": true, "years": true, "old": true,
	"just": true, "also": true, "still": true, "really": true, "currently": true, "in": true,
	"at": true, "on": true, "from": true, "with": true, "looking": true, "calling": true,
	"writing": true, "new": true, "sure": true, "sorry": true, "yes": true, "no": true,
	"hi": true, "hello": true, "dizzy": true, "short": true, "breathless": true,
	"and": true, "but": true, "age": true, "aged": true, "my": true, "your": true,
	"our": true, "their": true, "his": true, "her": true, "this": true, "that": true,
	"doing": true, "going": true, "trying": true, "first": true, "visiting": true,
	"please": true, "thanks": true, "dr": true, "mr": true, "mrs": true, "ms": true,
	"miss": true, "prof": true,
}

// PatternExtractor is the deterministic extractor used when no language
// model is configured or the model call fails.
type PatternExtractor struct{}

func (PatternExtractor) Extract(_ context.Context, message string, known PatientInfo) (PatientInfo, error) {
	var out PatientInfo
	if known.Email == "" {
		out.Email = emailRE.FindString(message)
	}
	// Strip addresses so "jane@x.com" does not feed the other patterns.
	text := emailRE.ReplaceAllString(message, " ")

	if known.Age == 0 {
		out.Age = extractAge(text)
	}
	if known.Gender == "" {
		out.Gender = extractGender(text)
	}
	if known.Name == "" {
		out.Name = extractName(text)
	}
	return out, nil
}

func extractAge(text string) int {
	for _, re := range []*regexp.Regexp{ageRE, ageLedRE} {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 && n < 130 {
			return n
		}
	}
	return 0
}

func extractGender(text string) string {
	// "female" contains "male"; check it first.
	if femaleRE.MatchString(text) {
		return "Female"
	}
	if maleRE.MatchString(text) {
		return "Male"
	}
	return ""
}

func extractName(text string) string {
	for _, re := range namePatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if name := cleanName(m[1]); name != "" {
				return name
			}
		}
	}
	return ""
}

func cleanName(raw string) string {
	words := strings.Fields(raw)
	var kept []string
	for _, w := range words {
		w = strings.Trim(w, "'-")
		if w == "" || notNames[strings.ToLower(w)] {
			break
		}
		kept = append(kept, capitalize(w))
	}
	if len(kept) == 0 {
		return ""
	}
	return strings.Join(kept, " ")
}

func capitalize(w string) string {
	return strings.ToUpper(w[:1]) + w[1:]
}
