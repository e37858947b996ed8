package rules

import "strings"

// Detect returns every symptom whose keywords occur as a substring of
// message, in catalog order. It does no tokenizing or stemming, so
// incidental keyword matches are reported too.
func (c *Catalog) Detect(message string) []string {
	text := strings.ToLower(message)
	var matched []string
	for _, r := range c.rules {
		for _, kw := range r.Keywords {
			if strings.Contains(text, kw) {
				matched = append(matched, r.Symptom)
				break
			}
		}
	}
	return matched
}
