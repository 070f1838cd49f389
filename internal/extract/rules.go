// Package extract turns free-form notice text into normalized posting fields.
//
// Every heuristic here is an ordered list of rules evaluated first-match-wins,
// so priority is data rather than control flow. Extraction never fails: a miss
// yields the field's default.
package extract

import (
	"regexp"
	"strings"
)

// Rule yields a result when Match accepts the input.
type Rule[T any] struct {
	Name  string
	Match func(text string) (T, bool)
}

// Rules is an ordered rule list.
type Rules[T any] []Rule[T]

// First evaluates rules in order against each text in order and returns the
// first result. def is returned when nothing matches.
func (rs Rules[T]) First(def T, texts ...string) T {
	v, _, ok := rs.Eval(texts...)
	if !ok {
		return def
	}
	return v
}

// Eval is First that also reports which rule matched.
// Texts are the outer loop: every rule is tried on texts[0] before texts[1].
func (rs Rules[T]) Eval(texts ...string) (T, string, bool) {
	var zero T
	for _, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		for _, r := range rs {
			if r.Match == nil {
				continue
			}
			if v, ok := r.Match(text); ok {
				return v, r.Name, true
			}
		}
	}
	return zero, "", false
}

// KeywordRule matches when text contains any keyword starting at a word
// boundary, case-insensitively, and yields result. Suffixes are allowed so
// "Railway" also matches "Railways".
func KeywordRule(result string, keywords ...string) Rule[string] {
	re := keywordRegexp(keywords)
	return Rule[string]{
		Name: result,
		Match: func(text string) (string, bool) {
			if re == nil || !re.MatchString(text) {
				return "", false
			}
			return result, true
		},
	}
}

// RegexpRule yields the first capture group (or the whole match) of re.
func RegexpRule(name string, re *regexp.Regexp) Rule[string] {
	return Rule[string]{
		Name: name,
		Match: func(text string) (string, bool) {
			m := re.FindStringSubmatch(text)
			if m == nil {
				return "", false
			}
			if len(m) > 1 {
				return strings.TrimSpace(m[1]), true
			}
			return strings.TrimSpace(m[0]), true
		},
	}
}

func keywordRegexp(keywords []string) *regexp.Regexp {
	parts := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		parts = append(parts, regexp.QuoteMeta(kw))
	}
	if len(parts) == 0 {
		return nil
	}
	// \b only works next to word characters, so anchor on a non-word
	// predecessor instead. SAIL must not match inside ASSAILANT.
	return regexp.MustCompile(`(?i)(?:^|[^\pL\pN])(?:` + strings.Join(parts, "|") + `)`)
}
