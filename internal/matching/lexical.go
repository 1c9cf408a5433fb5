package matching

import (
	"context"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/spigell/autoapply/internal/profile"
)

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "your": true, "you": true, "of": true,
	"please": true, "enter": true, "provide": true, "what": true, "is": true,
	"are": true, "do": true, "my": true, "in": true, "for": true,
}

// normalize folds case and diacritics and collapses punctuation to spaces.
func normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	out = cases.Fold().String(out)

	var b strings.Builder
	for _, r := range out {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func tokens(s string) []string {
	var out []string
	for _, tok := range strings.Fields(normalize(s)) {
		if stopwords[tok] {
			continue
		}
		if len(tok) > 3 {
			tok = strings.TrimSuffix(tok, "s")
		}
		out = append(out, tok)
	}
	return out
}

// similarity scores a label against one phrase in [0,1].
func similarity(label, phrase string) float64 {
	lt, pt := tokens(label), tokens(phrase)
	if len(lt) == 0 || len(pt) == 0 {
		return 0
	}
	if strings.Join(lt, " ") == strings.Join(pt, " ") {
		return 1
	}
	if containsRun(lt, pt) {
		return 0.7 + 0.3*float64(len(pt))/float64(len(lt))
	}

	set := make(map[string]bool, len(lt))
	for _, t := range lt {
		set[t] = true
	}
	union := len(set)
	inter := 0
	seen := make(map[string]bool, len(pt))
	for _, t := range pt {
		if seen[t] {
			continue
		}
		seen[t] = true
		if set[t] {
			inter++
		} else {
			union++
		}
	}
	return 0.8 * float64(inter) / float64(union)
}

// containsRun reports whether needle appears as a contiguous run in hay.
func containsRun(hay, needle []string) bool {
	if len(needle) > len(hay) {
		return false
	}
outer:
	for i := 0; i+len(needle) <= len(hay); i++ {
		for j := range needle {
			if hay[i+j] != needle[j] {
				continue outer
			}
		}
		return true
	}
	return false
}

// phrases returns the canonical name and synonyms for a display name such as
// "email" or "work_experience.title".
func phrases(display string) []string {
	parent, sub, nested := strings.Cut(display, ".")
	attr, ok := profile.Lookup(parent)
	if !ok {
		return []string{strings.ReplaceAll(display, "_", " ")}
	}
	if !nested {
		return append([]string{strings.ReplaceAll(attr.Name, "_", " ")}, attr.Synonyms...)
	}

	field, ok := attr.Field(sub)
	if !ok {
		return []string{strings.ReplaceAll(sub, "_", " ")}
	}
	out := append([]string{strings.ReplaceAll(field.Name, "_", " ")}, field.Synonyms...)
	if len(attr.Synonyms) > 0 && len(field.Synonyms) > 0 {
		out = append(out, attr.Synonyms[0]+" "+field.Synonyms[0])
	}
	return out
}

func lexicalScore(label, display string) float64 {
	best := 0.0
	for _, p := range phrases(display) {
		if s := similarity(label, p); s > best {
			best = s
		}
	}
	return best
}

// typeHints boosts attributes implied by the HTML input type.
var typeHints = map[string]map[string]float64{
	"email": {profile.AttrEmail: 0.3},
	"tel":   {profile.AttrPhone: 0.3},
	"url":   {profile.AttrLinkedInURL: 0.1, profile.AttrWebsite: 0.1},
}

func typeBoost(inputType, display string) float64 {
	return typeHints[inputType][display]
}

// LexicalScorer is an offline Scorer built on label and synonym similarity.
type LexicalScorer struct{}

// Score implements Scorer.
func (LexicalScorer) Score(_ context.Context, label string, names []string) (map[string]float64, error) {
	out := make(map[string]float64, len(names))
	for _, name := range names {
		out[name] = lexicalScore(label, name)
	}
	return out, nil
}
