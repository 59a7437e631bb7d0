package catalog

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/ATKH/Radio-Beguin-Beta/must"
)

var (
	tagTokenRe      = regexp.MustCompile(`"([^"]+)"|(\S+)`)
	quoteRe         = regexp.MustCompile("[\"'`]")
	separatorRe     = regexp.MustCompile(`[\s_/]+`)
	ampersandRe     = regexp.MustCompile(`\s*&\s*`)
	commaSpacingRe  = regexp.MustCompile(`\s+,\s*`)
	trailingCommaRe = regexp.MustCompile(`\s+,`)
	nonAlnumRe      = regexp.MustCompile(`[^a-z0-9]+`)
)

// ParseTagList tokenizes SoundCloud's freeform tag_list field, where a token
// is either a double-quoted phrase or a whitespace-delimited word. A limit
// below 1 means no limit.
func ParseTagList(raw string, limit int) []string {
	if raw == "" {
		return nil
	}

	var tags []string
	for _, match := range tagTokenRe.FindAllStringSubmatch(raw, -1) {
		tag := match[1]
		if tag == "" {
			tag = match[2]
		}
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
		if limit > 0 && len(tags) >= limit {
			break
		}
	}

	return tags
}

// CanonicalKey folds a tag to its comparison form: diacritics stripped,
// lowercased, every non-alphanumeric run collapsed to a single space.
func CanonicalKey(value string) string {
	var b strings.Builder
	for _, r := range norm.NFD.String(value) {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(r)
	}

	lowered := strings.ToLower(b.String())

	return strings.TrimSpace(nonAlnumRe.ReplaceAllString(lowered, " "))
}

// FormatDisplayTag cleans a raw tag into display form: quotes stripped,
// separators collapsed, words over three characters title-cased and shorter
// ones uppercased. Returns "" when nothing presentable remains.
func FormatDisplayTag(raw string) string {
	cleaned := quoteRe.ReplaceAllString(raw, "")
	cleaned = separatorRe.ReplaceAllString(cleaned, " ")
	cleaned = ampersandRe.ReplaceAllString(cleaned, " & ")
	cleaned = commaSpacingRe.ReplaceAllString(cleaned, ", ")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return ""
	}

	words := strings.Fields(cleaned)
	for i, word := range words {
		lower := strings.ToLower(word)
		if utf8.RuneCountInString(lower) <= 3 {
			words[i] = strings.ToUpper(lower)
			continue
		}

		r, size := utf8.DecodeRuneInString(lower)
		words[i] = string(unicode.ToUpper(r)) + lower[size:]
	}

	out := strings.Join(words, " ")
	out = trailingCommaRe.ReplaceAllString(out, ",")

	return strings.TrimSpace(out)
}

// Normalizer maps raw tags to canonical display tags through a synonym table
// and drops house-keeping noise terms. Both tables are injected data so the
// vocabulary can evolve without touching logic.
type Normalizer struct {
	Synonyms   map[string]string
	Exclusions map[string]struct{}
}

func NewNormalizer(synonyms map[string]string, exclusions []string) *Normalizer {
	for key := range synonyms {
		must.Be(CanonicalKey(key) == key, "synonym key must be canonical: "+key)
	}

	excluded := make(map[string]struct{}, len(exclusions))
	for _, term := range exclusions {
		must.Be(CanonicalKey(term) == term, "exclusion term must be canonical: "+term)
		excluded[term] = struct{}{}
	}

	return &Normalizer{Synonyms: synonyms, Exclusions: excluded}
}

// Display formats raw and applies synonym and exclusion tables. The second
// return is false when the tag should be dropped.
func (n *Normalizer) Display(raw string) (string, bool) {
	formatted := FormatDisplayTag(raw)
	if formatted == "" {
		return "", false
	}

	key := CanonicalKey(formatted)
	if _, excluded := n.Exclusions[key]; excluded {
		return "", false
	}

	value := formatted
	if synonym, ok := n.Synonyms[key]; ok {
		value = synonym
	}

	if _, excluded := n.Exclusions[CanonicalKey(value)]; excluded {
		return "", false
	}

	return value, true
}

// DefaultNormalizer carries the station's curated vocabulary: variants the
// hosts have used over the years mapped to one display form, plus tags that
// describe scheduling rather than music.
func DefaultNormalizer() *Normalizer {
	return NewNormalizer(
		map[string]string{
			"latin":               "Latin Music",
			"latin music":         "Latin Music",
			"musique latine":      "Latin Music",
			"musica latina":       "Latin Music",
			"brazil":              "Brazil",
			"brasil":              "Brazil",
			"bresil":              "Brazil",
			"brasilia":            "Brazil",
			"musique bresilienne": "Brazil",
			"field recording":     "Field Recording",
			"field recordings":    "Field Recording",
			"fields recording":    "Field Recording",
			"fields recordings":   "Field Recording",
			"letfield techno":     "Leftfield Techno",
			"letfield":            "Leftfield",
			"leftfield":           "Leftfield",
			"leftfield tehcno":    "Leftfield Techno",
			"gqom":                "Gqom",
			"drum n bass":         "Drum & Bass",
			"drumnbass":           "Drum & Bass",
			"hyper pop":           "Hyperpop",
			"hyperpop":            "Hyperpop",
			"synth pop":           "Synth Pop",
			"synthpop":            "Synth Pop",
			"dub":                 "Dub",
		},
		[]string{
			"radio beguin",
			"radio",
			"beguin",
			"terrasse",
			"terrasses",
			"reveil",
			"playlist",
			"live",
		},
	)
}
