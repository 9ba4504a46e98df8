package geo

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// UsStateCodes maps US state abbreviations to full names. Used both to
// validate extracted state tokens and to fold full state names that some
// providers append to place names.
var UsStateCodes = map[string]string{
	"AL": "Alabama", "AK": "Alaska", "AZ": "Arizona", "AR": "Arkansas",
	"CA": "California", "CO": "Colorado", "CT": "Connecticut", "DE": "Delaware",
	"FL": "Florida", "GA": "Georgia", "HI": "Hawaii", "ID": "Idaho",
	"IL": "Illinois", "IN": "Indiana", "IA": "Iowa", "KS": "Kansas",
	"KY": "Kentucky", "LA": "Louisiana", "ME": "Maine", "MD": "Maryland",
	"MA": "Massachusetts", "MI": "Michigan", "MN": "Minnesota", "MS": "Mississippi",
	"MO": "Missouri", "MT": "Montana", "NE": "Nebraska", "NV": "Nevada",
	"NH": "New Hampshire", "NJ": "New Jersey", "NM": "New Mexico", "NY": "New York",
	"NC": "North Carolina", "ND": "North Dakota", "OH": "Ohio", "OK": "Oklahoma",
	"OR": "Oregon", "PA": "Pennsylvania", "RI": "Rhode Island", "SC": "South Carolina",
	"SD": "South Dakota", "TN": "Tennessee", "TX": "Texas", "UT": "Utah",
	"VT": "Vermont", "VA": "Virginia", "WA": "Washington", "WV": "West Virginia",
	"WI": "Wisconsin", "WY": "Wyoming",
	"DC": "District of Columbia", "PR": "Puerto Rico", "VI": "Virgin Islands",
	"GU": "Guam",
}

var stateNameToCode = func() map[string]string {
	m := make(map[string]string, len(UsStateCodes))
	for code, name := range UsStateCodes {
		m[strings.ToLower(name)] = code
	}
	return m
}()

// typeSuffixes are provider-specific decorations stripped during
// normalization, longest first so "metropolitan statistical area" wins over
// "area".
var typeSuffixes = []string{
	"metropolitan statistical area",
	"micropolitan statistical area",
	"metro area",
	"micro area",
	"metropolitan area",
	"msa",
	"county",
	"parish",
	"borough",
	"census area",
	"city",
	"town",
	"village",
	"cdp",
}

// abbreviations standardizes common leading tokens so "St. Louis" and
// "Saint Louis" normalize identically.
var abbreviations = map[string]string{
	"st":  "saint",
	"st.": "saint",
	"ste": "sainte",
	"mt":  "mount",
	"mt.": "mount",
	"ft":  "fort",
	"ft.": "fort",
}

var accentFolder = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeName lowercases, folds accents, strips provider suffixes and
// punctuation, and standardizes abbreviations. It also extracts a trailing
// state token from patterns like "Austin, TX" or "Austin, Texas", returning
// the two-letter code separately; the empty string means no state token was
// present.
func NormalizeName(name string) (normalized, state string) {
	s := strings.TrimSpace(name)
	if folded, _, err := transform.String(accentFolder, s); err == nil {
		s = folded
	}
	s = strings.ToLower(s)

	// Trailing state: "city, xx" or "city, full name". Multi-state metro
	// names like "chicago, il-in" keep only the first (primary) state.
	if i := strings.LastIndex(s, ","); i >= 0 {
		tail := strings.TrimSpace(s[i+1:])
		if j := strings.IndexAny(tail, "-/"); j >= 0 {
			tail = tail[:j]
		}
		tail = strings.TrimSpace(tail)
		if code := strings.ToUpper(tail); len(tail) == 2 {
			if _, ok := UsStateCodes[code]; ok {
				state = code
				s = s[:i]
			}
		} else if code, ok := stateNameToCode[tail]; ok {
			state = code
			s = s[:i]
		}
	}

	for _, suffix := range typeSuffixes {
		if strings.HasSuffix(s, " "+suffix) {
			s = strings.TrimSuffix(s, " "+suffix)
			break
		}
	}

	words := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.'
	})
	for i, w := range words {
		if repl, ok := abbreviations[w]; ok {
			words[i] = repl
		} else {
			words[i] = strings.TrimSuffix(w, ".")
		}
	}

	return strings.Join(words, " "), state
}

// TrigramSimilarity scores two already-normalized strings in [0,1] the way
// pg_trgm does: shared trigrams over the union, with two-space padding so
// short strings still produce a meaningful set.
func TrigramSimilarity(a, b string) float64 {
	if a == b {
		return 1
	}
	ta := trigrams(a)
	tb := trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	shared := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			shared++
		}
	}
	union := len(ta) + len(tb) - shared
	return float64(shared) / float64(union)
}

func trigrams(s string) map[string]struct{} {
	set := map[string]struct{}{}
	for _, word := range strings.Fields(s) {
		padded := "  " + word + " "
		runes := []rune(padded)
		for i := 0; i+3 <= len(runes); i++ {
			set[string(runes[i:i+3])] = struct{}{}
		}
	}
	return set
}
