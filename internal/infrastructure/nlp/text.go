package nlp

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

var (
	blankRun    = regexp.MustCompile(`\n{3,}`)
	kvLine      = regexp.MustCompile(`^\s*([A-Za-z][A-Za-z0-9 ./#&()'-]{0,39}?)\s*[:=]\s*(\S.{0,199})$`)
	sentenceEnd = regexp.MustCompile(`[.!?](\s|$)`)
)

const maxKeyValuePairs = 50

// Normalize applies NFKC, drops control characters other than newline and
// tab, collapses horizontal whitespace and squeezes blank lines.
func Normalize(text string) string {
	text = norm.NFKC.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case unicode.IsSpace(r):
			return ' '
		case unicode.IsControl(r), r == '\u200b', r == '\ufeff':
			return -1
		default:
			return r
		}
	}, text)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	text = strings.Join(lines, "\n")
	return strings.TrimSpace(blankRun.ReplaceAllString(text, "\n\n"))
}

// Words splits text into word tokens: runs of letters, digits and inner
// apostrophes or hyphens.
func Words(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\'' && r != '-'
	})
}

func WordCount(text string) int {
	n := 0
	for _, w := range Words(text) {
		if strings.Trim(w, "'-") != "" {
			n++
		}
	}
	return n
}

var languageMarkers = map[string][]string{
	"en": {"the", "and", "of", "to", "is", "for", "with", "this", "that", "are"},
	"de": {"der", "die", "und", "das", "ist", "nicht", "mit", "von", "für", "auf"},
	"fr": {"le", "la", "les", "et", "est", "des", "pour", "une", "dans", "avec"},
	"es": {"el", "los", "las", "y", "es", "para", "una", "por", "con", "del"},
	"it": {"il", "di", "che", "è", "per", "una", "con", "della", "sono", "gli"},
	"pt": {"o", "os", "as", "e", "é", "para", "uma", "com", "não", "dos"},
	"nl": {"de", "het", "een", "en", "van", "is", "niet", "met", "voor", "zijn"},
}

// Language guesses an ISO 639-1 code from function-word frequency. Scripts
// without markers are mapped by their dominant Unicode script. Returns
// "und" when nothing can be decided.
func Language(text string) string {
	words := Words(strings.ToLower(text))
	if len(words) == 0 {
		return "und"
	}
	if lang := scriptLanguage(text); lang != "" {
		return lang
	}
	counts := map[string]int{}
	index := map[string][]string{}
	for lang, markers := range languageMarkers {
		for _, m := range markers {
			index[m] = append(index[m], lang)
		}
	}
	for _, w := range words {
		for _, lang := range index[w] {
			counts[lang]++
		}
	}
	best, bestCount := "und", 0
	langs := make([]string, 0, len(counts))
	for lang := range counts {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	for _, lang := range langs {
		if counts[lang] > bestCount {
			best, bestCount = lang, counts[lang]
		}
	}
	if bestCount < 2 && len(words) > 20 {
		return "und"
	}
	if bestCount == 0 {
		return "und"
	}
	return best
}

func scriptLanguage(text string) string {
	var cyrillic, han, arabic, letters int
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		switch {
		case unicode.Is(unicode.Cyrillic, r):
			cyrillic++
		case unicode.Is(unicode.Han, r):
			han++
		case unicode.Is(unicode.Arabic, r):
			arabic++
		}
	}
	if letters == 0 {
		return ""
	}
	switch {
	case cyrillic*2 > letters:
		return "ru"
	case han*2 > letters:
		return "zh"
	case arabic*2 > letters:
		return "ar"
	}
	return ""
}

// KeyValueLines collects "Key: Value" lines. The first occurrence of a key
// wins.
func KeyValueLines(text string) map[string]string {
	out := map[string]string{}
	for _, line := range strings.Split(text, "\n") {
		if len(out) >= maxKeyValuePairs {
			break
		}
		m := kvLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		key := strings.TrimSpace(m[1])
		value := strings.TrimSpace(m[2])
		if len(strings.Fields(key)) > 5 || strings.HasPrefix(value, "//") {
			continue
		}
		if _, ok := out[key]; !ok {
			out[key] = value
		}
	}
	return out
}

// Summary returns the leading sentences of text, capped at maxChars.
func Summary(text string, maxChars int) string {
	flat := strings.Join(strings.Fields(text), " ")
	if len(flat) <= maxChars {
		return flat
	}
	end := maxChars
	for end > 0 && !utf8.RuneStart(flat[end]) {
		end--
	}
	cut := flat[:end]
	locs := sentenceEnd.FindAllStringIndex(cut, -1)
	if len(locs) > 0 {
		return strings.TrimSpace(cut[:locs[len(locs)-1][0]+1])
	}
	if idx := strings.LastIndexByte(cut, ' '); idx > 0 {
		cut = cut[:idx]
	}
	return strings.TrimSpace(cut) + "…"
}
