package nlp

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/kirillkom/document-pipeline/internal/core/domain"
)

const (
	EntityEmail  = "EMAIL"
	EntityURL    = "URL"
	EntityPhone  = "PHONE"
	EntityDate   = "DATE"
	EntityMoney  = "MONEY"
	EntityOrg    = "ORG"
	EntityPerson = "PERSON"
)

const maxEntitiesPerType = 100

var (
	emailPattern = regexp.MustCompile(`(?i)\b[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}\b`)
	urlPattern   = regexp.MustCompile(`(?i)\b(?:https?://|www\.)[^\s<>"'()]+[^\s<>"'().,;:!?]`)
	phonePattern = regexp.MustCompile(`(?:\+\d{1,3}[\s.-]?)?(?:\(\d{2,4}\)[\s.-]?|\d{2,4}[\s.-])\d{3,4}[\s.-]?\d{3,4}\b`)

	isoDatePattern     = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	numericDatePattern = regexp.MustCompile(`\b(\d{1,2})([/.])(\d{1,2})[/.](\d{4})\b`)
	monthNames         = `(Jan(?:uary)?|Feb(?:ruary)?|Mar(?:ch)?|Apr(?:il)?|May|Jun(?:e)?|Jul(?:y)?|Aug(?:ust)?|Sep(?:t(?:ember)?)?|Oct(?:ober)?|Nov(?:ember)?|Dec(?:ember)?)`
	monthFirstPattern  = regexp.MustCompile(`\b` + monthNames + `\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})\b`)
	dayFirstPattern    = regexp.MustCompile(`\b(\d{1,2})(?:st|nd|rd|th)?\s+` + monthNames + `\.?,?\s+(\d{4})\b`)

	symbolMoneyPattern  = regexp.MustCompile(`([$€£¥])\s?(\d{1,3}(?:,\d{3})+(?:\.\d{1,2})?|\d+(?:\.\d{1,2})?)(?:\s?(k|K|m|M|million|billion|bn)\b)?`)
	codeMoneyPattern    = regexp.MustCompile(`\b(USD|EUR|GBP|JPY|CHF|CAD|AUD|CNY|INR|RUB|SEK|NOK|DKK|PLN)\s?(\d{1,3}(?:,\d{3})+(?:\.\d{1,2})?|\d+(?:\.\d{1,2})?)\b`)
	trailingCodePattern = regexp.MustCompile(`\b(\d{1,3}(?:,\d{3})+(?:\.\d{1,2})?|\d+(?:\.\d{1,2})?)\s?(USD|EUR|GBP|JPY|CHF|CAD|AUD|CNY|INR|RUB|SEK|NOK|DKK|PLN)\b`)

	orgPattern    = regexp.MustCompile(`\b((?:[A-Z][A-Za-z0-9&'-]+ ){0,4}[A-Z][A-Za-z0-9&'-]*) (Inc|Corp|Corporation|LLC|Ltd|Limited|GmbH|AG|SA|PLC|Company|Co|Group|Holdings|Bank|Partners)\b\.?`)
	personPattern = regexp.MustCompile(`\b(?:Mr|Mrs|Ms|Dr|Prof)\.? ([A-Z][a-z]+(?: [A-Z][a-z]+){0,2})\b`)
	bylinePattern = regexp.MustCompile(`\b(?i:prepared by|signed by|attention|attn|contact|from|author)[ \t]*:?[ \t]+([A-Z][a-z]+ [A-Z][a-z]+)\b`)
)

var currencySymbols = map[string]string{"$": "USD", "€": "EUR", "£": "GBP", "¥": "JPY"}

var moneyPrinter = message.NewPrinter(language.English)

// Findings is everything the entity pass recovered from one text.
type Findings struct {
	Entities       []domain.Entity
	Dates          []string
	MonetaryValues []domain.MonetaryValue
	Emails         []string
	Phones         []string
	URLs           []string
}

// Extract finds contacts, dates, money, organizations and people. Results
// keep first-seen order and are de-duplicated by normalized form.
func Extract(text string) Findings {
	var f Findings
	seen := map[string]struct{}{}
	add := func(kind, raw, normalized string) bool {
		key := kind + "\x00" + normalized
		if _, ok := seen[key]; ok {
			return false
		}
		seen[key] = struct{}{}
		f.Entities = append(f.Entities, domain.Entity{Text: raw, Type: kind, Normalized: normalized})
		return true
	}

	for _, raw := range limit(emailPattern.FindAllString(text, -1)) {
		if add(EntityEmail, raw, strings.ToLower(raw)) {
			f.Emails = append(f.Emails, strings.ToLower(raw))
		}
	}
	for _, raw := range limit(urlPattern.FindAllString(text, -1)) {
		normalized := raw
		if strings.HasPrefix(strings.ToLower(raw), "www.") {
			normalized = "https://" + raw
		}
		if add(EntityURL, raw, normalized) {
			f.URLs = append(f.URLs, normalized)
		}
	}
	for _, raw := range limit(phonePattern.FindAllString(text, -1)) {
		normalized, ok := NormalizePhone(raw)
		if ok && add(EntityPhone, raw, normalized) {
			f.Phones = append(f.Phones, normalized)
		}
	}
	for _, d := range findDates(text) {
		if add(EntityDate, d.raw, d.iso) {
			f.Dates = append(f.Dates, d.iso)
		}
	}
	for _, m := range findMoney(text) {
		if add(EntityMoney, m.raw, m.value.Formatted) {
			f.MonetaryValues = append(f.MonetaryValues, m.value)
		}
	}
	for _, match := range limitMatches(orgPattern.FindAllStringSubmatch(text, -1)) {
		name := strings.TrimSpace(match[0])
		add(EntityOrg, name, strings.TrimSuffix(name, "."))
	}
	for _, match := range limitMatches(personPattern.FindAllStringSubmatch(text, -1)) {
		add(EntityPerson, strings.TrimSpace(match[0]), match[1])
	}
	for _, match := range limitMatches(bylinePattern.FindAllStringSubmatch(text, -1)) {
		add(EntityPerson, match[1], match[1])
	}
	return f
}

// NormalizePhone renders a phone number as +digits. Ten-digit numbers
// without a country code are read as North American; shorter local
// numbers are ignored.
func NormalizePhone(raw string) (string, bool) {
	var digits strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	international := strings.HasPrefix(strings.TrimSpace(raw), "+")
	switch {
	case len(d) < 7 || len(d) > 15:
		return "", false
	case international:
		return "+" + d, true
	case len(d) < 10:
		return "", false
	case len(d) == 10:
		return "+1" + d, true
	case len(d) == 11 && d[0] == '1':
		return "+" + d, true
	default:
		return d, true
	}
}

type foundDate struct {
	raw string
	iso string
	pos int
}

func findDates(text string) []foundDate {
	var out []foundDate
	push := func(raw string, pos int, t time.Time, ok bool) {
		if ok && t.Year() >= 1900 && t.Year() <= 2200 {
			out = append(out, foundDate{raw: raw, iso: t.Format("2006-01-02"), pos: pos})
		}
	}
	for _, loc := range isoDatePattern.FindAllStringSubmatchIndex(text, -1) {
		raw := text[loc[0]:loc[1]]
		t, err := time.Parse("2006-01-02", raw)
		push(raw, loc[0], t, err == nil)
	}
	for _, loc := range numericDatePattern.FindAllStringSubmatchIndex(text, -1) {
		raw := text[loc[0]:loc[1]]
		a, _ := strconv.Atoi(text[loc[2]:loc[3]])
		b, _ := strconv.Atoi(text[loc[6]:loc[7]])
		year, _ := strconv.Atoi(text[loc[8]:loc[9]])
		// Slash dates are month first unless that is impossible; dotted
		// dates are day first.
		month, day := a, b
		if text[loc[4]:loc[5]] == "." || a > 12 {
			month, day = b, a
		}
		t, ok := makeDate(year, month, day)
		push(raw, loc[0], t, ok)
	}
	for _, loc := range monthFirstPattern.FindAllStringSubmatchIndex(text, -1) {
		raw := text[loc[0]:loc[1]]
		day, _ := strconv.Atoi(text[loc[4]:loc[5]])
		year, _ := strconv.Atoi(text[loc[6]:loc[7]])
		t, ok := makeDate(year, monthNumber(text[loc[2]:loc[3]]), day)
		push(raw, loc[0], t, ok)
	}
	for _, loc := range dayFirstPattern.FindAllStringSubmatchIndex(text, -1) {
		raw := text[loc[0]:loc[1]]
		day, _ := strconv.Atoi(text[loc[2]:loc[3]])
		year, _ := strconv.Atoi(text[loc[6]:loc[7]])
		t, ok := makeDate(year, monthNumber(text[loc[4]:loc[5]]), day)
		push(raw, loc[0], t, ok)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].pos < out[j].pos })
	if len(out) > maxEntitiesPerType {
		out = out[:maxEntitiesPerType]
	}
	return out
}

func makeDate(year, month, day int) (time.Time, bool) {
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

func monthNumber(name string) int {
	prefix := strings.ToLower(name)
	if len(prefix) > 3 {
		prefix = prefix[:3]
	}
	for i, m := range []string{"jan", "feb", "mar", "apr", "may", "jun", "jul", "aug", "sep", "oct", "nov", "dec"} {
		if prefix == m {
			return i + 1
		}
	}
	return 0
}

type foundMoney struct {
	raw   string
	value domain.MonetaryValue
	pos   int
}

func findMoney(text string) []foundMoney {
	var out []foundMoney
	push := func(raw string, pos int, code, amount, scale string) {
		value, ok := Money(code, amount, scale)
		if ok {
			out = append(out, foundMoney{raw: strings.TrimSpace(raw), value: value, pos: pos})
		}
	}
	for _, loc := range symbolMoneyPattern.FindAllStringSubmatchIndex(text, -1) {
		scale := ""
		if loc[6] >= 0 {
			scale = text[loc[6]:loc[7]]
		}
		push(text[loc[0]:loc[1]], loc[0], currencySymbols[text[loc[2]:loc[3]]], text[loc[4]:loc[5]], scale)
	}
	for _, loc := range codeMoneyPattern.FindAllStringSubmatchIndex(text, -1) {
		push(text[loc[0]:loc[1]], loc[0], text[loc[2]:loc[3]], text[loc[4]:loc[5]], "")
	}
	for _, loc := range trailingCodePattern.FindAllStringSubmatchIndex(text, -1) {
		push(text[loc[0]:loc[1]], loc[0], text[loc[4]:loc[5]], text[loc[2]:loc[3]], "")
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].pos < out[j].pos })
	if len(out) > maxEntitiesPerType {
		out = out[:maxEntitiesPerType]
	}
	return out
}

// Money parses an amount in the given ISO currency. scale accepts k, m,
// million, billion and bn multipliers.
func Money(code, amount, scale string) (domain.MonetaryValue, bool) {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return domain.MonetaryValue{}, false
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(amount, ",", ""), 64)
	if err != nil {
		return domain.MonetaryValue{}, false
	}
	switch strings.ToLower(scale) {
	case "k":
		value *= 1e3
	case "m", "million":
		value *= 1e6
	case "billion", "bn":
		value *= 1e9
	}
	digits, _ := currency.Standard.Rounding(unit)
	return domain.MonetaryValue{
		Amount:    value,
		Currency:  unit.String(),
		Formatted: unit.String() + " " + moneyPrinter.Sprint(number.Decimal(value, number.Scale(digits))),
	}, true
}

func limit(matches []string) []string {
	if len(matches) > maxEntitiesPerType {
		return matches[:maxEntitiesPerType]
	}
	return matches
}

func limitMatches(matches [][]string) [][]string {
	if len(matches) > maxEntitiesPerType {
		return matches[:maxEntitiesPerType]
	}
	return matches
}
