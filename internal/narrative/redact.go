package narrative

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`\b(\d{3}[\-\.\s]?\d{3}[\-\.\s]?\d{4})\b`)
	nonDigit     = regexp.MustCompile(`\D`)
)

type namePart struct {
	word   string
	masked string
}

// Redactor masks e-mail addresses, phone numbers and a fixed set of names.
// Redact is pure and idempotent.
type Redactor struct {
	names []namePart
}

// NewRedactor masks every whitespace-separated part of each name as a
// whole word, case-sensitively. Word boundaries are Unicode aware, so
// "José" matches in "Dear José," but not inside "Josée".
func NewRedactor(names ...string) *Redactor {
	r := &Redactor{}
	for _, name := range names {
		for _, part := range strings.Fields(name) {
			first := string([]rune(part)[:1])
			r.names = append(r.names, namePart{
				word:   part,
				masked: first + strings.Repeat("*", len([]rune(part))-1),
			})
		}
	}
	return r
}

// Redact returns text with personal data masked.
func (r *Redactor) Redact(text string) string {
	text = emailPattern.ReplaceAllStringFunc(text, maskEmail)
	text = phonePattern.ReplaceAllStringFunc(text, maskPhone)
	for _, n := range r.names {
		text = replaceWord(text, n.word, n.masked)
	}
	return text
}

// RedactDrafts redacts both drafts.
func (r *Redactor) RedactDrafts(d Drafts) Drafts {
	return Drafts{Internal: r.Redact(d.Internal), Customer: r.Redact(d.Customer)}
}

// Redact masks text with a one-off Redactor.
func Redact(text string, names ...string) string {
	return NewRedactor(names...).Redact(text)
}

func maskEmail(email string) string {
	local, domain, _ := strings.Cut(email, "@")
	return local[:1] + "***@" + domain
}

func maskPhone(phone string) string {
	digits := nonDigit.ReplaceAllString(phone, "")
	return "***-***-" + digits[len(digits)-4:]
}

// replaceWord replaces every whole-word occurrence of word in text.
func replaceWord(text, word, masked string) string {
	var b strings.Builder
	i := 0
	for {
		j := strings.Index(text[i:], word)
		if j < 0 {
			break
		}
		start, end := i+j, i+j+len(word)
		if wordBoundary(text, start, end) {
			b.WriteString(text[i:start])
			b.WriteString(masked)
			i = end
			continue
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		b.WriteString(text[i : start+size])
		i = start + size
	}
	b.WriteString(text[i:])
	return b.String()
}

func wordBoundary(text string, start, end int) bool {
	if start > 0 {
		if r, _ := utf8.DecodeLastRuneInString(text[:start]); isWordRune(r) {
			return false
		}
	}
	if end < len(text) {
		if r, _ := utf8.DecodeRuneInString(text[end:]); isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.Is(unicode.Mn, r)
}
