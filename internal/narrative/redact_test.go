package narrative

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedact(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		names []string
		want  string
	}{
		{"email", "write to jane.doe@example.com today", nil, "write to j***@example.com today"},
		{"single char local part", "a@b.io", nil, "a***@b.io"},
		{"phone plain", "call 5551234567", nil, "call ***-***-4567"},
		{"phone dashed", "call 555-123-4567.", nil, "call ***-***-4567."},
		{"phone dotted", "555.123.4567", nil, "***-***-4567"},
		{"phone spaced", "555 123 4567", nil, "***-***-4567"},
		{"nine digits untouched", "ref 123456789", nil, "ref 123456789"},
		{"eleven digits untouched", "ref 12345678901", nil, "ref 12345678901"},
		{"name parts", "Dear Jane Doe, Jane", []string{"Jane Doe"}, "Dear J*** D**, J***"},
		{"whole words only", "Janet and Doering", []string{"Jane Doe"}, "Janet and Doering"},
		{"case sensitive", "jane", []string{"Jane"}, "jane"},
		{"multiple names", "Jane met Bob", []string{"Jane", "Bob"}, "J*** met B**"},
		{"no pii", "Order PO123 is late", []string{"Jane"}, "Order PO123 is late"},
		{"accented names", "Dear José Müller, thanks Zoë", []string{"José Müller", "Zoë"}, "Dear J*** M*****, thanks Z**"},
		{"accented edges", "Renée and André.", []string{"Renée", "André"}, "R**** and A****."},
		{"accented whole words only", "Josée and Zoëlle", []string{"José", "Zoë"}, "Josée and Zoëlle"},
		{"letter before name", "ÉJosé", []string{"José"}, "ÉJosé"},
		{"adjacent occurrences", "José José", []string{"José"}, "J*** J***"},
		{"underscore joins words", "José_x", []string{"José"}, "José_x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Redact(tt.text, tt.names...))
		})
	}
}

func TestRedactIsIdempotent(t *testing.T) {
	r := NewRedactor("Jane Doe", "Acme Corp", "José Müller", "Zoë")
	inputs := []string{
		"Jane Doe <jane@acme.com> 555-123-4567",
		"Acme Corp called from 555 123 4567 about PO123",
		"nothing to see",
		"",
		"J*** D** j***@acme.com ***-***-4567",
		"Dear José Müller, thanks Zoë",
		"J*** M***** Z**",
	}
	for _, in := range inputs {
		once := r.Redact(in)
		assert.Equal(t, once, r.Redact(once), in)
	}
}
