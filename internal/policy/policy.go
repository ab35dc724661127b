package policy

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

//go:embed schema.cue
var schemaSrc string

// Band maps deltas strictly above AboveHours to Severity.
type Band struct {
	Severity   string
	AboveHours float64
}

// Policy holds the business thresholds that decide when an incident opens
// and how severe it is. They are sample values, so they live in CUE rather
// than code.
type Policy struct {
	ThresholdHours  float64
	DefaultType     string
	DefaultSeverity string
	Bands           []Band
	Floor           string

	ConfidenceSeed int64
	ConfidenceMin  float64
	ConfidenceMax  float64
}

// Error is a policy load failure with its source position when known.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Default returns the built-in policy.
func Default() *Policy {
	p, err := Parse([]byte("{}"), "default.cue")
	if err != nil {
		panic(fmt.Sprintf("built-in policy is invalid: %v", err))
	}
	return p
}

// LoadFile reads a CUE policy file. An empty path returns Default.
func LoadFile(path string) (*Policy, error) {
	if path == "" {
		return Default(), nil
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return Parse(src, path)
}

// Parse compiles src, unifies it with the schema and extracts the policy.
func Parse(src []byte, filename string) (*Policy, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSrc, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	user := ctx.CompileBytes(src, cue.Filename(filename))
	if err := user.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	v := schema.LookupPath(cue.ParsePath("#Policy")).Unify(user)
	if err := v.Validate(); err != nil {
		return nil, formatCUEError(err)
	}

	p := &Policy{}
	var err error
	if p.ThresholdHours, err = lookupFloat(v, "incident.threshold_hours"); err != nil {
		return nil, err
	}
	if p.DefaultType, err = lookupString(v, "incident.default_type"); err != nil {
		return nil, err
	}
	if p.DefaultSeverity, err = lookupString(v, "incident.default_severity"); err != nil {
		return nil, err
	}
	if p.Floor, err = lookupString(v, "severity.floor"); err != nil {
		return nil, err
	}
	if p.Bands, err = parseBands(v.LookupPath(cue.ParsePath("severity.bands"))); err != nil {
		return nil, err
	}

	seed, err := v.LookupPath(cue.ParsePath("narrative.confidence_seed")).Int64()
	if err != nil {
		return nil, formatCUEError(err)
	}
	p.ConfidenceSeed = seed
	if p.ConfidenceMin, err = lookupFloat(v, "narrative.confidence_min"); err != nil {
		return nil, err
	}
	if p.ConfidenceMax, err = lookupFloat(v, "narrative.confidence_max"); err != nil {
		return nil, err
	}
	if p.ConfidenceMin > p.ConfidenceMax {
		return nil, &Error{Field: "narrative", Message: "confidence_min exceeds confidence_max"}
	}
	return p, nil
}

func parseBands(v cue.Value) ([]Band, error) {
	iter, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var bands []Band
	for iter.Next() {
		item := iter.Value()
		sev, err := lookupString(item, "severity")
		if err != nil {
			return nil, err
		}
		above, err := lookupFloat(item, "above_hours")
		if err != nil {
			return nil, err
		}
		bands = append(bands, Band{Severity: sev, AboveHours: above})
	}
	for i := 1; i < len(bands); i++ {
		if bands[i].AboveHours > bands[i-1].AboveHours {
			return nil, &Error{Field: "severity.bands", Message: "bands must be ordered by descending above_hours", Pos: v.Pos()}
		}
	}
	return bands, nil
}

func lookupString(v cue.Value, path string) (string, error) {
	s, err := v.LookupPath(cue.ParsePath(path)).String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

func lookupFloat(v cue.Value, path string) (float64, error) {
	f, err := v.LookupPath(cue.ParsePath(path)).Float64()
	if err != nil {
		return 0, formatCUEError(err)
	}
	return f, nil
}

// formatCUEError keeps the first error and its position.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &Error{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return &Error{Field: "cue", Message: first.Error()}
}

// Opens reports whether a delta opens an incident.
func (p *Policy) Opens(delta float64) bool {
	return delta > p.ThresholdHours
}

// Severity maps an optional delta to a severity. A nil delta yields the
// default severity.
func (p *Policy) Severity(delta *float64) string {
	if delta == nil {
		return p.DefaultSeverity
	}
	for _, b := range p.Bands {
		if *delta > b.AboveHours {
			return b.Severity
		}
	}
	return p.Floor
}
