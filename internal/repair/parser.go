// Package repair extracts candidate records from loosely structured model
// output. Parse never fails: whatever it is given, it returns at least one
// candidate and records what it had to work around.
package repair

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/bakebake-xr/bakebake/internal/concept"
)

// Field defaults for records that omit them.
const (
	DefaultName         = "名無し"
	DefaultArrayType    = "unknown"
	DefaultObjectType   = "place_action"
	maxDiagnosticSample = 80

	// Bounds on work per Parse call, for runaway or truncated output.
	maxStarts      = 64
	maxDiagnostics = 16
)

// Shape tags which rule produced a Result.
type Shape int

const (
	// ShapeNone means nothing parsed and the placeholder was emitted.
	ShapeNone Shape = iota
	// ShapeSingle means one object literal was found.
	ShapeSingle
	// ShapeMany means an array of objects was found.
	ShapeMany
)

func (s Shape) String() string {
	switch s {
	case ShapeSingle:
		return "single"
	case ShapeMany:
		return "many"
	default:
		return "none"
	}
}

// Result is the outcome of Parse. Candidates is never empty.
type Result struct {
	Shape       Shape
	Candidates  []concept.Candidate
	Diagnostics []string
}

// Parse applies, in order: the first non-empty JSON array, the first JSON
// object, and finally the fixed fallback placeholder.
func Parse(raw string) Result {
	var res Result

	if strings.TrimSpace(raw) == "" {
		res.note("empty input")
		return res.fallback()
	}

	closes := res.pairs(raw)

	if arr, ok := res.firstLiteral(raw, closes, '['); ok {
		for i, el := range arr.Array() {
			if !el.IsObject() {
				// Every field takes its default.
				res.note("array element %d is %s, using defaults", i, el.Type)
				el = gjson.Result{}
			}
			res.Candidates = append(res.Candidates, candidate(el, DefaultArrayType))
		}
		if len(res.Candidates) > 0 {
			res.Shape = ShapeMany
			res.log()
			return res
		}
		res.note("empty array")
	}

	if obj, ok := res.firstLiteral(raw, closes, '{'); ok {
		res.Shape = ShapeSingle
		res.Candidates = []concept.Candidate{candidate(obj, DefaultObjectType)}
		res.log()
		return res
	}

	res.note("no JSON literal in %q", sample(raw))
	return res.fallback()
}

func (r *Result) fallback() Result {
	r.Shape = ShapeNone
	r.Candidates = []concept.Candidate{concept.Placeholder(concept.LabelFallback)}
	r.log()
	return *r
}

func (r *Result) note(format string, args ...any) {
	switch {
	case len(r.Diagnostics) < maxDiagnostics:
		r.Diagnostics = append(r.Diagnostics, fmt.Sprintf(format, args...))
	case len(r.Diagnostics) == maxDiagnostics:
		r.Diagnostics = append(r.Diagnostics, "further diagnostics dropped")
	}
}

func (r *Result) log() {
	if len(r.Diagnostics) == 0 {
		return
	}
	slog.Debug("repaired model output",
		"shape", r.Shape.String(),
		"candidates", len(r.Candidates),
		"diagnostics", r.Diagnostics,
	)
}

// firstLiteral tries balanced literals opening with open, in input order,
// and returns the first that parses, trying a trailing-comma repair when the
// strict form does not. At most maxStarts positions are tried.
func (r *Result) firstLiteral(raw string, closes map[int]int, open byte) (gjson.Result, bool) {
	tried := 0
	for i := 0; i < len(raw) && tried < maxStarts; i++ {
		if raw[i] != open {
			continue
		}
		end, ok := closes[i]
		if !ok {
			continue
		}
		tried++
		lit := raw[i : end+1]
		if gjson.Valid(lit) {
			return gjson.Parse(lit), true
		}
		if fixed := trailingComma.ReplaceAllString(lit, "$1"); fixed != lit && gjson.Valid(fixed) {
			r.note("removed trailing comma in literal at offset %d", i)
			return gjson.Parse(fixed), true
		}
	}
	if tried == maxStarts {
		r.note("gave up on %c literals after %d tries", open, maxStarts)
	}
	return gjson.Result{}, false
}

var trailingComma = regexp.MustCompile(`,\s*([\]}])`)

// pairs maps each open bracket offset to its matching close in a single
// pass, ignoring brackets inside JSON strings. Opens of the other kind left
// between a close and its match are dropped as unmatched. Unmatched
// brackets are reported as one count.
func (r *Result) pairs(raw string) map[int]int {
	closes := make(map[int]int)
	var (
		stack     []int
		depth     = map[byte]int{}
		unmatched int
		inString  bool
	)
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if inString {
			switch c {
			case '\\':
				i++
			case '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[', '{':
			stack = append(stack, i)
			depth[c]++
		case ']', '}':
			want := byte('[')
			if c == '}' {
				want = '{'
			}
			if depth[want] == 0 {
				unmatched++
				continue
			}
			for {
				top := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				depth[raw[top]]--
				if raw[top] == want {
					closes[top] = i
					break
				}
				unmatched++
			}
		}
	}
	unmatched += len(stack)
	if unmatched > 0 {
		r.note("%d unbalanced brackets", unmatched)
	}
	return closes
}

func candidate(obj gjson.Result, defaultType string) concept.Candidate {
	name := field(obj, "name")
	if name == "" {
		name = DefaultName
	}
	typ := field(obj, "type")
	if typ == "" {
		typ = field(obj, "namingType")
	}
	if typ == "" {
		typ = defaultType
	}
	return concept.Candidate{
		Source:      concept.SourceGenerative,
		Name:        name,
		Reading:     field(obj, "reading"),
		Description: field(obj, "description"),
		Label:       concept.LabelLLMGenerated,
		NamingType:  typ,
	}
}

// field returns a string or number member as trimmed text; anything else
// counts as missing.
func field(obj gjson.Result, key string) string {
	v := obj.Get(key)
	switch v.Type {
	case gjson.String, gjson.Number:
		return strings.TrimSpace(v.String())
	default:
		return ""
	}
}

func sample(s string) string {
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > maxDiagnosticSample {
		return string(r[:maxDiagnosticSample]) + "…"
	}
	return s
}
