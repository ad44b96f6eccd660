package strategy

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

//go:embed schema.cue
var schemaCUE string

// TableError reports an invalid strategy table file.
type TableError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *TableError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type filePolicy struct {
	Prefix   string `json:"prefix"`
	Strategy string `json:"strategy"`
	MaxAge   string `json:"max_age"`
}

type tableFile struct {
	Rules    []filePolicy `json:"rules"`
	Fallback *filePolicy  `json:"fallback"`
	Static   *filePolicy  `json:"static"`
}

// LoadTable reads a CUE strategy file. A rules list in the file replaces the
// built-in rules; fallback and static override their defaults when present.
//
//	rules: [
//		{prefix: "/api/inventory", strategy: "networkFirst", max_age: "2h"},
//		{prefix: "/api/menu", strategy: "cacheFirst", max_age: "24h"},
//	]
//	fallback: {strategy: "networkFirst", max_age: "5m"}
func LoadTable(path string) (*Table, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load strategy table: %w", err)
	}
	return ParseTable(src, path)
}

// ParseTable compiles src, validates it against the embedded schema and
// builds a Table.
func ParseTable(src []byte, filename string) (*Table, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile embedded schema: %w", err)
	}

	user := ctx.CompileBytes(src, cue.Filename(filename))
	if err := user.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	v := schema.Unify(user)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	var f tableFile
	if err := v.Decode(&f); err != nil {
		return nil, formatCUEError(err)
	}

	rules := DefaultRules()
	if user.LookupPath(cue.ParsePath("rules")).Exists() {
		rules = make([]Rule, 0, len(f.Rules))
	}
	for i, p := range f.Rules {
		r, err := p.rule()
		if err != nil {
			return nil, &TableError{Field: fmt.Sprintf("rules[%d]", i), Message: err.Error(), Pos: user.Pos()}
		}
		rules = append(rules, r)
	}
	fallback := DefaultFallback
	if f.Fallback != nil {
		r, err := f.Fallback.rule()
		if err != nil {
			return nil, &TableError{Field: "fallback", Message: err.Error(), Pos: user.Pos()}
		}
		fallback = r
	}
	static := DefaultStatic
	if f.Static != nil {
		r, err := f.Static.rule()
		if err != nil {
			return nil, &TableError{Field: "static", Message: err.Error(), Pos: user.Pos()}
		}
		static = r
	}

	t, err := NewTable(rules, fallback, static)
	if err != nil {
		return nil, &TableError{Field: "rules", Message: err.Error(), Pos: user.Pos()}
	}
	return t, nil
}

func (p filePolicy) rule() (Rule, error) {
	d, err := time.ParseDuration(p.MaxAge)
	if err != nil {
		return Rule{}, fmt.Errorf("max_age: %w", err)
	}
	return Rule{Prefix: p.Prefix, Strategy: Kind(p.Strategy), MaxAge: d}, nil
}

// formatCUEError keeps the first error and its position.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &TableError{Field: "cue", Message: first.Error(), Pos: positions[0]}
	}
	return &TableError{Field: "cue", Message: first.Error()}
}
