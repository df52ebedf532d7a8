package queryir

import (
	"errors"
	"fmt"
	"regexp"
)

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Validate checks that q can be compiled safely and deterministically.
// It returns every problem found, joined.
//
// Validate is a pure function with no side effects.
func Validate(q Query) error {
	v := &validator{}
	v.validateQuery(q, "query")
	return errors.Join(v.errs...)
}

type validator struct {
	errs []error
}

func (v *validator) addf(format string, args ...any) {
	v.errs = append(v.errs, fmt.Errorf(format, args...))
}

func (v *validator) validateQuery(q Query, path string) {
	switch query := q.(type) {
	case nil:
		v.addf("%s: nil query", path)
	case Select:
		v.validateSelect(query, path)
	case *Select:
		if query == nil {
			v.addf("%s: nil select", path)
			return
		}
		v.validateSelect(*query, path)
	default:
		v.addf("%s: unsupported query type %T", path, q)
	}
}

func (v *validator) validateSelect(s Select, path string) {
	switch {
	case s.From == "" && s.Inner == nil:
		v.addf("%s: select needs a table or an inner select", path)
	case s.From != "" && s.Inner != nil:
		v.addf("%s: select cannot have both a table and an inner select", path)
	case s.From != "":
		v.validateIdent(s.From, path+".from")
	default:
		v.validateSelect(*s.Inner, path+".inner")
	}

	if len(s.Columns) == 0 {
		v.addf("%s: explicit columns required", path)
	}
	for _, col := range s.Columns {
		v.validateIdent(col, path+".columns")
	}

	if len(s.OrderBy) == 0 {
		v.addf("%s: ORDER BY is mandatory", path)
	}
	for _, o := range s.OrderBy {
		v.validateIdent(o.Field, path+".order_by")
	}

	if s.Limit < 0 {
		v.addf("%s: negative limit %d", path, s.Limit)
	}

	if s.Filter != nil {
		v.validatePredicate(s.Filter, path+".filter")
	}
}

func (v *validator) validatePredicate(p Predicate, path string) {
	switch pred := p.(type) {
	case Equals:
		v.validateIdent(pred.Field, path)
		v.validateValue(pred.Value, path)
	case In:
		v.validateIdent(pred.Field, path)
		if len(pred.Values) == 0 {
			v.addf("%s: IN needs at least one value", path)
		}
		for _, val := range pred.Values {
			v.validateValue(val, path)
		}
	case Compare:
		if len(pred.Fields) == 0 || len(pred.Fields) != len(pred.Values) {
			v.addf("%s: compare arity mismatch (%d fields, %d values)", path, len(pred.Fields), len(pred.Values))
		}
		switch pred.Op {
		case OpLt, OpLe, OpGt, OpGe:
		default:
			v.addf("%s: unknown operator %q", path, pred.Op)
		}
		for _, f := range pred.Fields {
			v.validateIdent(f, path)
		}
		for _, val := range pred.Values {
			v.validateValue(val, path)
		}
	case And:
		for i, sub := range pred.Predicates {
			v.validatePredicate(sub, fmt.Sprintf("%s.and[%d]", path, i))
		}
	case nil:
		v.addf("%s: nil predicate", path)
	default:
		v.addf("%s: unsupported predicate type %T", path, p)
	}
}

func (v *validator) validateIdent(name, path string) {
	if !identRe.MatchString(name) {
		v.addf("%s: invalid identifier %q", path, name)
	}
}

func (v *validator) validateValue(val any, path string) {
	switch val.(type) {
	case string, int, int64, bool, []byte:
	case float32, float64:
		v.addf("%s: floats are forbidden", path)
	default:
		v.addf("%s: unsupported value type %T", path, val)
	}
}
