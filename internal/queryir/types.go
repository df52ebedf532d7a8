package queryir

// Query is a sealed interface implemented by Select.
type Query interface {
	queryNode()
}

// Predicate is a sealed interface for filter conditions.
//
// Predicate types:
//   - Equals: field = value
//   - In: field IN (values...)
//   - Compare: (fields...) op (values...), row-value comparison
//   - And: all predicates must hold
type Predicate interface {
	predicateNode()
}

// Select reads rows from a table or from a nested Select.
//
// Semantics:
//
//	SELECT <columns> FROM <from | (inner)> WHERE <filter> ORDER BY <order> LIMIT <limit>
//
// Exactly one of From and Inner is set. Limit 0 means unlimited.
//
// Example, the last three entries of a conversation re-ordered ascending:
//
//	Select{
//	  Inner: &Select{
//	    From:    "archive",
//	    Filter:  Equals{Field: "conversation_id", Value: "group/g1"},
//	    OrderBy: []Order{{Field: "timestamp_us", Desc: true}, {Field: "sequence", Desc: true}},
//	    Limit:   3,
//	  },
//	  OrderBy: []Order{{Field: "timestamp_us"}, {Field: "sequence"}},
//	}
type Select struct {
	From    string
	Inner   *Select
	Columns []string
	Filter  Predicate
	OrderBy []Order
	Limit   int
}

func (Select) queryNode() {}

// Order is one ORDER BY term.
type Order struct {
	Field string
	Desc  bool
}

// Equals matches rows whose field equals a literal.
type Equals struct {
	Field string
	Value any
}

func (Equals) predicateNode() {}

// In matches rows whose field equals any of Values. Values must not be empty.
type In struct {
	Field  string
	Values []any
}

func (In) predicateNode() {}

// CompareOp is a row-value comparison operator.
type CompareOp string

const (
	OpLt CompareOp = "<"
	OpLe CompareOp = "<="
	OpGt CompareOp = ">"
	OpGe CompareOp = ">="
)

// Compare is a lexicographic comparison of a tuple of fields against a
// tuple of literals:
//
//	Compare{Fields: []string{"timestamp_us", "sequence"}, Op: OpGt, Values: []any{ts, seq}}
//
// means rows strictly after (ts, seq) in (timestamp_us, sequence) order.
// A single field is an ordinary comparison.
type Compare struct {
	Fields []string
	Op     CompareOp
	Values []any
}

func (Compare) predicateNode() {}

// And matches rows satisfying every predicate. An empty And matches all rows.
type And struct {
	Predicates []Predicate
}

func (And) predicateNode() {}

// Conj builds an And from the non-nil predicates, collapsing the trivial
// cases: no predicates yields nil, a single predicate is returned as is.
func Conj(preds ...Predicate) Predicate {
	var kept []Predicate
	for _, p := range preds {
		if p != nil {
			kept = append(kept, p)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	default:
		return And{Predicates: kept}
	}
}
