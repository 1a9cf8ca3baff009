package client

import (
	"bytes"
	"cmp"
	"fmt"
	"reflect"
	"strings"
	"time"
	"unicode"

	"github.com/gobitfly/tabletstore/schema"
)

type PredicateOp int

const (
	Equal PredicateOp = iota + 1
	NotEqual
	Less
	LessEqual
	Greater
	GreaterEqual
	In
	IsNull
	IsNotNull
)

var predicateOpNames = map[PredicateOp]string{
	Equal:        "=",
	NotEqual:     "!=",
	Less:         "<",
	LessEqual:    "<=",
	Greater:      ">",
	GreaterEqual: ">=",
	In:           "IN",
	IsNull:       "IS NULL",
	IsNotNull:    "IS NOT NULL",
}

func (op PredicateOp) String() string {
	if name, ok := predicateOpNames[op]; ok {
		return name
	}
	return fmt.Sprintf("PredicateOp(%d)", int(op))
}

// Predicate restricts the rows returned by a scanner. For In, Value is a slice
// of candidate values. IsNull and IsNotNull ignore Value. Comparisons never
// match NULL.
type Predicate struct {
	Column string
	Op     PredicateOp
	Value  any
}

func NewComparisonPredicate(column string, op PredicateOp, value any) Predicate {
	return Predicate{Column: column, Op: op, Value: value}
}

func NewInListPredicate(column string, values ...any) Predicate {
	return Predicate{Column: column, Op: In, Value: values}
}

func NewIsNullPredicate(column string) Predicate {
	return Predicate{Column: column, Op: IsNull}
}

func NewIsNotNullPredicate(column string) Predicate {
	return Predicate{Column: column, Op: IsNotNull}
}

func (p Predicate) String() string {
	switch p.Op {
	case IsNull, IsNotNull:
		return p.Column + " " + p.Op.String()
	}
	return fmt.Sprintf("%s %s %v", p.Column, p.Op, p.Value)
}

// normalize checks the predicate against s and converts its values to the
// Go type of the column.
func (p Predicate) normalize(s *schema.Schema) (Predicate, error) {
	if _, ok := s.Column(p.Column); !ok {
		return p, &SchemaMismatchError{Column: p.Column, Reason: "predicate on unknown column"}
	}
	switch p.Op {
	case IsNull, IsNotNull:
		p.Value = nil
		return p, nil
	case In:
		rv := reflect.ValueOf(p.Value)
		if p.Value == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
			return p, &SchemaMismatchError{Column: p.Column, Reason: "IN predicate needs a list of values"}
		}
		values := make([]any, rv.Len())
		for i := range values {
			v, err := normalizePredicateValue(s, p.Column, rv.Index(i).Interface())
			if err != nil {
				return p, err
			}
			values[i] = v
		}
		p.Value = values
		return p, nil
	case Equal, NotEqual, Less, LessEqual, Greater, GreaterEqual:
		v, err := normalizePredicateValue(s, p.Column, p.Value)
		if err != nil {
			return p, err
		}
		p.Value = v
		return p, nil
	}
	return p, &SchemaMismatchError{Column: p.Column, Reason: fmt.Sprintf("unknown predicate operator %v", p.Op)}
}

func normalizePredicateValue(s *schema.Schema, column string, v any) (any, error) {
	if v == nil {
		return nil, &SchemaMismatchError{Column: column, Reason: "predicate value is nil, use IS NULL"}
	}
	return s.NormalizeValue(column, v)
}

// matches evaluates a normalized predicate against a row.
func (p Predicate) matches(r *schema.Row) bool {
	v, _ := r.Get(p.Column)
	switch p.Op {
	case IsNull:
		return v == nil
	case IsNotNull:
		return v != nil
	}
	if v == nil {
		return false
	}
	if p.Op == In {
		for _, candidate := range p.Value.([]any) {
			if compareValues(v, candidate) == 0 {
				return true
			}
		}
		return false
	}

	c := compareValues(v, p.Value)
	switch p.Op {
	case Equal:
		return c == 0
	case NotEqual:
		return c != 0
	case Less:
		return c < 0
	case LessEqual:
		return c <= 0
	case Greater:
		return c > 0
	case GreaterEqual:
		return c >= 0
	}
	return false
}

// compareValues orders two normalized values of the same column type.
func compareValues(a, b any) int {
	switch x := a.(type) {
	case int8:
		return cmp.Compare(x, b.(int8))
	case int16:
		return cmp.Compare(x, b.(int16))
	case int32:
		return cmp.Compare(x, b.(int32))
	case int64:
		return cmp.Compare(x, b.(int64))
	case float32:
		return cmp.Compare(x, b.(float32))
	case float64:
		return cmp.Compare(x, b.(float64))
	case string:
		return strings.Compare(x, b.(string))
	case []byte:
		return bytes.Compare(x, b.([]byte))
	case time.Time:
		return x.Compare(b.(time.Time))
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	}
	panic(fmt.Sprintf("cannot compare values of type %T", a))
}

// ParsePredicate parses the textual form of a predicate, for example
// "age >= 18", "name IN (ann, bob)" or "email IS NOT NULL". The column name
// comes first, the operator directly after it.
func ParsePredicate(s *schema.Schema, expr string) (Predicate, error) {
	expr = strings.TrimSpace(expr)
	end := strings.IndexFunc(expr, func(r rune) bool {
		return unicode.IsSpace(r) || strings.ContainsRune("=<>!(", r)
	})
	if end <= 0 {
		return Predicate{}, fmt.Errorf("invalid predicate %q: no operator", expr)
	}
	column := expr[:end]
	rest := strings.TrimSpace(expr[end:])
	upper := strings.ToUpper(rest)

	if strings.HasPrefix(upper, "IS") {
		switch strings.Join(strings.Fields(upper), " ") {
		case "IS NULL":
			return NewIsNullPredicate(column).normalize(s)
		case "IS NOT NULL":
			return NewIsNotNullPredicate(column).normalize(s)
		}
	}

	col, ok := s.Column(column)
	if !ok {
		return Predicate{}, &SchemaMismatchError{Column: column, Reason: "predicate on unknown column"}
	}

	if len(rest) >= 2 && strings.EqualFold(rest[:2], "IN") && (len(rest) == 2 || rest[2] == '(' || unicode.IsSpace(rune(rest[2]))) {
		list := strings.TrimSpace(rest[2:])
		if !strings.HasPrefix(list, "(") || !strings.HasSuffix(list, ")") {
			return Predicate{}, fmt.Errorf("invalid predicate %q: IN list must be enclosed in parentheses", expr)
		}
		var values []any
		for _, item := range strings.Split(list[1:len(list)-1], ",") {
			v, err := schema.ParseValue(col, unquote(strings.TrimSpace(item)))
			if err != nil {
				return Predicate{}, err
			}
			values = append(values, v)
		}
		return NewInListPredicate(column, values...).normalize(s)
	}

	var op PredicateOp
	for _, candidate := range []PredicateOp{LessEqual, GreaterEqual, NotEqual, Equal, Less, Greater} {
		if strings.HasPrefix(rest, candidate.String()) {
			op = candidate
			rest = rest[len(candidate.String()):]
			break
		}
	}
	if op == 0 {
		return Predicate{}, fmt.Errorf("invalid predicate %q: unknown operator", expr)
	}
	v, err := schema.ParseValue(col, unquote(strings.TrimSpace(rest)))
	if err != nil {
		return Predicate{}, err
	}
	return NewComparisonPredicate(column, op, v).normalize(s)
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}
