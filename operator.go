// Operators usable in a Secondary explore() and in range tokens. Order
// comparisons on strings must account for Value's natural order placing
// uppercase before lowercase (see value.go Compare): CON-667 folds the
// *bound*, not the stored value, before testing the range, with the
// direction table spec.md §9 fixes exactly: GT/LTE fold to lower case,
// GTE/LT/BETWEEN fold to upper case.
package engine

import "strings"

// Operator is one of the comparison operators explore()/range tokens
// support.
type Operator uint8

const (
	OpEquals Operator = iota
	OpNotEquals
	OpGreaterThan
	OpGreaterThanOrEquals
	OpLessThan
	OpLessThanOrEquals
	OpBetween
	OpRegex
	OpNotRegex
	OpContains
	OpNotContains
)

// foldBound implements CON-667: fold the operator's comparison bound to
// upper or lower case depending on direction, so that inclusion semantics
// hold under case-insensitive string equivalence given Value's byte order
// (uppercase < lowercase).
func foldBound(op Operator, v Value) Value {
	if v.Kind() != KindString {
		return v
	}
	switch op {
	case OpGreaterThan, OpLessThanOrEquals:
		return NewString(strings.ToLower(v.String()))
	case OpGreaterThanOrEquals, OpLessThan, OpBetween:
		return NewString(strings.ToUpper(v.String()))
	default:
		return v
	}
}

// matches evaluates operator op against candidate with bound operands
// (one operand for all operators except BETWEEN, which takes two: lower
// and upper). NOT_CONTAINS is implemented strictly as "not in", resolving
// the ambiguity spec.md §9 flags — the original's coded early-exit also
// admitted matches where `in` was true; that behaviour is not carried
// forward.
func matches(op Operator, candidate Value, operands []Value) bool {
	switch op {
	case OpEquals:
		return candidate.Equal(operands[0])
	case OpNotEquals:
		return !candidate.Equal(operands[0])
	case OpGreaterThan:
		return candidate.Compare(foldBound(op, operands[0])) > 0
	case OpGreaterThanOrEquals:
		return candidate.Compare(foldBound(op, operands[0])) >= 0
	case OpLessThan:
		return candidate.Compare(foldBound(op, operands[0])) < 0
	case OpLessThanOrEquals:
		return candidate.Compare(foldBound(op, operands[0])) <= 0
	case OpBetween:
		lo := foldBound(op, operands[0])
		hi := foldBound(op, operands[1])
		return candidate.Compare(lo) >= 0 && candidate.Compare(hi) <= 0
	case OpRegex:
		return regexMatch(operands[0].String(), candidate.String())
	case OpNotRegex:
		return !regexMatch(operands[0].String(), candidate.String())
	case OpContains:
		return strings.Contains(strings.ToLower(candidate.String()), strings.ToLower(operands[0].String()))
	case OpNotContains:
		return !strings.Contains(strings.ToLower(candidate.String()), strings.ToLower(operands[0].String()))
	default:
		return false
	}
}

func regexMatch(pattern, s string) bool {
	re, err := compileCached(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}
