package graph

import "errors"

var (
	// ErrFormat reports a graph payload that cannot be decoded.
	ErrFormat = errors.New("graph: malformed payload")
	// ErrStructure reports a graph whose shape violates an editing precondition
	// or a structural invariant.
	ErrStructure           = errors.New("graph: invalid structure")
	ErrUnsupportedOperator = errors.New("graph: unsupported operator")
)
