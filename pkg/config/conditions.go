package config

import (
	"fmt"

	"go.starlark.net/syntax"
)

// CheckCondition syntax-checks one event condition expression. Conditions
// are evaluated at runtime inside the deployed processing layer; checking
// them here turns a runtime failure in a cloud function into a compile
// failure on the operator's machine.
//
// Conditions use Starlark expression syntax (identifiers for device
// properties, comparison and boolean operators), which is a superset of
// what the runtime evaluator accepts.
func CheckCondition(expr string) error {
	if expr == "" {
		return fmt.Errorf("condition is empty")
	}

	parsed, err := syntax.ParseExpr("condition", expr, 0)
	if err != nil {
		return fmt.Errorf("condition %q: %w", expr, err)
	}

	// Statements disguised as expressions (assignments parse as expr in
	// some grammars) cannot happen with ParseExpr, but a bare string or
	// number literal is almost certainly an authoring mistake.
	switch parsed.(type) {
	case *syntax.Literal:
		return fmt.Errorf("condition %q is a constant literal, not a boolean expression", expr)
	}

	return nil
}

// checkEventConditions validates every event's condition expression and
// reports the first failure with its index in events.json.
func checkEventConditions(events []EventSpec) error {
	for i, ev := range events {
		if err := CheckCondition(ev.Condition); err != nil {
			return NewInvalidValueError(FileEvents, fmt.Sprintf("[%d].condition", i), err.Error())
		}
	}
	return nil
}
