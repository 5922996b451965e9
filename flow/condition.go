package flow

// ConditionType tags the variant of a Condition. Each variant carries only
// the fields relevant to it; all others are ignored.
type ConditionType string

const (
	// CondElementState checks a located element against an expected state
	// through the live automation session.
	CondElementState ConditionType = "elementState"

	// CondResponseStatus compares the status code of a stored response.
	CondResponseStatus ConditionType = "responseStatus"

	// CondResponseBodyPath extracts a path from a stored response body and
	// matches it against an expected value.
	CondResponseBodyPath ConditionType = "responseBodyPath"

	// CondScriptedExpression evaluates a scripted expression and coerces
	// the result with ordinary truthiness.
	CondScriptedExpression ConditionType = "scriptedExpression"

	// CondVariableComparison compares a runtime variable against an
	// expected value, numerically when both sides coerce cleanly.
	CondVariableComparison ConditionType = "variableComparison"
)

// MatchOperator selects how an extracted value is matched against the
// expected value. The relational operators are valid only for
// CondVariableComparison; other variants treat them as OpEquals.
type MatchOperator string

const (
	OpEquals         MatchOperator = "equals"
	OpContains       MatchOperator = "contains"
	OpStartsWith     MatchOperator = "startsWith"
	OpEndsWith       MatchOperator = "endsWith"
	OpRegex          MatchOperator = "regex"
	OpGreaterThan    MatchOperator = "greaterThan"
	OpLessThan       MatchOperator = "lessThan"
	OpGreaterOrEqual MatchOperator = "greaterThanOrEqual"
	OpLessOrEqual    MatchOperator = "lessThanOrEqual"
)

// isRelational reports whether op orders its operands numerically.
func (op MatchOperator) isRelational() bool {
	switch op {
	case OpGreaterThan, OpLessThan, OpGreaterOrEqual, OpLessOrEqual:
		return true
	}
	return false
}

// ElementExpectation names the state an elementState condition asserts.
type ElementExpectation string

const (
	ElementVisible  ElementExpectation = "visible"
	ElementHidden   ElementExpectation = "hidden"
	ElementPresent  ElementExpectation = "present"
	ElementAbsent   ElementExpectation = "absent"
	ElementEnabled  ElementExpectation = "enabled"
	ElementDisabled ElementExpectation = "disabled"
)

// ScriptSurface selects where a scripted expression executes.
type ScriptSurface string

const (
	// SurfaceAuto infers the surface from the expression text: expressions
	// that call the data/variable accessors run on the automation context,
	// everything else runs in the rendered page. This is a soft heuristic;
	// declare the surface explicitly when the workflow definition knows it.
	SurfaceAuto ScriptSurface = ""

	// SurfaceAutomation evaluates the expression against run data and
	// variables only, with no engine-owned side effects.
	SurfaceAutomation ScriptSurface = "automation"

	// SurfacePage evaluates the expression inside the automation driver's
	// live session.
	SurfacePage ScriptSurface = "page"
)

// Condition is a tagged union over the five evaluation domains shared by
// branch routing and assertion steps.
type Condition struct {
	// Type selects the variant; the zero value is invalid and fails closed.
	Type ConditionType

	// Selector locates the element for CondElementState.
	Selector string

	// Expect is the element state asserted by CondElementState.
	Expect ElementExpectation

	// DataKey names the stored response consulted by CondResponseStatus
	// and CondResponseBodyPath. Defaults to "lastResponse".
	DataKey string

	// ExpectedStatus is the status code CondResponseStatus matches.
	ExpectedStatus int

	// Path is the body path expression for CondResponseBodyPath (gjson
	// path grammar).
	Path string

	// Expected is the expected value for CondResponseBodyPath and
	// CondVariableComparison.
	Expected string

	// Operator matches the extracted value against Expected.
	Operator MatchOperator

	// Expression is the script for CondScriptedExpression, and the
	// optional computed value for value-source nodes.
	Expression string

	// Surface selects the execution surface for CondScriptedExpression.
	Surface ScriptSurface

	// Variable names the runtime variable CondVariableComparison reads.
	Variable string
}

// EvalResult is the outcome of evaluating a condition. Evaluation never
// returns an error past this boundary: malformed input yields Passed=false
// with a descriptive message.
type EvalResult struct {
	Passed  bool
	Message string
	Details map[string]any
}
