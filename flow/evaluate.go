package flow

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/tidwall/gjson"
)

// defaultResponseKey is where executors store the most recent response when
// the condition does not name a DataKey explicitly.
const defaultResponseKey = "lastResponse"

// Evaluate resolves a condition against externally supplied runtime state.
//
// Dispatch is a pure switch over the condition's tag. Each variant performs
// its own required-field checks and fails closed: a missing selector,
// missing expected value, or unusable operand yields Passed=false with a
// descriptive message rather than an error or panic escaping this boundary.
func Evaluate(ctx context.Context, cond Condition, rs RuntimeState) (res EvalResult) {
	defer func() {
		// The public contract never throws; recover turns a misbehaving
		// session or script host into a failed evaluation at the caller.
		if r := recover(); r != nil {
			res = failed(fmt.Sprintf("condition evaluation panicked: %v", r))
		}
	}()
	if rs == nil {
		return failed("no runtime state supplied")
	}

	switch cond.Type {
	case CondElementState:
		return evalElementState(ctx, cond, rs)
	case CondResponseStatus:
		return evalResponseStatus(cond, rs)
	case CondResponseBodyPath:
		return evalResponseBodyPath(cond, rs)
	case CondScriptedExpression:
		return evalScriptedExpression(ctx, cond, rs)
	case CondVariableComparison:
		return evalVariableComparison(cond, rs)
	default:
		return failed(fmt.Sprintf("unknown condition type %q", cond.Type))
	}
}

func failed(msg string) EvalResult {
	return EvalResult{Passed: false, Message: msg}
}

func evalElementState(ctx context.Context, cond Condition, rs RuntimeState) EvalResult {
	if cond.Selector == "" {
		return failed("elementState condition is missing a selector")
	}
	if cond.Expect == "" {
		return failed("elementState condition is missing an expected state")
	}
	session := rs.Session()
	if session == nil {
		return failed("elementState condition requires a live automation session")
	}

	state, err := session.ElementState(ctx, cond.Selector)
	if err != nil {
		return failed(fmt.Sprintf("element lookup failed for %q: %v", cond.Selector, err))
	}

	var passed bool
	switch cond.Expect {
	case ElementVisible:
		passed = state.Present && state.Visible
	case ElementHidden:
		passed = !state.Present || !state.Visible
	case ElementPresent:
		passed = state.Present
	case ElementAbsent:
		passed = !state.Present
	case ElementEnabled:
		passed = state.Present && state.Enabled
	case ElementDisabled:
		passed = state.Present && !state.Enabled
	default:
		return failed(fmt.Sprintf("unknown element expectation %q", cond.Expect))
	}

	return EvalResult{
		Passed:  passed,
		Message: fmt.Sprintf("element %q expected %s: %v", cond.Selector, cond.Expect, passed),
		Details: map[string]any{
			"selector": cond.Selector,
			"expect":   string(cond.Expect),
			"present":  state.Present,
			"visible":  state.Visible,
			"enabled":  state.Enabled,
		},
	}
}

func evalResponseStatus(cond Condition, rs RuntimeState) EvalResult {
	if cond.ExpectedStatus == 0 {
		return failed("responseStatus condition is missing an expected status")
	}
	key := cond.DataKey
	if key == "" {
		key = defaultResponseKey
	}
	raw, ok := rs.GetData(key)
	if !ok {
		return failed(fmt.Sprintf("no response stored under data key %q", key))
	}
	status, ok := responseStatusOf(raw)
	if !ok {
		return failed(fmt.Sprintf("value under data key %q carries no status code", key))
	}

	passed := status == cond.ExpectedStatus
	return EvalResult{
		Passed:  passed,
		Message: fmt.Sprintf("response status %d, expected %d", status, cond.ExpectedStatus),
		Details: map[string]any{"actual": status, "expected": cond.ExpectedStatus},
	}
}

// responseStatusOf extracts a status code from a stored response value.
// Executors store responses as map[string]any{"status": ..., "body": ...}.
func responseStatusOf(raw any) (int, bool) {
	m, ok := raw.(map[string]any)
	if !ok {
		return 0, false
	}
	n, ok := toNumber(m["status"])
	if !ok {
		return 0, false
	}
	return int(n), true
}

func evalResponseBodyPath(cond Condition, rs RuntimeState) EvalResult {
	if cond.Path == "" {
		return failed("responseBodyPath condition is missing a path expression")
	}
	if cond.Expected == "" {
		return failed("responseBodyPath condition is missing an expected value")
	}
	key := cond.DataKey
	if key == "" {
		key = defaultResponseKey
	}
	raw, ok := rs.GetData(key)
	if !ok {
		return failed(fmt.Sprintf("no response stored under data key %q", key))
	}
	body, ok := responseBodyOf(raw)
	if !ok {
		return failed(fmt.Sprintf("value under data key %q carries no body", key))
	}

	value := gjson.Get(body, cond.Path)
	if !value.Exists() {
		return failed(fmt.Sprintf("path %q not found in response body", cond.Path))
	}

	// The relational operators belong to variableComparison; anything
	// outside this variant's subset degrades to equality rather than
	// propagating an invalid operator.
	op := cond.Operator
	switch op {
	case OpEquals, OpContains, OpStartsWith, OpEndsWith, OpRegex:
	default:
		op = OpEquals
	}

	actual := value.String()
	passed, msg := matchString(op, actual, cond.Expected)
	if msg != "" {
		return failed(msg)
	}
	return EvalResult{
		Passed:  passed,
		Message: fmt.Sprintf("path %q value %q %s %q: %v", cond.Path, actual, op, cond.Expected, passed),
		Details: map[string]any{"path": cond.Path, "actual": actual, "expected": cond.Expected, "operator": string(op)},
	}
}

func responseBodyOf(raw any) (string, bool) {
	switch v := raw.(type) {
	case string:
		return v, true
	case []byte:
		return string(v), true
	case map[string]any:
		switch b := v["body"].(type) {
		case string:
			return b, true
		case []byte:
			return string(b), true
		}
	}
	return "", false
}

func evalScriptedExpression(ctx context.Context, cond Condition, rs RuntimeState) EvalResult {
	if strings.TrimSpace(cond.Expression) == "" {
		return failed("scriptedExpression condition is missing an expression")
	}

	surface := cond.Surface
	if surface == SurfaceAuto {
		surface = inferSurface(cond.Expression)
	}

	var (
		result any
		err    error
	)
	switch surface {
	case SurfaceAutomation:
		result, err = evalAutomationScript(cond.Expression, rs)
	case SurfacePage:
		session := rs.Session()
		if session == nil {
			return failed("rendered-page expression requires a live automation session")
		}
		result, err = session.EvalScript(ctx, cond.Expression)
	default:
		return failed(fmt.Sprintf("unknown script surface %q", surface))
	}
	if err != nil {
		return failed(fmt.Sprintf("expression failed on %s surface: %v", surface, err))
	}

	passed := truthy(result)
	return EvalResult{
		Passed:  passed,
		Message: fmt.Sprintf("expression result %v on %s surface", result, surface),
		Details: map[string]any{"result": result, "surface": string(surface)},
	}
}

// inferSurface guesses the execution surface from the expression text:
// presence of a data/variable accessor call means the expression only reads
// externally supplied run state and can run on the automation context.
// This is a soft heuristic; Condition.Surface overrides it when declared.
func inferSurface(expression string) ScriptSurface {
	if strings.Contains(expression, "getData(") || strings.Contains(expression, "getVariable(") {
		return SurfaceAutomation
	}
	return SurfacePage
}

// evalAutomationScript runs the expression on the automation-context
// surface: run data and variables are readable through accessor functions,
// and the engine exposes no mutating capability to the script.
func evalAutomationScript(expression string, rs RuntimeState) (any, error) {
	env := map[string]any{
		"getData": func(key string) any {
			v, _ := rs.GetData(key)
			return v
		},
		"getVariable": func(key string) any {
			v, _ := rs.GetVariable(key)
			return v
		},
	}
	return expr.Eval(expression, env)
}

func evalVariableComparison(cond Condition, rs RuntimeState) EvalResult {
	if cond.Variable == "" {
		return failed("variableComparison condition is missing a variable name")
	}
	if cond.Operator == "" {
		return failed("variableComparison condition is missing an operator")
	}
	actual, ok := rs.GetVariable(cond.Variable)
	if !ok {
		return failed(fmt.Sprintf("variable %q is not set", cond.Variable))
	}

	details := map[string]any{
		"variable": cond.Variable,
		"actual":   actual,
		"expected": cond.Expected,
		"operator": string(cond.Operator),
	}

	// Both operands are compared numerically when both coerce cleanly to
	// finite numbers. Otherwise fall back to string comparison, where only
	// equality is meaningful; relational operators against non-numeric
	// operands evaluate to false, not an error.
	an, aok := toNumber(actual)
	en, eok := toNumber(cond.Expected)
	if aok && eok {
		passed := compareNumbers(cond.Operator, an, en)
		return EvalResult{
			Passed:  passed,
			Message: fmt.Sprintf("variable %q: %v %s %v: %v", cond.Variable, an, cond.Operator, en, passed),
			Details: details,
		}
	}

	if cond.Operator.isRelational() {
		return EvalResult{
			Passed:  false,
			Message: fmt.Sprintf("variable %q: operator %s requires numeric operands", cond.Variable, cond.Operator),
			Details: details,
		}
	}

	passed, msg := matchString(cond.Operator, stringify(actual), cond.Expected)
	if msg != "" {
		return failed(msg)
	}
	return EvalResult{
		Passed:  passed,
		Message: fmt.Sprintf("variable %q: %q %s %q: %v", cond.Variable, stringify(actual), cond.Operator, cond.Expected, passed),
		Details: details,
	}
}

// matchString applies a string operator. The second return value is a
// non-empty failure message for unusable input (bad regex, unknown op).
func matchString(op MatchOperator, actual, expected string) (bool, string) {
	switch op {
	case OpEquals:
		return actual == expected, ""
	case OpContains:
		return strings.Contains(actual, expected), ""
	case OpStartsWith:
		return strings.HasPrefix(actual, expected), ""
	case OpEndsWith:
		return strings.HasSuffix(actual, expected), ""
	case OpRegex:
		re, err := regexp.Compile(expected)
		if err != nil {
			return false, fmt.Sprintf("invalid regex %q: %v", expected, err)
		}
		return re.MatchString(actual), ""
	default:
		return false, fmt.Sprintf("operator %s is not valid for string comparison", op)
	}
}

func compareNumbers(op MatchOperator, a, b float64) bool {
	switch op {
	case OpEquals:
		return a == b
	case OpGreaterThan:
		return a > b
	case OpLessThan:
		return a < b
	case OpGreaterOrEqual:
		return a >= b
	case OpLessOrEqual:
		return a <= b
	default:
		// Substring and pattern operators have no numeric meaning; compare
		// the canonical string forms instead.
		passed, _ := matchString(op, strconv.FormatFloat(a, 'f', -1, 64), strconv.FormatFloat(b, 'f', -1, 64))
		return passed
	}
}

// toNumber coerces a value to a finite float64. Strings parse through
// strconv; NaN and infinities do not count as clean coercions.
func toNumber(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case nil:
		return 0, false
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// truthy coerces a script result with ordinary truthiness: nil, false,
// zero, empty strings, and empty collections are false; everything else is
// true.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	}
	if n, ok := toNumber(v); ok {
		return n != 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() > 0
	case reflect.Ptr, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
