package exec

import (
	"context"
	"fmt"

	"github.com/expr-lang/expr"

	"github.com/flowgraph/flowgraph-go/flow"
)

// ScriptConfig is the node config consumed by ScriptExecutor.
type ScriptConfig struct {
	// Expression is the script to evaluate. Required. The expression sees
	// getData(key) and getVariable(key) for reads and setData(key, value)
	// and setVariable(key, value) for staged writes.
	Expression string

	// StoreAs, when set, stores the expression's result under this
	// runtime variable.
	StoreAs string
}

// ScriptExecutor executes action nodes whose work is an expression over
// the run's data and variables. Missing keys read as nil rather than
// failing, matching how scripted conditions read the same state.
type ScriptExecutor struct{}

// NewScriptExecutor creates a script executor.
func NewScriptExecutor() *ScriptExecutor {
	return &ScriptExecutor{}
}

// Execute implements flow.Executor.
func (s *ScriptExecutor) Execute(_ context.Context, node flow.Node, rs flow.RuntimeState) flow.StepResult {
	cfg, ok := node.Config.(ScriptConfig)
	if !ok {
		return flow.Fail(&flow.FatalRunError{NodeID: node.ID, Message: "script node config is not a ScriptConfig"})
	}
	if cfg.Expression == "" {
		return flow.Fail(&flow.StepFailure{NodeID: node.ID, Message: "script node is missing an expression"})
	}

	env := map[string]any{
		"getData": func(key string) any {
			v, _ := rs.GetData(key)
			return v
		},
		"getVariable": func(key string) any {
			v, _ := rs.GetVariable(key)
			return v
		},
		"setData": func(key string, value any) any {
			rs.SetData(key, value)
			return value
		},
		"setVariable": func(key string, value any) any {
			rs.SetVariable(key, value)
			return value
		},
	}

	out, err := expr.Eval(cfg.Expression, env)
	if err != nil {
		return flow.Fail(&flow.StepFailure{
			NodeID:  node.ID,
			Message: fmt.Sprintf("script failed: %v", err),
			Cause:   err,
		})
	}

	if cfg.StoreAs != "" {
		rs.SetVariable(cfg.StoreAs, out)
	}
	return flow.Success(out)
}
