package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"

	apperr "github.com/flowforge/platform/infrastructure/errors"
)

// ScriptBudget bounds one script node evaluation.
const ScriptBudget = 5 * time.Second

// ScriptRunner evaluates user JavaScript in an isolated goja runtime. The
// runtime has no host bindings beyond the input map; each run gets a fresh VM.
type ScriptRunner struct{}

// NewScriptRunner constructs the runner.
func NewScriptRunner() *ScriptRunner {
	return &ScriptRunner{}
}

// Run executes code with `inputs` bound and returns the script's completion
// value as the node output. Non-object results are wrapped under "result".
func (r *ScriptRunner) Run(ctx context.Context, code string, inputs map[string]any) (map[string]any, error) {
	if code == "" {
		return nil, apperr.Validation("script action requires code")
	}

	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if err := vm.Set("inputs", inputs); err != nil {
		return nil, apperr.Internal(err)
	}

	ctx, cancel := context.WithTimeout(ctx, ScriptBudget)
	defer cancel()
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			vm.Interrupt("script budget exceeded")
		case <-stop:
		}
	}()
	defer close(stop)

	value, err := vm.RunString(code)
	if err != nil {
		if _, interrupted := err.(*goja.InterruptedError); interrupted {
			return nil, apperr.Timeout(fmt.Errorf("script exceeded %s budget", ScriptBudget))
		}
		return nil, apperr.Validation(fmt.Sprintf("script error: %v", err))
	}

	exported := value.Export()
	if out, ok := exported.(map[string]any); ok {
		return out, nil
	}
	return map[string]any{"result": exported}, nil
}
