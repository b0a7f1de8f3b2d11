package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// DefaultConditionTimeout bounds condition evaluation.
const DefaultConditionTimeout = 100 * time.Millisecond

// MaxConditionSize is the longest accepted condition source.
const MaxConditionSize = 4096

// ConditionEnv is exposed to conditions as the globals rule, strategy, card
// and now. Values are converted through JSON so scripts see wire field names.
type ConditionEnv struct {
	Rule     interface{}
	Strategy interface{}
	Card     interface{}
	Now      time.Time
}

// CompileCondition reports syntax errors without running the expression.
func CompileCondition(expr string) error {
	if len(expr) > MaxConditionSize {
		return fmt.Errorf("condition exceeds %d bytes", MaxConditionSize)
	}
	if _, err := goja.Compile("condition", expr, true); err != nil {
		return fmt.Errorf("invalid condition: %w", err)
	}
	return nil
}

// EvaluateCondition runs expr and returns its truthiness. Evaluation is
// interrupted after timeout or when ctx ends.
func EvaluateCondition(ctx context.Context, expr string, env ConditionEnv, timeout time.Duration) (bool, error) {
	if err := CompileCondition(expr); err != nil {
		return false, err
	}
	if timeout <= 0 {
		timeout = DefaultConditionTimeout
	}

	vm := goja.New()
	done := make(chan struct{})
	go func() {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			vm.Interrupt("condition timed out")
		case <-ctx.Done():
			vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()
	defer close(done)

	for name, v := range map[string]interface{}{"rule": env.Rule, "strategy": env.Strategy, "card": env.Card} {
		plain, err := toPlain(v)
		if err != nil {
			return false, fmt.Errorf("condition %s: %w", name, err)
		}
		if err := vm.Set(name, plain); err != nil {
			return false, fmt.Errorf("condition %s: %w", name, err)
		}
	}
	now, err := vm.New(vm.Get("Date"), vm.ToValue(env.Now.UnixMilli()))
	if err != nil {
		return false, fmt.Errorf("condition now: %w", err)
	}
	if err := vm.Set("now", now); err != nil {
		return false, fmt.Errorf("condition now: %w", err)
	}

	result, err := vm.RunString(expr)
	if err != nil {
		return false, fmt.Errorf("condition failed: %w", err)
	}
	return result.ToBoolean(), nil
}

func toPlain(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
