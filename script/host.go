package script

import (
	"context"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Env is the variable scope a stage script is evaluated against.
type Env map[string]any

// Host runs one stage script against an environment and returns its value.
// Implementations decide the scripting language; the engine only cares that
// the returned value may carry a flow envelope.
type Host interface {
	Run(ctx context.Context, source string, env Env) (any, error)
}

// ExprHost evaluates scripts with expr-lang. Programs are compiled in
// dynamic mode (env keys vary per stage) and cached by source, so each
// agent stage compiles once per process.
type ExprHost struct {
	mu       sync.Mutex
	programs map[string]*vm.Program
}

func NewExprHost() *ExprHost {
	return &ExprHost{programs: make(map[string]*vm.Program)}
}

func (h *ExprHost) Run(ctx context.Context, source string, env Env) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	program, err := h.compiled(source)
	if err != nil {
		return nil, err
	}
	out, err := expr.Run(program, map[string]any(env))
	if err != nil {
		return nil, fmt.Errorf("eval script: %w", err)
	}
	return out, nil
}

// Compile checks a script without running it.
func (h *ExprHost) Compile(source string) error {
	_, err := h.compiled(source)
	return err
}

func (h *ExprHost) compiled(source string) (*vm.Program, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.programs[source]; ok {
		return p, nil
	}
	p, err := expr.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("compile script: %w", err)
	}
	h.programs[source] = p
	return p, nil
}
