package expression

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// templatePattern matches embedded {{ ... }} expressions.
var templatePattern = regexp.MustCompile(`\{\{\s*(.+?)\s*\}\}`)

// IsTemplateString reports whether s embeds expressions that need
// rendering. Timeout and target values that are not template strings
// are treated as literals.
func IsTemplateString(s string) bool {
	return templatePattern.MatchString(s)
}

// Engine is a wrapper around expr-lang/expr with a compiled-program
// cache. It evaluates workflow conditions and renders templated values.
type Engine struct {
	programCache map[string]*vm.Program
	functions    map[string]func(params ...interface{}) (interface{}, error)
	mu           sync.RWMutex
}

// NewEngine creates a new expression engine.
func NewEngine() *Engine {
	return &Engine{
		programCache: make(map[string]*vm.Program),
		functions:    make(map[string]func(params ...interface{}) (interface{}, error)),
	}
}

// Eval compiles (if needed) and runs an expression against the given
// environment.
func (e *Engine) Eval(expression string, env map[string]interface{}) (interface{}, error) {
	program, err := e.getProgram(expression, env)
	if err != nil {
		return nil, err
	}
	return expr.Run(program, env)
}

// EvalBool evaluates a condition. An empty condition is vacuously true;
// a non-boolean result is an error.
func (e *Engine) EvalBool(condition string, env map[string]interface{}) (bool, error) {
	if strings.TrimSpace(condition) == "" {
		return true, nil
	}
	result, err := e.Eval(condition, env)
	if err != nil {
		return false, err
	}
	value, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not evaluate to a boolean (got %T)", condition, result)
	}
	return value, nil
}

// Render resolves every {{ ... }} expression embedded in template.
// Plain strings come back unchanged. The first failing expression
// aborts the render.
func (e *Engine) Render(template string, env map[string]interface{}) (string, error) {
	if !IsTemplateString(template) {
		return template, nil
	}
	var renderErr error
	rendered := templatePattern.ReplaceAllStringFunc(template, func(match string) string {
		if renderErr != nil {
			return ""
		}
		inner := templatePattern.FindStringSubmatch(match)[1]
		value, err := e.Eval(inner, env)
		if err != nil {
			renderErr = err
			return ""
		}
		if value == nil {
			return ""
		}
		return fmt.Sprintf("%v", value)
	})
	if renderErr != nil {
		return "", renderErr
	}
	return rendered, nil
}

// RegisterFunction registers a custom function.
func (e *Engine) RegisterFunction(name string, fn func(params ...interface{}) (interface{}, error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.functions[name] = fn
	// Clear cache as available functions changed
	e.programCache = make(map[string]*vm.Program)
}

// Validate checks that an expression compiles against the environment.
func (e *Engine) Validate(expression string, env map[string]interface{}) error {
	_, err := e.getProgram(expression, env)
	return err
}

func (e *Engine) getProgram(expression string, env map[string]interface{}) (*vm.Program, error) {
	e.mu.RLock()
	if prog, ok := e.programCache[expression]; ok {
		e.mu.RUnlock()
		return prog, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	// Double check
	if prog, ok := e.programCache[expression]; ok {
		return prog, nil
	}

	options := []expr.Option{
		expr.Env(env),
		expr.AllowUndefinedVariables(),
		expr.Function("NOW", func(params ...interface{}) (interface{}, error) {
			return time.Now().Format("2006-01-02 15:04:05"), nil
		}),
		expr.Function("TODAY", func(params ...interface{}) (interface{}, error) {
			return time.Now().Format("2006-01-02"), nil
		}),
		expr.Function("UPPER", func(params ...interface{}) (interface{}, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("UPPER requires 1 argument")
			}
			s, ok := params[0].(string)
			if !ok {
				return nil, fmt.Errorf("UPPER argument must be string")
			}
			return strings.ToUpper(s), nil
		}),
		expr.Function("LOWER", func(params ...interface{}) (interface{}, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("LOWER requires 1 argument")
			}
			s, ok := params[0].(string)
			if !ok {
				return nil, fmt.Errorf("LOWER argument must be string")
			}
			return strings.ToLower(s), nil
		}),
	}

	for name, fn := range e.functions {
		options = append(options, expr.Function(name, fn))
	}

	program, err := expr.Compile(expression, options...)
	if err != nil {
		return nil, err
	}

	e.programCache[expression] = program
	return program, nil
}
