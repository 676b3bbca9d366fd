// Package cel compiles sweep predicates for the admin surface. A predicate is
// a CEL expression over a session summary map, e.g. "sess.node == 'n3'" or
// "sess.elapsedMs > 30000".
package cel

import (
	"fmt"
	"reflect"

	"github.com/google/cel-go/cel"
)

// Evaluator contains the CEL expression & the cel program used to evaluate the
// expression against session summaries.
type Evaluator struct {
	Expression string
	program    cel.Program
}

// NewEvaluator compiles a sweep predicate. The expression sees one variable,
// sess, a map of the summary fields, and must evaluate to a bool.
func NewEvaluator(expression string) (*Evaluator, error) {
	if expression == "" {
		return nil, fmt.Errorf("expression can't be empty string")
	}

	env, err := cel.NewEnv(
		cel.Variable("sess", cel.MapType(cel.StringType, cel.AnyType)),
	)
	if err != nil {
		return nil, fmt.Errorf("error creating CEL environment: %v", err)
	}

	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("error compiling CEL expression: %v", issues.Err())
	}
	p, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("error creating Program: %v", err)
	}
	return &Evaluator{
		Expression: expression,
		program:    p,
	}, nil
}

// Evaluate runs the predicate against one session summary map.
func (e *Evaluator) Evaluate(sess map[string]any) (bool, error) {
	out, _, err := e.program.Eval(map[string]any{
		"sess": sess,
	})
	if err != nil {
		return false, fmt.Errorf("error evaluating CEL expression: %v", err)
	}
	nv, err := out.ConvertToNative(reflect.TypeOf(false))
	if err != nil {
		return false, fmt.Errorf("error ConvertToNative, got err: %v", err)
	}
	v, ok := nv.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q did not evaluate to bool", e.Expression)
	}
	return v, nil
}
