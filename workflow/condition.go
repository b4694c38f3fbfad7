package workflow

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	flowerrors "github.com/davidroman0O/contestflow/errors"
)

// Condition gates a step at execution time
type Condition interface {
	Evaluate(ctx context.Context) (bool, error)
	String() string
}

// ConditionFunc adapts a function to Condition
type ConditionFunc func(ctx context.Context) (bool, error)

func (f ConditionFunc) Evaluate(ctx context.Context) (bool, error) { return f(ctx) }
func (f ConditionFunc) String() string                             { return "func" }

type exprCondition struct {
	expr string
	eval func() (bool, error)
}

func (c *exprCondition) Evaluate(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return c.eval()
}

func (c *exprCondition) String() string { return c.expr }

// ParseCondition compiles a `when` expression:
//
//	always | never | exists <path> | missing <path> | env <KEY> | env <KEY>=<VALUE>
//
// A leading "!" negates. Relative paths resolve against cwd; env lookups
// see the step environment first, then the process environment.
func ParseCondition(expr, cwd string, env map[string]string) (Condition, error) {
	raw := strings.TrimSpace(expr)
	body := raw
	negate := false
	if strings.HasPrefix(body, "!") {
		negate = true
		body = strings.TrimSpace(body[1:])
	}

	verb, arg, _ := strings.Cut(body, " ")
	arg = strings.TrimSpace(arg)

	var eval func() (bool, error)
	switch verb {
	case "always":
		eval = func() (bool, error) { return true, nil }
	case "never":
		eval = func() (bool, error) { return false, nil }
	case "exists", "missing":
		if arg == "" {
			return nil, flowerrors.Validationf("parse condition", "%q needs a path", verb)
		}
		path := arg
		if !filepath.IsAbs(path) && cwd != "" {
			path = filepath.Join(cwd, path)
		}
		want := verb == "exists"
		eval = func() (bool, error) {
			_, err := os.Stat(path)
			if err == nil {
				return want, nil
			}
			if os.IsNotExist(err) {
				return !want, nil
			}
			return false, flowerrors.FromOS("evaluate condition", err)
		}
	case "env":
		if arg == "" {
			return nil, flowerrors.Validationf("parse condition", "env needs a variable name")
		}
		key, value, hasValue := strings.Cut(arg, "=")
		eval = func() (bool, error) {
			got, ok := env[key]
			if !ok {
				got, ok = os.LookupEnv(key)
			}
			if hasValue {
				return ok && got == value, nil
			}
			return ok && got != "", nil
		}
	default:
		return nil, flowerrors.Validationf("parse condition", "unknown condition %q", raw)
	}

	if negate {
		inner := eval
		eval = func() (bool, error) {
			ok, err := inner()
			return !ok && err == nil, err
		}
	}
	return &exprCondition{expr: raw, eval: eval}, nil
}
