package extensibility

import (
	"strconv"
	"strings"

	"github.com/cmpforge/statefabric/internal/core"
	"github.com/cmpforge/statefabric/internal/primitives"
)

// Expression builds a GuardFunc from a simple "key op value" string, e.g.
// "temp > 30" or "loggedIn == true", evaluated against the machine's
// context. Intended for hosts that want conditions configurable as data
// rather than Go closures; unparseable or type-mismatched expressions
// evaluate to false (fail closed).
func Expression(expr string) core.GuardFunc {
	return func(ctx *primitives.Context, event primitives.Event) bool {
		return evalExpression(ctx, expr)
	}
}

func evalExpression(ctx *primitives.Context, expr string) bool {
	parts := strings.Fields(expr)
	if len(parts) != 3 {
		return false
	}
	key, op, valStr := parts[0], parts[1], parts[2]

	v, hasKey := ctx.Get(key)
	if !hasKey {
		return false
	}

	switch op {
	case "==":
		switch valStr {
		case "true":
			return v == true
		case "false":
			return v == false
		case "nil":
			return v == nil
		default:
			if fVal, err := strconv.ParseFloat(valStr, 64); err == nil {
				if f, ok := v.(float64); ok {
					return f == fVal
				}
			}
			if s, ok := v.(string); ok {
				return s == valStr
			}
			return false
		}
	case "!=":
		return !evalExpression(ctx, key+" == "+valStr)
	case ">":
		fVal, err := strconv.ParseFloat(valStr, 64)
		if err != nil {
			return false
		}
		f, ok := v.(float64)
		return ok && f > fVal
	case "<":
		fVal, err := strconv.ParseFloat(valStr, 64)
		if err != nil {
			return false
		}
		f, ok := v.(float64)
		return ok && f < fVal
	default:
		return false
	}
}
