package template

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// registerBuiltins wires the small set of functions payload templates
// commonly need: string concatenation, case conversion, string/integer
// coercion, and `now` (the current UTC time as RFC 3339). User code
// (the language-binding SDK boundary per spec.md §1) may register additional functions via
// Engine.RegisterFunc.
func registerBuiltins(e *Engine) {
	e.RegisterFunc("concat", func(args []any) (any, error) {
		var b strings.Builder
		for _, a := range args {
			b.WriteString(fmt.Sprint(a))
		}
		return b.String(), nil
	})

	e.RegisterFunc("upper", func(args []any) (any, error) {
		s, err := singleString(args)
		if err != nil {
			return nil, err
		}
		return strings.ToUpper(s), nil
	})

	e.RegisterFunc("lower", func(args []any) (any, error) {
		s, err := singleString(args)
		if err != nil {
			return nil, err
		}
		return strings.ToLower(s), nil
	})

	e.RegisterFunc("toString", func(args []any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("toString expects 1 argument, got %d", len(args))
		}
		return fmt.Sprint(args[0]), nil
	})

	e.RegisterFunc("toInt", func(args []any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("toInt expects 1 argument, got %d", len(args))
		}
		switch v := args[0].(type) {
		case int64:
			return v, nil
		case float64:
			return int64(v), nil
		case string:
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("toInt: %w", err)
			}
			return n, nil
		default:
			return nil, fmt.Errorf("toInt: unsupported argument type %T", v)
		}
	})

	e.RegisterFunc("now", func(args []any) (any, error) {
		return time.Now().UTC().Format(time.RFC3339), nil
	})
}

func singleString(args []any) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("expected 1 argument, got %d", len(args))
	}
	s, ok := args[0].(string)
	if !ok {
		return "", fmt.Errorf("expected string argument, got %T", args[0])
	}
	return s, nil
}
