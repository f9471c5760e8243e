// Package template implements the payload-template engine of spec.md §4.1:
// render/extract/inject over JSON values, with a small function-call
// grammar for payload templates. Path selection and injection are backed by
// github.com/tidwall/gjson and github.com/tidwall/sjson, following the
// teacher's cmd/workflow-runner/resolver/resolver.go use of gjson for
// "$nodes.*" style node references.
package template

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// Func is a registered template function, invoked with already-evaluated
// argument values.
type Func func(args []any) (any, error)

// Engine holds the function registry used by render.
type Engine struct {
	funcs map[string]Func
}

// NewEngine creates an engine with the default built-in functions
// registered (string/number helpers commonly needed by payload templates).
func NewEngine() *Engine {
	e := &Engine{funcs: make(map[string]Func)}
	registerBuiltins(e)
	return e
}

// RegisterFunc adds or replaces a named function.
func (e *Engine) RegisterFunc(name string, fn Func) {
	e.funcs[name] = fn
}

// ErrKind tags the render/extract/inject error taxonomy from spec.md §4.1.
type ErrKind int

const (
	ErrKindFunctionNotFound ErrKind = iota
	ErrKindFunctionCallFailed
	ErrKindParse
	ErrKindJSONPath
)

// Error is the typed error returned by render/extract/inject.
type Error struct {
	Kind    ErrKind
	Message string
	Pos     int
	wrapped error
}

func (e *Error) Error() string {
	if e.Pos > 0 {
		return fmt.Sprintf("%s (position %d)", e.Message, e.Pos)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.wrapped }

func newFunctionNotFound(name string) *Error {
	return &Error{Kind: ErrKindFunctionNotFound, Message: fmt.Sprintf("function not found: %s", name)}
}

func newFunctionCallFailed(name string, cause error) *Error {
	return &Error{Kind: ErrKindFunctionCallFailed, Message: fmt.Sprintf("function call failed: %s: %v", name, cause), wrapped: cause}
}

func newParseError(pe *ParseError) *Error {
	return &Error{Kind: ErrKindParse, Message: pe.Error(), Pos: pe.Pos, wrapped: pe}
}

func newJSONPathError(path string, cause error) *Error {
	return &Error{Kind: ErrKindJSONPath, Message: fmt.Sprintf("json path error: %s: %v", path, cause), wrapped: cause}
}

// Render recursively evaluates template against input, per spec.md §4.1:
// scalar strings starting with "$" are resolved as JSON paths over input;
// strings matching the function-call grammar are parsed and evaluated;
// other scalars pass through verbatim; mappings/sequences render field-wise
// / element-wise.
func (e *Engine) Render(tmpl any, input any) (any, error) {
	switch v := tmpl.(type) {
	case string:
		return e.renderString(v, input)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			rendered, err := e.Render(child, input)
			if err != nil {
				return nil, err
			}
			out[k] = rendered
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			rendered, err := e.Render(child, input)
			if err != nil {
				return nil, err
			}
			out[i] = rendered
		}
		return out, nil
	default:
		return tmpl, nil
	}
}

func (e *Engine) renderString(s string, input any) (any, error) {
	if len(s) > 0 && s[0] == '$' {
		return e.Extract(input, s)
	}
	if LooksLikeFuncCall(s) {
		call, err := ParseFuncCall(s)
		if err != nil {
			var pe *ParseError
			if asParseError(err, &pe) {
				return nil, newParseError(pe)
			}
			return nil, err
		}
		return e.evalCall(call, input)
	}
	return s, nil
}

func asParseError(err error, out **ParseError) bool {
	pe, ok := err.(*ParseError)
	if ok {
		*out = pe
	}
	return ok
}

func (e *Engine) evalCall(call *FuncCall, input any) (any, error) {
	fn, ok := e.funcs[call.Name]
	if !ok {
		return nil, newFunctionNotFound(call.Name)
	}

	args := make([]any, len(call.Args))
	for i, argExpr := range call.Args {
		val, err := e.evalExpr(argExpr, input)
		if err != nil {
			return nil, err
		}
		args[i] = val
	}

	result, err := fn(args)
	if err != nil {
		return nil, newFunctionCallFailed(call.Name, err)
	}
	return result, nil
}

func (e *Engine) evalExpr(expr Expr, input any) (any, error) {
	switch expr.Kind {
	case ExprKindFuncCall:
		return e.evalCall(expr.Call, input)
	case ExprKindJSONPath:
		return e.Extract(input, expr.Path)
	case ExprKindString:
		return expr.Str, nil
	case ExprKindInt:
		return expr.Int, nil
	case ExprKindFloat:
		return expr.Float, nil
	case ExprKindBool:
		return expr.Bool, nil
	case ExprKindNull:
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown expression kind %d", expr.Kind)
	}
}

// Extract applies a "$..."-prefixed JSON-path selector to value and returns
// the selected value, per spec.md §4.1.
func (e *Engine) Extract(value any, path string) (any, error) {
	if path == "" || path == "$" {
		return value, nil
	}
	gpath := gjsonPath(path)

	buf, err := json.Marshal(value)
	if err != nil {
		return nil, newJSONPathError(path, err)
	}
	result := gjson.GetBytes(buf, gpath)
	if !result.Exists() {
		return nil, newJSONPathError(path, fmt.Errorf("path not found: %s", path))
	}
	return result.Value(), nil
}

// Inject produces a new value with child placed at path (overwriting any
// existing value there), per spec.md §4.1. Injection is backed by
// github.com/tidwall/sjson, mirroring Extract's use of gjson for reads.
func (e *Engine) Inject(value any, path string, child any) (any, error) {
	gpath := gjsonPath(path)

	buf, err := json.Marshal(value)
	if err != nil {
		return nil, newJSONPathError(path, err)
	}
	updated, err := sjson.SetBytes(buf, gpath, child)
	if err != nil {
		return nil, newJSONPathError(path, err)
	}
	var out any
	if err := json.Unmarshal(updated, &out); err != nil {
		return nil, newJSONPathError(path, err)
	}
	return out, nil
}

// gjsonPath translates a spec.md "$.field.sub[0]" style path into the
// gjson/sjson path dialect ("field.sub.0"), stripping the leading "$" and
// "$." prefixes and converting bracket indices to dot-indices.
func gjsonPath(path string) string {
	p := path
	if len(p) > 0 && p[0] == '$' {
		p = p[1:]
	}
	if len(p) > 0 && p[0] == '.' {
		p = p[1:]
	}
	out := make([]byte, 0, len(p))
	for i := 0; i < len(p); i++ {
		switch p[i] {
		case '[':
			if len(out) > 0 && out[len(out)-1] != '.' {
				out = append(out, '.')
			}
		case ']':
			// no-op, dot already inserted on '['
		default:
			out = append(out, p[i])
		}
	}
	return string(out)
}
