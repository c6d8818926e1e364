package param

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"voxelpipe/internal/services"
)

// Kind tags the value type of a Parameter.
type Kind string

const (
	KindInt           Kind = "int"
	KindFloat         Kind = "float"
	KindString        Kind = "string"
	KindText          Kind = "text"
	KindFilepath      Kind = "filepath"
	KindFilename      Kind = "filename"
	KindBool          Kind = "bool"
	KindSelect        Kind = "select"
	KindStringMapping Kind = "string_mapping"
)

// ValidationError reports a value rejected by a parameter or form.
type ValidationError struct {
	Param string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Param == "" {
		return e.Msg
	}
	return e.Param + ": " + e.Msg
}

func (e *ValidationError) Unwrap() error { return services.ErrValidation }

func invalid(p *Parameter, format string, args ...any) error {
	name := ""
	if p != nil {
		name = p.Name
	}
	return &ValidationError{Param: name, Msg: fmt.Sprintf(format, args...)}
}

// Option is one choice of a select parameter.
type Option struct {
	Value any    `json:"value"`
	Name  string `json:"name"`
}

// Parameter is a single typed, validated configuration value of a module.
type Parameter struct {
	Name        string
	Kind        Kind
	Label       string
	Description string
	Help        string
	// VisibleJS is an opaque predicate forwarded to configuration surfaces.
	VisibleJS   string
	Optional    bool
	Default     any
	DefaultFunc func() any
	Min         *float64
	Max         *float64
	MaxLength   int
	Options     []Option
}

// Opt customizes a Parameter at construction.
type Opt func(*Parameter)

func WithLabel(label string) Opt { return func(p *Parameter) { p.Label = label } }

func WithDescription(text string) Opt { return func(p *Parameter) { p.Description = text } }

func WithHelp(text string) Opt { return func(p *Parameter) { p.Help = DedentHelp(text) } }

func WithVisibleJS(expr string) Opt { return func(p *Parameter) { p.VisibleJS = expr } }

func WithMin(v float64) Opt { return func(p *Parameter) { p.Min = &v } }

func WithMax(v float64) Opt { return func(p *Parameter) { p.Max = &v } }

func WithMaxLength(n int) Opt { return func(p *Parameter) { p.MaxLength = n } }

// WithDefaultFunc computes the default on every lookup instead of using a fixed value.
func WithDefaultFunc(fn func() any) Opt { return func(p *Parameter) { p.DefaultFunc = fn } }

// NotRequired marks the parameter as optional for configuration surfaces.
func NotRequired() Opt { return func(p *Parameter) { p.Optional = true } }

func newParameter(name string, kind Kind, def any, opts []Opt) *Parameter {
	p := &Parameter{Name: name, Kind: kind, Default: def}
	for _, opt := range opts {
		opt(p)
	}
	if p.Label == "" {
		p.Label = HumanName(name)
	}
	return p
}

func Int(name string, def int, opts ...Opt) *Parameter {
	return newParameter(name, KindInt, def, opts)
}

func Float(name string, def float64, opts ...Opt) *Parameter {
	return newParameter(name, KindFloat, def, opts)
}

func String(name, def string, opts ...Opt) *Parameter {
	return newParameter(name, KindString, def, opts)
}

func Text(name, def string, opts ...Opt) *Parameter {
	return newParameter(name, KindText, def, opts)
}

func Filepath(name, def string, opts ...Opt) *Parameter {
	return newParameter(name, KindFilepath, def, opts)
}

func Filename(name, def string, opts ...Opt) *Parameter {
	return newParameter(name, KindFilename, def, opts)
}

func Bool(name string, def bool, opts ...Opt) *Parameter {
	return newParameter(name, KindBool, def, opts)
}

func StringMapping(name string, def map[string]string, opts ...Opt) *Parameter {
	if def == nil {
		def = map[string]string{}
	}
	return newParameter(name, KindStringMapping, def, opts)
}

// Select declares a choice parameter. Option values must be unique.
func Select(name string, def any, options []Option, opts ...Opt) (*Parameter, error) {
	seen := make(map[any]struct{}, len(options))
	for _, opt := range options {
		if _, dup := seen[opt.Value]; dup {
			return nil, fmt.Errorf("option %s:%v/%s has a duplicate value", name, opt.Value, opt.Name)
		}
		seen[opt.Value] = struct{}{}
	}
	p := newParameter(name, KindSelect, def, opts)
	p.Options = append([]Option(nil), options...)
	return p, nil
}

// MustSelect is Select for package-level module declarations.
func MustSelect(name string, def any, options []Option, opts ...Opt) *Parameter {
	p, err := Select(name, def, options, opts...)
	if err != nil {
		panic(err)
	}
	return p
}

// Required reports whether configuration surfaces must ask for a value.
func (p *Parameter) Required() bool { return !p.Optional }

// DefaultValue returns the default, evaluating DefaultFunc when set.
func (p *Parameter) DefaultValue() any {
	if p.DefaultFunc != nil {
		return p.DefaultFunc()
	}
	if m, ok := p.Default.(map[string]string); ok {
		clone := make(map[string]string, len(m))
		for k, v := range m {
			clone[k] = v
		}
		return clone
	}
	return p.Default
}

// Validate coerces raw into the parameter's canonical type.
func (p *Parameter) Validate(raw any) (any, error) {
	switch p.Kind {
	case KindInt:
		v, ok := toInt(raw)
		if !ok {
			return nil, invalid(p, "Expected integer, got '%v'", raw)
		}
		return int(p.clamp(float64(v))), nil
	case KindFloat:
		v, ok := toFloat(raw)
		if !ok {
			return nil, invalid(p, "Expected float, got '%v'", raw)
		}
		return p.clamp(v), nil
	case KindString, KindText, KindFilepath, KindFilename:
		s := toString(raw)
		if p.MaxLength > 0 && len(s) >= p.MaxLength {
			return nil, invalid(p, "Value too long (%d, expected %d)", len(s), p.MaxLength)
		}
		return s, nil
	case KindBool:
		return truthy(raw), nil
	case KindSelect:
		return p.validateSelect(raw)
	case KindStringMapping:
		return toStringMapping(p, raw)
	default:
		return raw, nil
	}
}

func (p *Parameter) clamp(v float64) float64 {
	if p.Min != nil && v < *p.Min {
		v = *p.Min
	}
	if p.Max != nil && v > *p.Max {
		v = *p.Max
	}
	return v
}

func (p *Parameter) validateSelect(raw any) (any, error) {
	for _, opt := range p.Options {
		candidate, ok := coerceLike(raw, opt.Value)
		if !ok {
			continue
		}
		if candidate == opt.Value {
			return opt.Value, nil
		}
	}
	values := make([]string, 0, len(p.Options))
	for _, opt := range p.Options {
		values = append(values, fmt.Sprintf("%#v", opt.Value))
	}
	return nil, invalid(p, "Unexpected value '%v', expect one of %s", raw, strings.Join(values, ", "))
}

// coerceLike converts raw to the dynamic type of like.
func coerceLike(raw, like any) (any, bool) {
	switch like.(type) {
	case string:
		return toString(raw), true
	case int:
		return toInt(raw)
	case float64:
		return toFloat(raw)
	case bool:
		return truthy(raw), true
	default:
		return raw, true
	}
}

func toInt(raw any) (int, bool) {
	switch v := raw.(type) {
	case int:
		return v, true
	case int32:
		return int(v), true
	case int64:
		return int(v), true
	case uint:
		return int(v), true
	case float32:
		return int(v), !math.IsNaN(float64(v))
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return int(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		return n, err == nil
	default:
		return 0, false
	}
}

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toString(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func truthy(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return false
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "", "0", "false", "no", "off":
			return false
		}
		return true
	case map[string]any:
		return len(v) > 0
	case []any:
		return len(v) > 0
	default:
		if f, ok := toFloat(v); ok {
			return f != 0
		}
		return true
	}
}

func toStringMapping(p *Parameter, raw any) (map[string]string, error) {
	switch v := raw.(type) {
	case nil:
		return map[string]string{}, nil
	case map[string]string:
		out := make(map[string]string, len(v))
		for key, val := range v {
			out[key] = val
		}
		return out, nil
	case map[string]any:
		out := make(map[string]string, len(v))
		for key, val := range v {
			out[key] = toString(val)
		}
		return out, nil
	default:
		return nil, invalid(p, "Expected mapping, got '%v'", raw)
	}
}

var titleCaser = cases.Title(language.English)

// HumanName turns an identifier such as "output_percent" into "Output Percent".
func HumanName(name string) string {
	return titleCaser.String(strings.ReplaceAll(strings.TrimSpace(name), "_", " "))
}

// DedentHelp removes the common leading indentation of multi-line help texts.
func DedentHelp(text string) string {
	lines := strings.Split(strings.Trim(text, "\n"), "\n")
	indent := -1
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		n := len(line) - len(strings.TrimLeft(line, " \t"))
		if indent < 0 || n < indent {
			indent = n
		}
	}
	if indent <= 0 {
		return strings.TrimSpace(text)
	}
	for i, line := range lines {
		if len(line) >= indent {
			lines[i] = line[indent:]
		} else {
			lines[i] = strings.TrimLeft(line, " \t")
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
