package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"cadbridge/pkg/protocol"

	"github.com/go-playground/validator/v10"
)

// Args is the argument bag of one tool call.
type Args map[string]any

// String returns the string value at key, or "".
func (a Args) String(key string) string {
	s, _ := a[key].(string)
	return s
}

// Bool returns the boolean value at key, or false.
func (a Args) Bool(key string) bool {
	b, _ := a[key].(bool)
	return b
}

// Handler is one routing table entry. Validate turns the raw argument bag
// into typed parameters; Execute runs the tool with them. Execute may return
// a protocol.Awaiting to suspend, a protocol.Response to pass an already
// built envelope through, or any other value as the Ok result.
type Handler struct {
	Name     string
	Validate func(args Args) (any, error)
	Execute  func(ctx context.Context, params any, args Args) (any, error)
}

// typed builds a Handler whose parameters decode into P. defaults supplies
// the values of omitted arguments.
func typed[P any](name string, defaults func() P, exec func(ctx context.Context, p P, args Args) (any, error)) Handler {
	return Handler{
		Name: name,
		Validate: func(args Args) (any, error) {
			p := defaults()
			if err := decode(name, &p, args); err != nil {
				return nil, err
			}
			return p, nil
		},
		Execute: func(ctx context.Context, params any, args Args) (any, error) {
			p, ok := params.(P)
			if !ok {
				return nil, fmt.Errorf("%s: unexpected parameter type %T", name, params)
			}
			return exec(ctx, p, args)
		},
	}
}

// noParams is the parameter type of tools that take no arguments.
type noParams struct{}

func none() noParams { return noParams{} }

var validate = newValidator() //nolint:gochecknoglobals // validator caches struct metadata; one per process

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// decode fills dst from args and validates it. Unknown arguments are
// ignored so grouped tools can share one parameter bag.
func decode(tool string, dst any, args Args) error {
	if len(args) > 0 {
		raw, err := json.Marshal(args)
		if err != nil {
			return protocol.Wrap(protocol.KindInvalidArgs, err, "encode arguments for "+tool)
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return protocol.Errorf(protocol.KindInvalidArgs, "invalid arguments for %s: %s", tool, describeDecodeError(err))
		}
	}
	if err := validate.Struct(dst); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			return protocol.Errorf(protocol.KindInvalidArgs, "%s", describeFieldError(ve[0]))
		}
		return protocol.Wrap(protocol.KindInvalidArgs, err, "validate arguments for "+tool)
	}
	return nil
}

func describeDecodeError(err error) string {
	var te *json.UnmarshalTypeError
	if errors.As(err, &te) && te.Field != "" {
		return fmt.Sprintf("%s must be %s", te.Field, typeNoun(te.Type))
	}
	return err.Error()
}

func typeNoun(t reflect.Type) string {
	switch t.Kind() {
	case reflect.Float32, reflect.Float64:
		return "a number"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return "an integer"
	case reflect.String:
		return "a string"
	case reflect.Bool:
		return "a boolean"
	case reflect.Slice:
		elem := strings.TrimPrefix(strings.TrimPrefix(typeNoun(t.Elem()), "an "), "a ")
		return "a list of " + elem + "s"
	case reflect.Map, reflect.Struct:
		return "an object"
	default:
		return t.String()
	}
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "min":
		return fmt.Sprintf("%s needs at least %s entries", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), strings.ReplaceAll(fe.Param(), " ", ", "))
	default:
		return fmt.Sprintf("%s is invalid (%s)", fe.Field(), fe.Tag())
	}
}
