package glucose

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/lucas-1000/mcp-glucose/internal/domain"
)

type searchArgs struct {
	Query string `json:"query" validate:"required"`
}

type fetchArgs struct {
	ID string `json:"id" validate:"required"`
}

type rangeArgs struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	Limit     *int   `json:"limit" validate:"omitempty,min=1,max=1000"`
}

type statsArgs struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeArgs maps loosely typed tool arguments onto out, trims string fields
// and validates the result.
func decodeArgs(args map[string]interface{}, out interface{}) error {
	if args == nil {
		args = map[string]interface{}{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return domain.NewInvalidArgumentError("arguments", err.Error())
	}
	if err := json.Unmarshal(raw, out); err != nil {
		var te *json.UnmarshalTypeError
		if errors.As(err, &te) {
			return domain.NewInvalidArgumentError(te.Field, fmt.Sprintf("must be a %s", jsonKind(te.Type)))
		}
		return domain.NewInvalidArgumentError("arguments", err.Error())
	}

	trimStrings(reflect.ValueOf(out).Elem())

	if err := validate.Struct(out); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			return domain.NewInvalidArgumentError(ve[0].Field(), describe(ve[0]))
		}
		return domain.NewInvalidArgumentError("arguments", err.Error())
	}
	return nil
}

func trimStrings(v reflect.Value) {
	for i := 0; i < v.NumField(); i++ {
		f := v.Field(i)
		if f.Kind() == reflect.String && f.CanSet() {
			f.SetString(strings.TrimSpace(f.String()))
		}
	}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

func jsonKind(t reflect.Type) string {
	switch t.Kind() {
	case reflect.Int, reflect.Int64, reflect.Int32:
		return "whole number"
	case reflect.Ptr:
		return jsonKind(t.Elem())
	default:
		return t.Kind().String()
	}
}
