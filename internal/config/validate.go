package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(field reflect.StructField) string {
			name := strings.SplitN(field.Tag.Get("toml"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := structValidator().Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			messages := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				messages = append(messages, describeFieldError(fe))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(messages, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Paths.StateDir == c.Paths.DataDir {
		return errors.New("invalid config: paths.state_dir must differ from paths.data_dir")
	}
	return nil
}

func describeFieldError(fe validator.FieldError) string {
	// Namespace is "Config.pipeline.sidecar_extension"; drop the root type.
	key := fe.Namespace()
	if idx := strings.IndexByte(key, '.'); idx >= 0 {
		key = key[idx+1:]
	}
	switch fe.Tag() {
	case "required":
		return key + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", key, fe.Param(), fmt.Sprint(fe.Value()))
	case "min":
		return fmt.Sprintf("%s must be >= %s", key, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be <= %s", key, fe.Param())
	case "alphanum":
		return fmt.Sprintf("%s must be alphanumeric, got %q", key, fmt.Sprint(fe.Value()))
	default:
		return fmt.Sprintf("%s failed %s validation", key, fe.Tag())
	}
}
