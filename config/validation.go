package config

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks the struct tags of cfg.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	return nil
}

// formatValidationError reports the first failed field.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) && len(validationErrs) > 0 {
		e := validationErrs[0]
		return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)", e.Namespace(), e.Tag(), e.Value())
	}

	return err
}

// decodeSection decodes a per-type section into out and validates it.
func decodeSection(name string, section map[string]any, out any) error {
	if err := decode(section, out); err != nil {
		return fmt.Errorf("invalid %s config: %w", name, err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("invalid %s config: %w", name, formatValidationError(err))
	}

	return nil
}
