package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("koanf"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks struct tags first, then rules that span several fields.
// Every violation is reported; the result joins one ConfigError per field.
func Validate(cfg *Config) error {
	if cfg == nil {
		return NewMissingFieldError("config")
	}

	var errs []error
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			errs = append(errs, fieldError(fe))
		}
	}

	errs = append(errs, validateTokenStore(&cfg.Token.Store)...)
	return errors.Join(errs...)
}

func fieldError(fe validator.FieldError) *ConfigError {
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}

	switch fe.Tag() {
	case "required":
		return NewMissingFieldError(field)
	case "oneof":
		return NewInvalidFieldError(field, fmt.Sprintf("unsupported value %q", fmt.Sprint(fe.Value())), strings.Fields(fe.Param()))
	case "url":
		return NewInvalidFieldError(field, "must be a valid url", nil)
	case "gt":
		return NewInvalidFieldError(field, "must be greater than "+fe.Param(), nil)
	case "gte":
		return NewInvalidFieldError(field, "must not be negative", nil)
	default:
		return NewInvalidFieldError(field, "failed "+fe.Tag()+" validation", nil)
	}
}

func validateTokenStore(s *TokenStoreConfig) []error {
	var errs []error
	switch s.Type {
	case StoreFile:
		if s.Path == "" {
			errs = append(errs, NewMissingFieldError("token.store.path"))
		}
	case StoreRedis:
		if s.Redis.Addr == "" {
			errs = append(errs, NewMissingFieldError("token.store.redis.addr"))
		}
	case StoreSQL:
		if s.SQL.Driver == "" {
			errs = append(errs, NewMissingFieldError("token.store.sql.driver"))
		}
		if s.SQL.DSN == "" {
			errs = append(errs, NewMissingFieldError("token.store.sql.dsn"))
		}
		if s.SQL.Table == "" {
			errs = append(errs, NewMissingFieldError("token.store.sql.table"))
		}
	}
	return errs
}
