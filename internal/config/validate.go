package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/tonimelisma/reporoute/internal/repopath"
	"github.com/tonimelisma/reporoute/internal/repository"
)

// Validation range constants.
const (
	minConnectTimeout = 1 * time.Second
	minRequestTimeout = 5 * time.Second
	minSessionTTL     = 1 * time.Minute
	minBuildTimeout   = 1 * time.Second
)

// validate is the singleton validator instance.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report TOML key names instead of Go field names.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("toml"), ",")
		if name == "" || name == "-" {
			return f.Name
		}

		return name
	})

	mustRegister(v, "repotype", func(fl validator.FieldLevel) bool {
		_, err := repository.ParseType(fl.Field().String())
		return err == nil
	})

	mustRegister(v, "authkind", func(fl validator.FieldLevel) bool {
		_, err := repository.ParseAuthKind(fl.Field().String())
		return err == nil
	})

	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("config: registering %s validation: %v", tag, err))
	}
}

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first, so users
// see a complete report and can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateTags(cfg)...)
	errs = append(errs, validateDurations(cfg)...)
	errs = append(errs, validateRepositories(cfg.Repositories)...)

	return errors.Join(errs...)
}

// validateTags runs struct tag validation and converts each field error
// into a message keyed by the TOML path.
func validateTags(cfg *Config) []error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []error{err}
	}

	errs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		errs = append(errs, fieldError(fe))
	}

	return errs
}

func fieldError(fe validator.FieldError) error {
	// Namespace is "Config.repository[0].type"; drop the root struct name.
	_, key, _ := strings.Cut(fe.Namespace(), ".")

	switch fe.Tag() {
	case "required":
		return fmt.Errorf("%s: required", key)
	case "required_with":
		return fmt.Errorf("%s: required when %s is set", key, strings.ToLower(fe.Param()))
	case "excluded_with":
		return fmt.Errorf("%s: cannot be combined with secret_env", key)
	case "oneof":
		return fmt.Errorf("%s: must be one of %s; got %q", key, strings.ReplaceAll(fe.Param(), " ", ", "), fe.Value())
	case "repotype":
		return fmt.Errorf("%s: unknown repository type %q", key, fe.Value())
	case "authkind":
		return fmt.Errorf("%s: unknown auth kind %q", key, fe.Value())
	default:
		return fmt.Errorf("%s: validation failed on %q (value: %v)", key, fe.Tag(), fe.Value())
	}
}

func validateDurations(cfg *Config) []error {
	var errs []error

	errs = append(errs, validateDurationMin("network.connect_timeout", cfg.Network.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDurationMin("network.request_timeout", cfg.Network.RequestTimeout, minRequestTimeout)...)
	errs = append(errs, validateDurationMin("session.ttl", cfg.Session.TTL, minSessionTTL)...)
	errs = append(errs, validateDurationMin("session.build_timeout", cfg.Session.BuildTimeout, minBuildTimeout)...)
	errs = append(errs, validateDurationMin("sharepoint.retry_delay", cfg.SharePoint.RetryDelay, 0)...)

	return errs
}

func validateDurationMin(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be >= %s, got %s", field, minimum, d)}
	}

	return nil
}

// validateRepositories checks constraints the tags cannot express: paths
// must canonicalize and be unique.
func validateRepositories(repos []RepositoryConfig) []error {
	var errs []error

	seen := make(map[string]int, len(repos))

	for i, r := range repos {
		if r.Path == "" {
			continue
		}

		canonical, err := repopath.Canonicalize(r.Path)
		if err != nil {
			errs = append(errs, fmt.Errorf("repository[%d].path: %w", i, err))
			continue
		}

		if j, dup := seen[canonical]; dup {
			errs = append(errs, fmt.Errorf("repository[%d].path: duplicates repository[%d] (%q)", i, j, r.Path))
			continue
		}

		seen[canonical] = i
	}

	return errs
}
