package iati

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate is shared; validator caches struct metadata per instance.
var Validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateRow checks a payload row against its struct tags. The returned map
// is keyed by field name with the failing rule as value.
func ValidateRow(row interface{}) (map[string]string, error) {
	err := Validate.Struct(row)
	if err == nil {
		return nil, nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil, err
	}

	failures := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		failures[fe.Namespace()] = rule
	}
	return failures, fmt.Errorf("invalid %T: %s", row, describe(failures))
}

// ValidateRequest checks the request envelope
func ValidateRequest(req *Request) error {
	if strings.TrimSpace(req.ActivityID) == "" {
		return errors.New("activityId is required")
	}
	if _, err := ValidateRow(req); err != nil {
		return err
	}
	return nil
}

func describe(failures map[string]string) string {
	keys := make([]string, 0, len(failures))
	for k := range failures {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" ("+failures[k]+")")
	}
	return strings.Join(parts, ", ")
}
