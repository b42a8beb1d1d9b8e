package handler

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

// formatValidationErrors maps each failing field to the rule it broke.
// Nested fields keep their path below the request struct, e.g.
// "requests[0].title".
func formatValidationErrors(err error) interface{} {
	if validationErrors, ok := err.(validator.ValidationErrors); ok {
		errors := make(map[string]string)
		for _, e := range validationErrors {
			errors[fieldPath(e.Namespace())] = e.Tag()
		}
		return errors
	}
	return nil
}

func fieldPath(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	parts := strings.Split(ns, ".")
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToLower(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, ".")
}
