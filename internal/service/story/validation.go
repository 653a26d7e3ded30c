package story

import (
	"strings"

	"branchtale/internal/domain/models"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// oneOf builds an ozzo In rule over a typed enumeration
func oneOf[T ~string](values []T) validation.Rule {
	allowed := make([]interface{}, len(values))
	names := make([]string, len(values))
	for i, v := range values {
		allowed[i] = v
		names[i] = string(v)
	}
	return validation.In(allowed...).Error("must be one of: " + strings.Join(names, ", "))
}

var (
	personaRule    = oneOf(models.Personas)
	atmosphereRule = oneOf(models.Atmospheres)
	languageRule   = oneOf(models.Languages)
)
