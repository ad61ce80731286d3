package mapping

import (
	"fmt"
	"strings"

	"smartetl/internal/schema"
)

// Result is the outcome of Validate.
type Result struct {
	Valid           bool     `json:"valid"`
	MissingRequired []string `json:"missing_required_fields"`
}

// Validate reports whether every required field of cat has at least one
// selected source. MissingRequired holds display names of the violators.
func Validate(cfg Config, cat *schema.Catalog) Result {
	missing := []string{}
	for _, f := range cat.Fields() {
		if f.Required && len(cfg[f.Key].Sources) == 0 {
			missing = append(missing, f.DisplayName)
		}
	}
	return Result{Valid: len(missing) == 0, MissingRequired: missing}
}

// ValidationError is returned when a mapping is used before its required
// fields are mapped. It is recoverable by editing the mapping.
type ValidationError struct {
	MissingRequired []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("mapping: required fields not mapped: %s", strings.Join(e.MissingRequired, ", "))
}
