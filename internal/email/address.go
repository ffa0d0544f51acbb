package email

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"
)

// validate is safe for concurrent use; a cases.Caser is not, so each call
// builds its own.
var validate = validator.New()

// ValidAddress reports whether addr is a syntactically valid email address.
func ValidAddress(addr string) bool {
	return validate.Var(addr, "required,email,max=320") == nil
}

// NormalizeAddress trims and case-folds addr so that addresses differing
// only in case map to the same subscriber.
func NormalizeAddress(addr string) string {
	return cases.Fold().String(strings.TrimSpace(addr))
}
