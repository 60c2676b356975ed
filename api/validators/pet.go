package validators

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const dateLayout = "2006-01-02"

var (
	petNamePattern  = regexp.MustCompile(`^[a-zA-Z0-9]{3,20}$`)
	categoryPattern = regexp.MustCompile(`^[a-zA-Z]{3,15}$`)
	breedPattern    = regexp.MustCompile(`^[a-zA-Z ]{5,25}$`)
	vaccinePattern  = regexp.MustCompile(`^[a-zA-Z\- ]{5,50}$`)
	tagPattern      = regexp.MustCompile(`^[a-zA-Z\-]{3,15}$`)
)

var petRuleMessages = map[string]string{
	"pet_name":     "must be 3-20 letters or digits",
	"pet_category": "must be 3-15 letters",
	"pet_breed":    "must be 5-25 letters or spaces",
	"pet_dob":      "must be a date formatted YYYY-MM-DD",
	"pet_vaccine":  "must be 5-50 letters, spaces or hyphens",
	"pet_tag":      "must be 3-15 letters or hyphens",
}

func registerPetRules(v *validator.Validate) {
	patterns := map[string]*regexp.Regexp{
		"pet_name":     petNamePattern,
		"pet_category": categoryPattern,
		"pet_breed":    breedPattern,
		"pet_vaccine":  vaccinePattern,
		"pet_tag":      tagPattern,
	}
	for tag, pattern := range patterns {
		mustRegister(v, tag, func(fl validator.FieldLevel) bool {
			return pattern.MatchString(fl.Field().String())
		})
	}
	mustRegister(v, "pet_dob", func(fl validator.FieldLevel) bool {
		_, err := time.Parse(dateLayout, fl.Field().String())
		return err == nil
	})
}

// mustRegister panics on a bad rule; rules are registered once at startup.
func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register validation %q: %v", tag, err))
	}
}

// SanitizeString trims, collapses inner whitespace runs and caps the result
// at maxLen runes. maxLen <= 0 disables the cap.
func SanitizeString(input string, maxLen int) string {
	out := strings.Join(strings.Fields(input), " ")
	if maxLen > 0 {
		if runes := []rune(out); len(runes) > maxLen {
			out = strings.TrimSpace(string(runes[:maxLen]))
		}
	}
	return out
}
