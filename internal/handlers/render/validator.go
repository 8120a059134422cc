package render

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/osmakov/creditgate/internal/models"
)

func configureValidator(validate *validator.Validate) {
	_ = validate.RegisterValidation("outcome", validateOutcomeClass)
	validate.RegisterTagNameFunc(useJSONTagNames)
}

func useJSONTagNames(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	// skip if tag key says it should be ignored
	if name == "-" {
		return ""
	}
	return name
}

// Outcome classes the submission layer may report for a card
func validateOutcomeClass(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case models.OutcomeApproved, models.OutcomeLive, models.OutcomeDead,
		models.OutcomeDeclined, models.OutcomeError, models.OutcomeCaptcha:
		return true
	default:
		return false
	}
}
