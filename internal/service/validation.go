package service

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// userIDPattern keeps user ids usable inside a DNS label (bot-<id>-<millis>).
var userIDPattern = regexp.MustCompile(`^[a-zA-Z0-9-]{1,32}$`)

var fieldLabels = map[string]string{
	"user_id":           "User ID",
	"discord_token":     "Discord token",
	"discord_client_id": "Discord client ID",
	"discord_owner_id":  "Discord owner ID",
	"name":              "Account name",
	"api_key":           "API key",
	"app_id":            "App ID",
	"instance_type":     "Instance type",
	"password":          "Password",
	"enabled":           "Enabled",
	"action":            "Action",
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// DTOs carry gin's binding tags
	v.SetTagName("binding")
	RegisterJSONFieldNames(v)
	return v
}

// RegisterJSONFieldNames makes v report fields by their json name.
func RegisterJSONFieldNames(v *validator.Validate) {
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
}

// ValidateStruct checks the binding tags of s.
func ValidateStruct(s any) error {
	if err := validate.Struct(s); err != nil {
		return TranslateValidation(err)
	}
	return nil
}

// TranslateValidation turns the first validator failure into a *ValidationError.
// Other errors are returned unchanged.
func TranslateValidation(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	label, ok := fieldLabels[fe.Field()]
	if !ok {
		label = fe.Field()
	}

	var msg string
	switch fe.Tag() {
	case "required":
		msg = label + " is required"
	case "max":
		msg = fmt.Sprintf("%s must be at most %s characters", label, fe.Param())
	case "oneof":
		msg = fmt.Sprintf("%s must be one of: %s", label, strings.ReplaceAll(fe.Param(), " ", ", "))
	default:
		msg = label + " is invalid"
	}
	return &ValidationError{Field: fe.Field(), Message: msg}
}

func validateUserID(userID string) error {
	if userID == "" {
		return invalid("user_id", "User ID is required")
	}
	if !userIDPattern.MatchString(userID) {
		return invalid("user_id", "User ID must be 1-32 characters of letters, digits or hyphens")
	}
	return nil
}
