package httpapi

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return isValidPhone(fl.Field().String())
	})
	return v
}

// validationMessage reports the first failed field in request terms.
func validationMessage(err error) string {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return "invalid request"
	}
	field := errs[0]
	switch field.Tag() {
	case "phone":
		return field.Field() + " must be 8-16 digits"
	case "required":
		if strings.Contains(field.Namespace(), "items[") {
			return field.Field() + " is required for every item"
		}
		return field.Field() + " is required"
	default:
		return field.Field() + " is invalid"
	}
}

func (req *checkoutRequest) trim() {
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.CustomerPhone = strings.TrimSpace(req.CustomerPhone)
	req.Notes = strings.TrimSpace(req.Notes)
	for i := range req.Items {
		req.Items[i].MenuItemID = strings.TrimSpace(req.Items[i].MenuItemID)
		req.Items[i].MenuItemName = strings.TrimSpace(req.Items[i].MenuItemName)
		req.Items[i].Notes = strings.TrimSpace(req.Items[i].Notes)
	}
}

func isValidPhone(value string) bool {
	digits := strings.TrimPrefix(value, "+")
	if len(digits) < 8 || len(digits) > 16 {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
