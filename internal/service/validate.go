package service

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kkkkikiki/burnpromo/internal/ledger"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	// Use JSON tag names in error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	validate.RegisterValidation("txhash", func(fl validator.FieldLevel) bool {
		_, err := ledger.ParseTxHash(fl.Field().String())
		return err == nil
	})
}

// validateRequest validates a request message and joins every field error
// into one message, ordered by field name
func validateRequest(s interface{}) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+": This field is required")
		case "txhash":
			msgs = append(msgs, field+": Must be a 0x-prefixed 32-byte hex hash")
		case "min":
			msgs = append(msgs, fmt.Sprintf("%s: Value is too small (min: %s)", field, fe.Param()))
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s: Value is too large (max: %s)", field, fe.Param()))
		default:
			msgs = append(msgs, field+": Invalid value")
		}
	}
	sort.Strings(msgs)
	return errors.New(strings.Join(msgs, "; "))
}
