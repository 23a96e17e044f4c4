package config

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

// ValidatorSvc holds the shared validator and its English translator
type ValidatorSvc struct {
	Validator  *validator.Validate
	Translator ut.Translator
}

var (
	vOnce sync.Once
	vSvc  *ValidatorSvc

	identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
)

// Validator returns the singleton, building it on first use. Field names in
// messages come from the yaml tag, then the form tag, then the Go name.
func Validator() *ValidatorSvc {
	vOnce.Do(func() {
		enLoc := en.New()
		uni := ut.New(enLoc, enLoc)
		trans, _ := uni.GetTranslator("en")

		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			for _, key := range []string{"yaml", "form"} {
				tag := fld.Tag.Get(key)
				if idx := strings.Index(tag, ","); idx >= 0 {
					tag = tag[:idx]
				}
				if tag != "" && tag != "-" {
					return tag
				}
			}
			return fld.Name
		})

		_ = en_translations.RegisterDefaultTranslations(v, trans)

		_ = v.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
			return identRe.MatchString(fl.Field().String())
		})
		_ = v.RegisterTranslation("identifier", trans,
			func(ut ut.Translator) error {
				return ut.Add("identifier", "{0} must be a plain SQL identifier", true)
			},
			func(ut ut.Translator, fe validator.FieldError) string {
				t, _ := ut.T("identifier", fe.Field())
				return t
			})

		vSvc = &ValidatorSvc{Validator: v, Translator: trans}
	})
	return vSvc
}

// Validate checks v against its validate tags and returns one error holding
// every translated message, joined by "; ".
func Validate(v any) error {
	svc := Validator()
	err := svc.Validator.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fe.Translate(svc.Translator))
	}
	return errors.New(strings.Join(msgs, "; "))
}
