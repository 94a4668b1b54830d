package validator

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	govalidator "github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/stemsi/exstem-proctor/internal/model"
)

var connectionIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// trans is the English translator for validation errors.
var trans ut.Translator

// domainRules are the proctoring-specific tags and their messages.
var domainRules = []struct {
	tag     string
	fn      govalidator.Func
	message string
}{
	{"connection_id", validConnectionID, "{0} must be 1-128 letters, digits or . _ : -"},
	{"signal_type", validSignalType, "{0} must be one of offer, answer, candidate, restart"},
	{"answer_patch", validAnswerPatch, "{0} must map non-empty question ids to at most 500 answers"},
}

// Setup registers the validator with English translations and the domain tags
// on Gin's binding engine. Call once during application startup.
func Setup() {
	v, ok := binding.Validator.Engine().(*govalidator.Validate)
	if !ok {
		return
	}

	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	enLocale := en.New()
	uni := ut.New(enLocale, enLocale)
	trans, _ = uni.GetTranslator("en")
	en_translations.RegisterDefaultTranslations(v, trans)

	for _, rule := range domainRules {
		_ = v.RegisterValidation(rule.tag, rule.fn)
		message := rule.message
		_ = v.RegisterTranslation(rule.tag, trans,
			func(t ut.Translator) error { return t.Add(rule.tag, message, true) },
			func(t ut.Translator, fe govalidator.FieldError) string {
				msg, _ := t.T(fe.Tag(), fe.Field())
				return msg
			},
		)
	}
}

func validConnectionID(fl govalidator.FieldLevel) bool {
	return connectionIDPattern.MatchString(fl.Field().String())
}

func validSignalType(fl govalidator.FieldLevel) bool {
	return model.SignalType(fl.Field().String()).Valid()
}

func validAnswerPatch(fl govalidator.FieldLevel) bool {
	patch, ok := fl.Field().Interface().(model.Answers)
	return ok && patch.CheckPatch() == nil
}

// TranslateErrors turns a binding error into field name -> message. Errors
// that are not validation errors (bad JSON, a malformed answer value) are
// reported under "detail".
func TranslateErrors(err error) map[string]string {
	fields := make(map[string]string)

	var ve govalidator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			if trans == nil {
				fields[fe.Field()] = fe.Error()
				continue
			}
			fields[fe.Field()] = fe.Translate(trans)
		}
		return fields
	}

	fields["detail"] = err.Error()
	return fields
}

// Bind binds and validates the request body into dst.
// Returns nil on success or a translated field error map on failure.
func Bind(c *gin.Context, dst any) map[string]string {
	if err := c.ShouldBindJSON(dst); err != nil {
		return TranslateErrors(err)
	}
	return nil
}
