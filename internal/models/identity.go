package models

import (
	"errors"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

const identityDigits = 11

var (
	nonDigits         = regexp.MustCompile(`\D`)
	formattedIdentity = regexp.MustCompile(`^\d{3}\.\d{3}\.\d{3}-\d{2}$`)

	validate   *validator.Validate
	translator ut.Translator

	notBlankTag = "notblank"
	identityTag = "identity"
)

// LoginInput is the credential pair typed by the user, after normalisation.
type LoginInput struct {
	Token      string `json:"token" validate:"required,notblank"`
	IdentityID string `json:"identity" validate:"required,identity"`
}

func init() {
	validate = validator.New()

	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ = uni.GetTranslator("en")
	_ = en_translations.RegisterDefaultTranslations(validate, translator)

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation(notBlankTag, func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = validate.RegisterValidation(identityTag, func(fl validator.FieldLevel) bool {
		return formattedIdentity.MatchString(fl.Field().String())
	})

	registerFn := func(ut.Translator) error { return nil }
	for _, tag := range []string{notBlankTag, identityTag} {
		_ = validate.RegisterTranslation(tag, translator, registerFn, translateCustom)
	}
}

func translateCustom(_ ut.Translator, fe validator.FieldError) string {
	switch fe.Tag() {
	case notBlankTag:
		return fe.Field() + " cannot be blank"
	case identityTag:
		return fe.Field() + " must have exactly 11 digits"
	default:
		return ""
	}
}

// NewLoginInput normalises the raw token and identity typed by the user.
func NewLoginInput(rawIdentity, rawToken string) LoginInput {
	return LoginInput{
		Token:      NormalizeToken(rawToken),
		IdentityID: FormatIdentity(rawIdentity),
	}
}

// Validate checks the normalised input and returns one readable message per invalid field.
func (in LoginInput) Validate() error {
	err := validate.Struct(in)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fe.Translate(translator))
	}
	return errors.New(strings.Join(msgs, "; "))
}

// FormatIdentity strips everything but digits, keeps the first 11 and renders them as
// ###.###.###-##. Shorter inputs are returned as bare digits.
func FormatIdentity(raw string) string {
	digits := nonDigits.ReplaceAllString(raw, "")
	if len(digits) > identityDigits {
		digits = digits[:identityDigits]
	}
	if len(digits) != identityDigits {
		return digits
	}
	return digits[0:3] + "." + digits[3:6] + "." + digits[6:9] + "-" + digits[9:11]
}

// NormalizeToken trims surrounding space and upper-cases the token.
func NormalizeToken(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}
