package bot

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/KITA-DS12/hackathon-mentor-bot/internal/models"
)

// NewValidator returns a validator with the bot's choice tags registered.
func NewValidator() *validator.Validate {
	v := validator.New()
	register := func(tag string, allowed func(string) bool) {
		// Registration only fails for an empty tag or nil func.
		_ = v.RegisterValidation(tag, func(fl validator.FieldLevel) bool {
			return allowed(fl.Field().String())
		})
	}
	register("category", func(s string) bool { return contains(Categories, s) })
	register("urgency", func(s string) bool { return contains(urgencies, s) })
	register("consultation", func(s string) bool { return contains(consultations, s) })
	register("availability", models.ValidAvailability)
	return v
}

// registration is the validated input of the mentor registration form.
type registration struct {
	Name         string `validate:"required,max=64"`
	Bio          string `validate:"max=500"`
	Availability string `validate:"required,availability"`
}

var (
	draftFields = map[string]string{
		"TeamName":         fieldTeam,
		"Content":          fieldContent,
		"Category":         fieldCategory,
		"Urgency":          fieldUrgency,
		"ConsultationType": fieldConsult,
		"Situation":        fieldSituation,
		"Links":            fieldLinks,
		"ErrorText":        fieldError,
	}
	registrationFields = map[string]string{
		"Name":         fieldMentorName,
		"Bio":          fieldMentorBio,
		"Availability": fieldAvailability,
	}
)

// fieldErrors validates s and maps failures onto form field ids via names.
// A nil map means s is valid.
func (h *Handler) fieldErrors(s interface{}, names map[string]string) (map[string]string, error) {
	err := h.validate.Struct(s)
	if err == nil {
		return nil, nil
	}
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return nil, fmt.Errorf("bot: validate: %w", err)
	}
	out := make(map[string]string, len(ves))
	for _, fe := range ves {
		id, ok := names[fe.StructField()]
		if !ok {
			continue
		}
		if _, seen := out[id]; !seen {
			out[id] = describe(fe)
		}
	}
	return out, nil
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "入力してください"
	case "max":
		return fmt.Sprintf("%s文字以内で入力してください", fe.Param())
	}
	return "選択肢から選んでください"
}
