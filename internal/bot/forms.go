package bot

import (
	"encoding/json"
	"fmt"

	"github.com/KITA-DS12/hackathon-mentor-bot/internal/chat"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/models"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/reservation"
)

// Form callback ids.
const (
	CallbackQuestionType = "question_type_selection_modal"
	CallbackCategory     = "category_selection_modal"
	CallbackTemplate     = "template_question_modal"
	CallbackQuestion     = "question_modal"
	CallbackReservation  = "reservation_modal"
	CallbackRegistration = "mentor_registration_modal"
	CallbackStatus       = "status_modal"
)

// Question types offered by the first wizard step.
const (
	TypeFree     = "free"
	TypeSimple   = "simple"
	TypeTemplate = "template"
)

// Form field ids.
const (
	fieldType         = "question_type"
	fieldCategory     = "category"
	fieldTeam         = "team_name"
	fieldContent      = "question_content"
	fieldUrgency      = "urgency"
	fieldConsult      = "consultation_type"
	fieldTiming       = "timing"
	fieldSituation    = "current_situation"
	fieldLinks        = "related_links"
	fieldError        = "error_message"
	fieldSummary      = "question_summary"
	fieldAdditional   = "additional_info"
	fieldReservation  = "reservation_time"
	fieldAutoResolve  = "auto_resolve_check"
	fieldMentorName   = "mentor_name"
	fieldMentorBio    = "mentor_bio"
	fieldAvailability = "initial_availability"
	fieldStatus       = "availability_status"

	templateFieldPrefix = "template_field_"
)

// Draft is a question that has been filled in but not yet persisted. It is
// carried between the question form and the reservation form.
type Draft struct {
	TeamName         string `json:"team_name" validate:"required,max=128"`
	Content          string `json:"content" validate:"required,max=2800"`
	Category         string `json:"category" validate:"required,category"`
	Urgency          string `json:"urgency" validate:"required,urgency"`
	ConsultationType string `json:"consultation_type" validate:"required,consultation"`
	Situation        string `json:"situation,omitempty" validate:"max=1000"`
	Links            string `json:"links,omitempty" validate:"max=1000"`
	ErrorText        string `json:"error_text,omitempty" validate:"max=2000"`
}

// Question builds an unsaved question for asker from the draft.
func (d Draft) Question(askerID, sourceChannel, mode string) *models.Question {
	return &models.Question{
		AskerID:          askerID,
		TeamName:         d.TeamName,
		Content:          d.Content,
		Category:         d.Category,
		Urgency:          d.Urgency,
		ConsultationType: d.ConsultationType,
		ConsultationMode: mode,
		Situation:        d.Situation,
		Links:            d.Links,
		ErrorText:        d.ErrorText,
		SourceChannelRef: sourceChannel,
	}
}

// WizardContext is the state carried in form metadata from one wizard step
// to the next.
type WizardContext struct {
	SourceChannel string `json:"source_channel,omitempty"`
	Type          string `json:"type,omitempty"`
	Category      string `json:"category,omitempty"`
	Draft         *Draft `json:"draft,omitempty"`
}

// Encode serialises w for a form's metadata.
func (w WizardContext) Encode() string {
	b, err := json.Marshal(w)
	if err != nil {
		return ""
	}
	return string(b)
}

// DecodeWizard parses form metadata. Empty metadata yields a zero context.
func DecodeWizard(metadata string) (WizardContext, error) {
	var w WizardContext
	if metadata == "" {
		return w, nil
	}
	if err := json.Unmarshal([]byte(metadata), &w); err != nil {
		return WizardContext{}, fmt.Errorf("bot: decode wizard context: %w", err)
	}
	return w, nil
}

var timingOptions = []chat.Option{
	{Value: models.ModeImmediate, Label: "今すぐ相談"},
	{Value: models.ModeReservation, Label: "時間を指定して相談（予約）"},
}

var availabilityOptions = []chat.Option{
	{Value: models.AvailabilityAvailable, Label: AvailabilityLabel(models.AvailabilityAvailable)},
	{Value: models.AvailabilityBusy, Label: AvailabilityLabel(models.AvailabilityBusy)},
	{Value: models.AvailabilityOffline, Label: AvailabilityLabel(models.AvailabilityOffline)},
}

func typeForm() chat.Form {
	return chat.Form{
		CallbackID: CallbackQuestionType,
		Title:      "質問方法を選択",
		Submit:     "次へ",
		Fields: []chat.Field{
			{ID: "intro", Kind: chat.FieldInfo, Label: "*どのように質問しますか？*"},
			{
				ID:    fieldType,
				Label: "質問方法",
				Kind:  chat.FieldSelect,
				Options: []chat.Option{
					{Value: TypeFree, Label: "💬 自由に質問する"},
					{Value: TypeSimple, Label: "📝 カテゴリを選んで質問する"},
					{Value: TypeTemplate, Label: "📋 テンプレートを使って質問する"},
				},
				Initial: TypeSimple,
			},
		},
	}
}

func categoryForm() chat.Form {
	opts := make([]chat.Option, 0, len(Templates))
	for _, t := range Templates {
		opts = append(opts, chat.Option{Value: t.Category, Label: t.Category})
	}
	return chat.Form{
		CallbackID: CallbackCategory,
		Title:      "カテゴリを選択",
		Submit:     "次へ",
		Fields: []chat.Field{
			{ID: "intro", Kind: chat.FieldInfo, Label: "*質問のカテゴリを選んでください*\n選んだカテゴリに合わせた入力項目が表示されます。"},
			{ID: fieldCategory, Label: "カテゴリ", Kind: chat.FieldSelect, Options: opts},
		},
	}
}

// questionForm is the single-page form. The free variant drops the
// category, urgency and consultation selectors.
func questionForm(free bool) chat.Form {
	fields := []chat.Field{
		{ID: fieldTeam, Label: "チーム名", Kind: chat.FieldText, Placeholder: "例: チームA"},
		{ID: fieldContent, Label: "質問内容", Kind: chat.FieldTextarea, Placeholder: "困っていることを具体的に書いてください"},
	}
	if !free {
		fields = append(fields,
			chat.Field{ID: fieldCategory, Label: "カテゴリ", Kind: chat.FieldSelect, Options: options(Categories), Initial: DefaultCategory},
			chat.Field{ID: fieldUrgency, Label: "緊急度", Kind: chat.FieldSelect, Options: options(urgencies), Initial: DefaultUrgency},
			chat.Field{ID: fieldConsult, Label: "相談方法", Kind: chat.FieldSelect, Options: options(consultations), Initial: DefaultConsult},
		)
	}
	fields = append(fields,
		chat.Field{ID: fieldTiming, Label: "相談タイミング", Kind: chat.FieldSelect, Options: timingOptions, Initial: models.ModeImmediate},
		chat.Field{ID: fieldSituation, Label: "現在の状況", Kind: chat.FieldTextarea, Optional: true, Placeholder: "試したこと、現在の状態など"},
		chat.Field{ID: fieldLinks, Label: "関連リンク", Kind: chat.FieldText, Optional: true, Placeholder: "GitHubリポジトリ、参考URLなど"},
		chat.Field{ID: fieldError, Label: "エラーメッセージ", Kind: chat.FieldTextarea, Optional: true},
	)
	return chat.Form{
		CallbackID: CallbackQuestion,
		Title:      "メンターに質問する",
		Submit:     "送信",
		Fields:     fields,
	}
}

func templateForm(t Template) chat.Form {
	fields := []chat.Field{
		{ID: "intro", Kind: chat.FieldInfo, Label: fmt.Sprintf("*%s*\n%s", t.Category, t.Description)},
		{ID: fieldTeam, Label: "チーム名", Kind: chat.FieldText, Placeholder: "例: チームA"},
		{ID: fieldSummary, Label: "問題サマリー", Kind: chat.FieldText, Placeholder: "一言で言うと何に困っていますか？"},
	}
	for _, f := range t.Fields {
		kind := chat.FieldText
		if f.Multiline {
			kind = chat.FieldTextarea
		}
		fields = append(fields, chat.Field{
			ID:          templateFieldPrefix + f.ID,
			Label:       f.Label,
			Kind:        kind,
			Placeholder: f.Placeholder,
			Optional:    !f.Required,
		})
	}
	fields = append(fields,
		chat.Field{ID: fieldUrgency, Label: "緊急度", Kind: chat.FieldSelect, Options: options(urgencies), Initial: DefaultUrgency},
		chat.Field{ID: fieldConsult, Label: "相談方法", Kind: chat.FieldSelect, Options: options(consultations), Initial: DefaultConsult},
		chat.Field{ID: fieldTiming, Label: "相談タイミング", Kind: chat.FieldSelect, Options: timingOptions, Initial: models.ModeImmediate},
		chat.Field{ID: fieldAdditional, Label: "補足情報", Kind: chat.FieldTextarea, Optional: true},
	)
	return chat.Form{
		CallbackID: CallbackTemplate,
		Title:      "質問テンプレート",
		Submit:     "送信",
		Fields:     fields,
	}
}

func reservationForm(morningHour int) chat.Form {
	return chat.Form{
		CallbackID: CallbackReservation,
		Title:      "相談の予約",
		Submit:     "予約する",
		Fields: []chat.Field{
			{ID: "intro", Kind: chat.FieldInfo, Label: "*いつメンターに質問を送りますか？*\n指定した時間になると質問がメンターチャンネルに投稿されます。"},
			{ID: fieldReservation, Label: "相談時間", Kind: chat.FieldSelect, Options: reservation.Choices(morningHour), Initial: reservation.Offset30Min},
			{
				ID:       fieldAutoResolve,
				Label:    "自己解決チェック",
				Kind:     chat.FieldCheckbox,
				Options:  []chat.Option{{Value: "true", Label: "予約時間に自己解決できたか確認する"}},
				Optional: true,
			},
		},
	}
}

func registrationForm(existing *models.Mentor) chat.Form {
	name, bio, availability := "", "", models.AvailabilityAvailable
	if existing != nil {
		name, bio, availability = existing.DisplayName, existing.Bio, existing.Availability
	}
	return chat.Form{
		CallbackID: CallbackRegistration,
		Title:      "メンター登録",
		Submit:     "登録",
		Fields: []chat.Field{
			{ID: fieldMentorName, Label: "表示名", Kind: chat.FieldText, Initial: name},
			{ID: fieldMentorBio, Label: "得意分野・自己紹介", Kind: chat.FieldTextarea, Initial: bio, Optional: true},
			{ID: fieldAvailability, Label: "対応状況", Kind: chat.FieldSelect, Options: availabilityOptions, Initial: availability},
		},
	}
}

func statusForm(current string) chat.Form {
	if !models.ValidAvailability(current) {
		current = models.AvailabilityAvailable
	}
	return chat.Form{
		CallbackID: CallbackStatus,
		Title:      "ステータス変更",
		Submit:     "変更",
		Fields: []chat.Field{
			{ID: fieldStatus, Label: "対応状況", Kind: chat.FieldSelect, Options: availabilityOptions, Initial: current},
		},
	}
}
