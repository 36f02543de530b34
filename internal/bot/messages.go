package bot

import (
	"errors"
	"fmt"
	"strings"

	"github.com/KITA-DS12/hackathon-mentor-bot/internal/chat"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/followup"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/lifecycle"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/models"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/reservation"
)

// Action ids of the buttons this package renders.
const (
	ActionStartResponse      = "start_response"
	ActionPauseResponse      = "pause_response"
	ActionResumeResponse     = "resume_response"
	ActionReleaseAssignment  = "release_assignment"
	ActionCompleteResponse   = "complete_response"
	ActionMarkResolvedByUser = "mark_resolved_by_asker"
	ActionConfirmUnregister  = "confirm_unregister"
	ActionCancelUnregister   = "cancel_unregister"
)

// User-facing replies.
const (
	msgSubmitted          = "質問を送信しました。メンターからの返答をお待ちください。"
	msgSubmitFailed       = "❌ 質問の処理中にエラーが発生しました。もう一度お試しください。"
	msgPostRetrying       = "⚠️ 質問は受け付けましたが、メンターへの投稿に失敗しました。自動で再投稿します。"
	msgNotFound           = "質問が見つかりません。時間をおいて再度お試しください。"
	msgNotAssigned        = "この質問はあなたが担当していません。"
	msgNotAsker           = "この操作は質問者のみ実行できます。"
	msgAlreadyCompleted   = "この質問は既に解決済みです。"
	msgAlreadyHandled     = "この質問は既に他のメンターが対応中です。"
	msgNotPaused          = "この質問は中断状態ではありません。"
	msgNotInProgress      = "この質問は対応中ではありません。"
	msgNotReleasable      = "この質問は担当解除できない状態です。"
	msgInvalidState       = "この操作は現在の状態では実行できません。"
	msgDependency         = "処理中にエラーが発生しました。もう一度お試しください。"
	msgAskerResolved      = "✅ 解決済みとしてマークしました。"
	msgFollowUpResolved   = "✅ 質問を解決済みとしてマークしました。お疲れ様でした！"
	msgFollowUpUnresolved = "📝 回答を記録しました。引き続きサポートいたします。"
	msgSelfResolved       = "✅ 質問を自力解決済みとしてマークしました。お疲れ様でした！"
	msgSentToMentor       = "❓ 質問をメンターに送信しました。返答をお待ちください。"
	msgAlreadySent        = "この質問は既にメンターに送信済みです。"
	msgUnregisterCanceled = "✅ メンター登録解除をキャンセルしました。\n\nメンター登録は継続されます。"
	msgNotMentor          = "メンターとして登録されていません。`/mentor-register` で登録してください。"
	msgWizardLost         = "入力内容が失われました。最初からやり直してください。"
)

// UserMessage maps an operation error to the reply shown to the acting user.
func UserMessage(err error) string {
	var reason string
	var le *lifecycle.Error
	if errors.As(err, &le) {
		reason = le.Reason
	}
	switch lifecycle.KindOf(err) {
	case lifecycle.NotFound:
		return msgNotFound
	case lifecycle.NotAssigned:
		if reason == lifecycle.ReasonNotAsker {
			return msgNotAsker
		}
		return msgNotAssigned
	case lifecycle.AlreadyCompleted:
		return msgAlreadyCompleted
	case lifecycle.InvalidState:
		switch reason {
		case lifecycle.ReasonAlreadyHandled:
			return msgAlreadyHandled
		case lifecycle.ReasonNotPaused:
			return msgNotPaused
		case lifecycle.ReasonNotInProgress:
			return msgNotInProgress
		case lifecycle.ReasonNotReleasable:
			return msgNotReleasable
		case lifecycle.ReasonAlreadyCompleted:
			return msgAlreadyCompleted
		}
		return msgInvalidState
	}
	return msgDependency
}

// AvailabilityEmoji returns the roster marker of a mentor availability.
func AvailabilityEmoji(a string) string {
	switch a {
	case models.AvailabilityAvailable:
		return "🟢"
	case models.AvailabilityBusy:
		return "🟡"
	case models.AvailabilityOffline:
		return "🔴"
	}
	return "⚪"
}

// AvailabilityLabel returns the display label of a mentor availability.
func AvailabilityLabel(a string) string {
	switch a {
	case models.AvailabilityAvailable:
		return "🟢 対応可能"
	case models.AvailabilityBusy:
		return "🟡 忙しい"
	case models.AvailabilityOffline:
		return "🔴 対応不可"
	}
	return a
}

func timestamp(q *models.Question) string {
	return fmt.Sprintf("<!date^%d^{date_short_pretty} {time}|%s>", q.CreatedAt.Unix(), q.CreatedAt.Format("2006-01-02 15:04"))
}

// questionSections lists the body of a question: who asked, how urgent,
// what, and any optional context.
func questionSections(q *models.Question) []string {
	sections := []string{
		fmt.Sprintf("*質問者:* <@%s>\n*チーム:* %s\n*緊急度:* %s\n*相談方法:* %s", q.AskerID, orDash(q.TeamName), orDash(q.Urgency), orDash(q.ConsultationType)),
		"*質問内容:*\n" + q.Content,
	}
	if q.Situation != "" {
		sections = append(sections, "*現在の状況:*\n"+q.Situation)
	}
	if q.Links != "" {
		sections = append(sections, "*関連リンク:*\n"+q.Links)
	}
	if q.ErrorText != "" {
		sections = append(sections, "*エラーメッセージ:*\n```"+q.ErrorText+"```")
	}
	return sections
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// questionMessage is the post in the mentor channel that mentors claim from.
func questionMessage(q *models.Question, header string) chat.Message {
	title := fmt.Sprintf("*%s 新しい質問 - %s*", lifecycle.StatusEmoji(q.Status), orDash(q.Category))
	if q.IsReservation() {
		title = "⏰ 予約された質問です\n" + title
	}
	return chat.Message{
		Text:     header,
		Sections: append([]string{title}, questionSections(q)...),
		Context:  fmt.Sprintf("質問ID: %s | 作成: %s", q.ID, timestamp(q)),
		Buttons: []chat.Button{
			{ActionID: ActionStartResponse, Label: "対応開始", Value: q.ID, Style: chat.StylePrimary},
			{ActionID: followup.ActionDetails, Label: "詳細確認", Value: q.ID},
		},
	}
}

// channelNotice tells the mentor channel about a question posted elsewhere.
func channelNotice(q *models.Question, channel, header string) chat.Message {
	return chat.Message{
		Text:     header,
		Sections: []string{fmt.Sprintf("<#%s> に <@%s> さんから質問が投稿されました。\n*カテゴリ:* %s", channel, q.AskerID, orDash(q.Category))},
		Context:  "質問ID: " + q.ID,
		Buttons: []chat.Button{
			{ActionID: ActionStartResponse, Label: "対応開始", Value: q.ID, Style: chat.StylePrimary},
			{ActionID: followup.ActionDetails, Label: "詳細確認", Value: q.ID},
		},
	}
}

func detailsMessage(q *models.Question) chat.Message {
	status := fmt.Sprintf("*ステータス:* %s %s", lifecycle.StatusEmoji(q.Status), lifecycle.StatusLabel(q.Status))
	if ids := q.MentorIDs(); len(ids) > 0 {
		status += "\n*担当メンター:* " + lifecycle.Mentions(ids)
	}
	if q.ReservationTime != "" {
		status += "\n*予約:* " + q.ReservationTime
	}
	return chat.Message{
		Text:     fmt.Sprintf("*📄 質問の詳細 - %s*", orDash(q.Category)),
		Sections: append(questionSections(q), status),
		Context:  fmt.Sprintf("質問ID: %s | 作成: %s", q.ID, timestamp(q)),
	}
}

func threadInvite(q *models.Question, mentorID string) chat.Message {
	return chat.Message{
		Text:      fmt.Sprintf("<@%s> <@%s> 質問の対応を開始しました。このスレッドで相談を進めます。", q.AskerID, mentorID),
		Sections:  []string{"*質問内容:*\n" + q.Content},
		ThreadRef: q.MessageRef,
		Buttons: []chat.Button{
			{ActionID: ActionPauseResponse, Label: "中断", Value: q.ID, Style: chat.StyleDanger},
			{ActionID: ActionCompleteResponse, Label: "完了", Value: q.ID, Style: chat.StylePrimary},
			{ActionID: ActionReleaseAssignment, Label: "担当解除", Value: q.ID},
		},
	}
}

func resumePrompt(q *models.Question, mentorID string) chat.Message {
	return chat.Message{
		Text:      fmt.Sprintf("⏸ <@%s>が対応を一時中断しました。再開する場合は下のボタンを押してください。", mentorID),
		ThreadRef: q.MessageRef,
		Buttons: []chat.Button{
			{ActionID: ActionResumeResponse, Label: "再開", Value: q.ID, Style: chat.StylePrimary},
			{ActionID: ActionReleaseAssignment, Label: "担当解除", Value: q.ID},
		},
	}
}

func submittedMessage(q *models.Question) chat.Message {
	return chat.Message{
		Text:     msgSubmitted,
		Sections: []string{"*質問内容:*\n" + q.Content},
		Context:  "質問ID: " + q.ID,
		Buttons: []chat.Button{
			{ActionID: ActionMarkResolvedByUser, Label: "解決しました", Value: q.ID, Style: chat.StylePrimary},
		},
	}
}

func reservationAccepted(q *models.Question, label string) chat.Message {
	text := fmt.Sprintf("⏰ 質問の予約を受け付けました（%s）。予約時間になったらメンターに送信します。", label)
	if q.AutoResolveCheck {
		text += "\n送信前に自己解決できたか確認します。"
	}
	return chat.Message{
		Text:     text,
		Sections: []string{"*質問内容:*\n" + q.Content},
		Context:  "質問ID: " + q.ID,
	}
}

func offsetLabel(offset string, morningHour int) string {
	for _, o := range reservation.Choices(morningHour) {
		if o.Value == offset {
			return o.Label
		}
	}
	return offset
}

func rosterMessage(mentors []models.Mentor, registered bool) chat.Message {
	if len(mentors) == 0 {
		return chat.Message{Text: "現在登録されているメンターはいません。", Context: "`/mentor-register` でメンター登録できます。"}
	}
	var b strings.Builder
	b.WriteString("*メンター一覧*\n")
	for _, m := range mentors {
		fmt.Fprintf(&b, "\n%s <@%s>: %s", AvailabilityEmoji(m.Availability), m.UserID, AvailabilityLabel(m.Availability))
	}
	msg := chat.Message{Text: b.String()}
	if !registered {
		msg.Context = "`/mentor-register` でメンター登録できます。"
	}
	return msg
}

func registeredMessage(m *models.Mentor, updated bool) chat.Message {
	verb := "登録"
	if updated {
		verb = "更新"
	}
	return chat.Message{
		Text:     fmt.Sprintf("✅ メンター情報を%sしました。", verb),
		Sections: []string{fmt.Sprintf("*表示名:* %s\n*対応状況:* %s", m.DisplayName, AvailabilityLabel(m.Availability))},
	}
}

func statusChanged(availability string) chat.Message {
	return chat.Message{Text: fmt.Sprintf("ステータスを「%s」に変更しました。", AvailabilityLabel(availability))}
}

func unregisterPrompt(m *models.Mentor) chat.Message {
	return chat.Message{
		Text:     "⚠️ *メンター登録を解除しますか？*",
		Sections: []string{fmt.Sprintf("*表示名:* %s\n解除するとメンション対象から外れます。", m.DisplayName)},
		Buttons: []chat.Button{
			{ActionID: ActionConfirmUnregister, Label: "解除する", Value: m.UserID, Style: chat.StyleDanger},
			{ActionID: ActionCancelUnregister, Label: "キャンセル", Value: m.UserID},
		},
	}
}

func unregisteredMessage(m *models.Mentor) chat.Message {
	return chat.Message{Text: fmt.Sprintf("✅ メンター登録を解除しました。\n\n%s さん、ご協力ありがとうございました。", m.DisplayName)}
}

const helpText = "*利用できるコマンド*\n" +
	"`/mentor-help` メンターに質問する\n" +
	"`/mentor-status` メンター一覧と対応状況の変更\n" +
	"`/mentor-register` メンター登録・情報更新\n" +
	"`/mentor-unregister` メンター登録解除"
