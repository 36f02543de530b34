package lifecycle

import (
	"fmt"
	"strings"

	"github.com/KITA-DS12/hackathon-mentor-bot/internal/chat"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/models"
)

// Operation names, used in logs, metrics and history.
const (
	OpClaim           = "claim"
	OpResume          = "resume"
	OpPause           = "pause"
	OpRelease         = "release"
	OpComplete        = "complete"
	OpCompleteByAsker = "complete_by_asker"
)

// Resolution channels recorded in Question.ResolvedVia.
const (
	ViaMentor      = "mentor"
	ViaAsker       = "asker"
	ViaFollowUp    = "followup"
	ViaReservation = "reservation"
)

// StatusEmoji returns the marker used for a status in chat messages.
func StatusEmoji(status string) string {
	switch status {
	case models.StatusWaiting:
		return "🟡"
	case models.StatusInProgress:
		return "🔵"
	case models.StatusPaused:
		return "🟠"
	case models.StatusCompleted:
		return "✅"
	}
	return "⚪"
}

// StatusLabel returns the Japanese display name of a status.
func StatusLabel(status string) string {
	switch status {
	case models.StatusWaiting:
		return "対応待ち"
	case models.StatusInProgress:
		return "対応中"
	case models.StatusPaused:
		return "中断中"
	case models.StatusCompleted:
		return "完了"
	}
	return status
}

// Mentions renders user ids as Slack mentions.
func Mentions(ids []string) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf("<@%s>", id))
	}
	return strings.Join(parts, ", ")
}

func askerNotice(op, actor string, remaining int) string {
	switch op {
	case OpClaim:
		return fmt.Sprintf("<@%s>があなたの質問に対応を開始しました。メンターチャンネルのスレッドをご確認ください。", actor)
	case OpResume:
		return fmt.Sprintf("<@%s>があなたの質問への対応を再開しました。", actor)
	case OpPause:
		return fmt.Sprintf("<@%s>が対応を一時中断しました。後ほど対応を再開します。", actor)
	case OpRelease:
		if remaining > 0 {
			return fmt.Sprintf("<@%s>が担当を解除しました。引き続き他のメンターが対応します。", actor)
		}
		return fmt.Sprintf("<@%s>が担当を解除しました。他のメンターが対応可能になりました。", actor)
	case OpComplete:
		return fmt.Sprintf("<@%s>があなたの質問への対応を完了しました。ありがとうございました！", actor)
	}
	return ""
}

func askerResolvedNotice(via string) string {
	if via == ViaReservation {
		return "質問を自力解決済みとしてマークしました。お疲れ様でした！"
	}
	return "質問を解決済みとしてマークしました。お疲れ様でした！"
}

func mentorCompletedNotice(q *models.Question, actor string, byAsker bool) chat.Message {
	text := fmt.Sprintf("✅ <@%s>が担当していた質問への対応を完了しました。", actor)
	if byAsker {
		text = fmt.Sprintf("✅ <@%s>が質問を解決済みにしました。ご対応ありがとうございました！", q.AskerID)
	}
	return chat.Message{Text: text, Context: "質問ID: " + q.ID}
}

// statusUpdate renders the notice posted under the question message.
func statusUpdate(q *models.Question) chat.Message {
	label := StatusLabel(q.Status)
	if q.Status == models.StatusInProgress && len(q.Mentors) > 0 {
		label = fmt.Sprintf("%s (担当: %s)", label, Mentions(q.MentorIDs()))
	}
	return chat.Message{
		Text:      fmt.Sprintf("%s *ステータス更新*\n質問ID: %s\n新しいステータス: %s", StatusEmoji(q.Status), q.ID, label),
		ThreadRef: q.MessageRef,
	}
}
