package followup

import (
	"fmt"
	"time"

	"github.com/KITA-DS12/hackathon-mentor-bot/internal/chat"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/models"
)

const unresolvedAck = "ご回答ありがとうございます。引き続きサポートいたします。必要であれば改めてメンターに相談してください。"

// Truncate shortens s to n runes, adding an ellipsis when cut.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// FormatDelay renders d as 分 or 時間.
func FormatDelay(d time.Duration) string {
	if d >= time.Hour && d%time.Hour == 0 {
		return fmt.Sprintf("%d時間", int(d/time.Hour))
	}
	return fmt.Sprintf("%d分", int(d/time.Minute))
}

func askerPrompt(q *models.Question, elapsed time.Duration) chat.Message {
	return chat.Message{
		Text:     fmt.Sprintf("質問から%sが経過しました。問題は解決しましたか？", FormatDelay(elapsed)),
		Sections: []string{"*元の質問:* " + Truncate(q.Content, previewRunes)},
		Buttons: []chat.Button{
			{ActionID: ActionResolved, Label: "✅ 解決しました", Value: q.ID, Style: chat.StylePrimary},
			{ActionID: ActionUnresolved, Label: "❓ まだ未解決です", Value: q.ID},
		},
	}
}

func escalation(q *models.Question, elapsed time.Duration) chat.Message {
	return chat.Message{
		Text:     fmt.Sprintf("⚠️ *フォローアップ通知*\n質問者: <@%s>\n%s経過しても未解決の状態です。", q.AskerID, FormatDelay(elapsed)),
		Sections: []string{"*質問内容:*\n" + q.Content},
		Buttons:  []chat.Button{{ActionID: ActionDetails, Label: "質問を確認", Value: q.ID}},
	}
}

func reengagement(q *models.Question) chat.Message {
	return chat.Message{
		Text:    fmt.Sprintf("📢 <@%s>の質問がまだ未解決です。追加サポートが必要かもしれません。", q.AskerID),
		Buttons: []chat.Button{{ActionID: ActionDetails, Label: "質問を確認", Value: q.ID}},
		Context: "質問ID: " + q.ID,
	}
}
