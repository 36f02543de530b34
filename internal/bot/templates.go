package bot

import "github.com/KITA-DS12/hackathon-mentor-bot/internal/chat"

// Question categories offered on the simple form.
var Categories = []string{
	"フロントエンド",
	"バックエンド",
	"インフラ・デプロイ",
	"レイアウト・CSS",
	"UI・UX相談",
	"アイデア相談",
	"技術選択相談",
	"なんでも相談",
	"エラー・トラブル",
}

// Urgency levels.
const (
	UrgencyHigh   = "🔴緊急（他の開発が止まっている）"
	UrgencyMedium = "🟡急ぎ（今日明日中に解決したい）"
	UrgencyLow    = "🟢いつでも（時間のある時で大丈夫）"
)

// Consultation types.
const (
	ConsultSlack = "Slackで相談"
	ConsultZoom  = "Zoomで相談"
)

// Defaults applied when a form omits the field.
const (
	DefaultCategory = "フロントエンド"
	DefaultUrgency  = UrgencyMedium
	DefaultConsult  = ConsultSlack
)

var (
	urgencies     = []string{UrgencyHigh, UrgencyMedium, UrgencyLow}
	consultations = []string{ConsultSlack, ConsultZoom}
)

func options(values []string) []chat.Option {
	out := make([]chat.Option, 0, len(values))
	for _, v := range values {
		out = append(out, chat.Option{Value: v, Label: v})
	}
	return out
}

func contains(values []string, v string) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

// TemplateField is one structured input of a question template.
type TemplateField struct {
	ID          string
	Label       string
	Multiline   bool
	Required    bool
	Placeholder string
}

// Template is the structured form for one category.
type Template struct {
	Category    string
	Description string
	Fields      []TemplateField
}

// TemplateFor returns the template of a category.
func TemplateFor(category string) (Template, bool) {
	for _, t := range Templates {
		if t.Category == category {
			return t, true
		}
	}
	return Template{}, false
}

// Templates are listed in display order.
var Templates = []Template{
	{
		Category:    "フロントエンド",
		Description: "React、Vue、HTML/CSS、JavaScript の問題",
		Fields: []TemplateField{
			{ID: "what_trying", Label: "何をやろうとしているか", Multiline: true, Required: true, Placeholder: "例：ログイン画面でsubmitボタンを押したらユーザー情報を送信したい"},
			{ID: "what_happened", Label: "何が起きているか（現在の状況）", Multiline: true, Required: true, Placeholder: "例：ボタンを押しても何も起こらない / TypeError: Cannot read property... のエラーが出る"},
			{ID: "error_message", Label: "エラーメッセージ（出ている場合）", Multiline: true, Required: false, Placeholder: "例：TypeError: Cannot read property 'id' of undefined at login.js:25:12"},
			{ID: "related_code", Label: "関連するコード・リンク", Multiline: true, Required: false, Placeholder: "例：GitHub Gist、CodePen、問題の箇所のコード抜粋など"},
			{ID: "environment", Label: "環境・技術スタック", Multiline: false, Required: false, Placeholder: "例：React 18, Next.js 13, TypeScript"},
		},
	},
	{
		Category:    "バックエンド",
		Description: "サーバーサイド、データベース、API、認証の問題",
		Fields: []TemplateField{
			{ID: "what_trying", Label: "何をやろうとしているか", Multiline: true, Required: true, Placeholder: "例：POST /api/users でユーザー登録APIを実装したい"},
			{ID: "what_happened", Label: "何が起きているか（現在の状況）", Multiline: true, Required: true, Placeholder: "例：500エラーが返る / データベースに保存されない / 認証が通らない"},
			{ID: "error_message", Label: "エラーメッセージ・ログ", Multiline: true, Required: false, Placeholder: "例：Error: connect ECONNREFUSED 127.0.0.1:5432 / ValidationError: email is required"},
			{ID: "related_code", Label: "関連するコード・設定", Multiline: true, Required: false, Placeholder: "例：API エンドポイント、データベーススキーマ、設定ファイルなど"},
			{ID: "environment", Label: "環境・技術スタック", Multiline: false, Required: false, Placeholder: "例：Node.js + Express, PostgreSQL, Firebase Auth"},
		},
	},
	{
		Category:    "インフラ・デプロイ",
		Description: "Vercel、Netlify、AWS、Docker、デプロイの問題",
		Fields: []TemplateField{
			{ID: "what_trying", Label: "何をやろうとしているか", Multiline: true, Required: true, Placeholder: "例：Next.jsアプリをVercelにデプロイしたい / AWSでデータベースに接続したい"},
			{ID: "what_happened", Label: "何が起きているか（現在の状況）", Multiline: true, Required: true, Placeholder: "例：Build failed / 404エラーが出る / 環境変数が反映されない"},
			{ID: "error_message", Label: "エラーメッセージ・ログ", Multiline: true, Required: false, Placeholder: "例：Error: Command \"npm run build\" exited with 1 / ENOENT: no such file or directory"},
			{ID: "related_code", Label: "関連するコード・設定ファイル", Multiline: true, Required: false, Placeholder: "例：package.json、vercel.json、dockerfile、環境変数設定など"},
			{ID: "platform", Label: "デプロイ先・環境", Multiline: false, Required: false, Placeholder: "例：Vercel、Netlify、AWS EC2、Google Cloud Run"},
		},
	},
	{
		Category:    "レイアウト・CSS",
		Description: "レイアウト、CSS、スタイリング、レスポンシブデザインの問題",
		Fields: []TemplateField{
			{ID: "what_trying", Label: "何をやろうとしているか", Multiline: true, Required: true, Placeholder: "例：ヘッダーを画面幅いっぱいに表示したい / グリッドレイアウトで3列に並べたい"},
			{ID: "what_happened", Label: "何が起きているか（現在の状況）", Multiline: true, Required: true, Placeholder: "例：スマホで崩れる / 要素が重なってしまう / 中央寄せができない"},
			{ID: "current_css", Label: "現在のCSS・コード", Multiline: true, Required: false, Placeholder: "例：問題の箇所のCSSや関連するHTMLコード"},
			{ID: "reference", Label: "参考・目標デザイン", Multiline: false, Required: false, Placeholder: "例：Figma URL、参考サイト、CodePenなど"},
			{ID: "css_framework", Label: "使用しているCSS技術", Multiline: false, Required: false, Placeholder: "例：Tailwind CSS、Bootstrap、styled-components、CSS Modules"},
		},
	},
	{
		Category:    "UI・UX相談",
		Description: "ユーザビリティ、デザイン判断、UI改善の相談",
		Fields: []TemplateField{
			{ID: "current_design", Label: "現在のデザイン・UI", Multiline: true, Required: true, Placeholder: "例：どんな画面・機能のUIについて相談したいか"},
			{ID: "concern", Label: "気になっている点・課題", Multiline: true, Required: true, Placeholder: "例：使いにくそう / 分かりにくい / どっちのデザインがいいか迷う"},
			{ID: "target_user", Label: "想定ユーザー", Multiline: false, Required: false, Placeholder: "例：大学生、エンジニア、一般の人、高齢者など"},
			{ID: "reference_design", Label: "参考デザイン・画面", Multiline: false, Required: false, Placeholder: "例：Figma、画面キャプチャ、参考サイトなど"},
		},
	},
	{
		Category:    "アイデア相談",
		Description: "機能やサービスのアイデア相談・ブラッシュアップ",
		Fields: []TemplateField{
			{ID: "idea_summary", Label: "アイデアの概要", Multiline: true, Required: true, Placeholder: "例：学生向けの課題共有アプリ / 地域のイベント情報を集約するサービス"},
			{ID: "target_users", Label: "ターゲットユーザー（誰のため？）", Multiline: false, Required: true, Placeholder: "例：大学生、地域住民、エンジニア、子育て世代など"},
			{ID: "problem_solving", Label: "どんな課題を解決したいか", Multiline: true, Required: true, Placeholder: "例：課題の締切管理が大変 / イベント情報が分散していて探しにくい"},
			{ID: "what_want_advice", Label: "どんなアドバイスが欲しいか", Multiline: true, Required: true, Placeholder: "例：実現可能性、改善点、技術選択、マネタイズ、競合分析など"},
			{ID: "current_plan", Label: "現在考えている機能・仕様", Multiline: true, Required: false, Placeholder: "例：ユーザー登録、投稿機能、通知機能など（あれば）"},
		},
	},
	{
		Category:    "技術選択相談",
		Description: "どの技術・ツールを使うべきか迷っている",
		Fields: []TemplateField{
			{ID: "what_building", Label: "何を作ろうとしているか", Multiline: true, Required: true, Placeholder: "例：Webアプリ、モバイルアプリ、API、データベース設計など"},
			{ID: "choice_options", Label: "迷っている選択肢", Multiline: true, Required: true, Placeholder: "例：React vs Vue / MySQL vs PostgreSQL / Vercel vs AWS"},
			{ID: "team_skill", Label: "チームのスキル・経験", Multiline: false, Required: true, Placeholder: "例：JavaScript経験あり、Python初心者、インフラ未経験など"},
			{ID: "constraints", Label: "制約・要件", Multiline: true, Required: false, Placeholder: "例：無料で使いたい、スマホ対応必須、期間は2日間など"},
		},
	},
	{
		Category:    "なんでも相談",
		Description: "技術・企画・デザイン以外の相談や、カテゴリに迷う質問",
		Fields: []TemplateField{
			{ID: "question_content", Label: "相談内容", Multiline: true, Required: true, Placeholder: "例：チーム運営について / 発表資料の作り方 / プレゼンのコツ / その他何でも"},
			{ID: "background", Label: "背景・状況（任意）", Multiline: true, Required: false, Placeholder: "例：なぜこの相談をしたいか、どんな状況かなど"},
		},
	},
	{
		Category:    "エラー・トラブル",
		Description: "エラーで困っているが、原因がよく分からない",
		Fields: []TemplateField{
			{ID: "what_happened", Label: "何が起きているか", Multiline: true, Required: true, Placeholder: "例：アプリが動かなくなった / 画面が真っ白になる / データが消えた"},
			{ID: "when_happened", Label: "いつから・何をした後に起きたか", Multiline: true, Required: true, Placeholder: "例：さっきまで動いていた / ライブラリを追加した後 / デプロイしてから"},
			{ID: "error_message", Label: "エラーメッセージ・ログ", Multiline: true, Required: false, Placeholder: "例：コンソールエラー、ターミナルのエラー、画面に表示されるエラーなど"},
			{ID: "environment", Label: "環境・技術", Multiline: false, Required: false, Placeholder: "例：React, Node.js, Vercel, Chrome, Windowsなど"},
		},
	},
}
