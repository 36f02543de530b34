package bot

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/KITA-DS12/hackathon-mentor-bot/internal/chat"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/lifecycle"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/models"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/reservation"
)

func questionValues() map[string]string {
	return map[string]string{
		fieldTeam:     "チームA",
		fieldContent:  "CSSのレイアウトが崩れます",
		fieldCategory: "レイアウト・CSS",
		fieldUrgency:  UrgencyHigh,
		fieldConsult:  ConsultZoom,
		fieldTiming:   models.ModeImmediate,
		fieldError:    "TypeError: x is undefined",
	}
}

func (h *harness) submit(callback string, w WizardContext, values map[string]string) chat.SubmissionResult {
	return h.handler.HandleSubmission(context.Background(), chat.Submission{
		CallbackID: callback,
		UserID:     "U1",
		Metadata:   w.Encode(),
		Values:     values,
	})
}

func (h *harness) open(t *testing.T, statuses ...string) []models.Question {
	t.Helper()
	qs, err := h.repo.ListQuestionsByStatus(context.Background(), statuses...)
	if err != nil {
		t.Fatalf("ListQuestionsByStatus: %v", err)
	}
	return qs
}

func TestTypeSubmission_Routes(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		choice       string
		wantCallback string
		wantCategory bool
	}{
		{TypeFree, CallbackQuestion, false},
		{TypeSimple, CallbackQuestion, true},
		{"", CallbackQuestion, true},
		{TypeTemplate, CallbackCategory, true},
	}
	for _, tt := range tests {
		t.Run(tt.choice, func(t *testing.T) {
			res := h.submit(CallbackQuestionType, WizardContext{SourceChannel: "C0DEV"}, map[string]string{fieldType: tt.choice})
			if res.Next == nil {
				t.Fatal("expected a next form")
			}
			if res.Next.CallbackID != tt.wantCallback {
				t.Errorf("next = %s, want %s", res.Next.CallbackID, tt.wantCallback)
			}
			hasCategory := false
			for _, f := range res.Next.Fields {
				if f.ID == fieldCategory {
					hasCategory = true
				}
			}
			if hasCategory != tt.wantCategory {
				t.Errorf("category field present = %v, want %v", hasCategory, tt.wantCategory)
			}
			w, err := DecodeWizard(res.NextMetadata)
			if err != nil {
				t.Fatal(err)
			}
			if w.SourceChannel != "C0DEV" {
				t.Errorf("source channel lost: %+v", w)
			}
		})
	}
}

func TestCategorySubmission(t *testing.T) {
	h := newHarness(t)

	res := h.submit(CallbackCategory, WizardContext{Type: TypeTemplate}, map[string]string{fieldCategory: "バックエンド"})
	if res.Next == nil || res.Next.CallbackID != CallbackTemplate {
		t.Fatalf("next = %+v, want template form", res.Next)
	}
	found := false
	for _, f := range res.Next.Fields {
		if f.ID == templateFieldPrefix+"what_trying" {
			found = !f.Optional
		}
	}
	if !found {
		t.Error("required template field missing from form")
	}
	w, _ := DecodeWizard(res.NextMetadata)
	if w.Category != "バックエンド" {
		t.Errorf("wizard category = %q", w.Category)
	}

	res = h.submit(CallbackCategory, WizardContext{}, map[string]string{fieldCategory: "宇宙"})
	if res.Errors[fieldCategory] == "" {
		t.Error("unknown category should be rejected")
	}
}

func TestQuestionSubmission_Immediate(t *testing.T) {
	h := newHarness(t)

	res := h.submit(CallbackQuestion, WizardContext{SourceChannel: "C0DEV", Type: TypeSimple}, questionValues())
	if res.Errors != nil || res.Next != nil {
		t.Fatalf("result = %+v, want form closed", res)
	}
	h.handler.Wait()

	qs := h.open(t, models.StatusWaiting)
	if len(qs) != 1 {
		t.Fatalf("questions = %d, want 1", len(qs))
	}
	q := qs[0]
	if q.AskerID != "U1" || q.Category != "レイアウト・CSS" || q.Urgency != UrgencyHigh || q.ErrorText == "" {
		t.Errorf("question = %+v", q)
	}
	if q.ChannelRef != "C0DEV" || q.MessageRef == "" {
		t.Errorf("posted to %q ref %q, want C0DEV", q.ChannelRef, q.MessageRef)
	}
	if _, ok := find(h.notifier.SentTo("C0DEV"), chat.SentChannel, firstButton(ActionStartResponse)); !ok {
		t.Error("question not posted to the source channel")
	}
	if _, ok := find(h.notifier.SentTo(mentorChannel), chat.SentChannel, firstButton(ActionStartResponse)); !ok {
		t.Error("mentor channel did not get a notice")
	}
	if _, ok := find(h.notifier.SentTo("U1"), chat.SentUser, firstButton(ActionMarkResolvedByUser)); !ok {
		t.Error("asker did not get a confirmation")
	}
	if p := h.followUps.Pending(q.ID); len(p) != 2 {
		t.Errorf("pending follow-ups = %v, want both stages", p)
	}
}

func TestQuestionSubmission_FreeUsesDefaults(t *testing.T) {
	h := newHarness(t)

	h.submit(CallbackQuestion, WizardContext{Type: TypeFree}, map[string]string{
		fieldTeam:    "チームB",
		fieldContent: "何から始めればいいですか",
		fieldTiming:  models.ModeImmediate,
	})
	h.handler.Wait()

	qs := h.open(t, models.StatusWaiting)
	if len(qs) != 1 {
		t.Fatalf("questions = %d, want 1", len(qs))
	}
	if qs[0].Category != DefaultCategory || qs[0].Urgency != DefaultUrgency || qs[0].ConsultationType != DefaultConsult {
		t.Errorf("defaults not applied: %+v", qs[0])
	}
	if qs[0].ChannelRef != mentorChannel {
		t.Errorf("channel = %q, want mentor channel when no source", qs[0].ChannelRef)
	}
}

func TestQuestionSubmission_FallsBackToMentorChannel(t *testing.T) {
	h := newHarness(t)
	h.notifier.FailFor("C0GONE", chat.ErrChannelNotFound)

	h.submit(CallbackQuestion, WizardContext{SourceChannel: "C0GONE"}, questionValues())
	h.handler.Wait()

	qs := h.open(t, models.StatusWaiting)
	if len(qs) != 1 || qs[0].ChannelRef != mentorChannel {
		t.Fatalf("questions = %+v, want one posted to the mentor channel", qs)
	}
	if qs[0].SourceChannelRef != "C0GONE" {
		t.Errorf("source = %q, want C0GONE", qs[0].SourceChannelRef)
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestQuestionSubmission_PostFailure(t *testing.T) {
	h := newHarness(t)
	h.notifier.FailFor("C0DEV", errors.New("rate limited"))

	h.submit(CallbackQuestion, WizardContext{SourceChannel: "C0DEV"}, questionValues())
	h.handler.Wait()

	if _, ok := find(h.notifier.SentTo("U1"), chat.SentUser, textIs(msgPostRetrying)); !ok {
		t.Error("asker was not told about the retry")
	}
	qs := h.open(t, models.StatusWaiting)
	if len(qs) != 1 {
		t.Fatalf("questions = %d, want the persisted one", len(qs))
	}
	q := qs[0]
	if q.MessageRef != "" {
		t.Errorf("message ref = %q, want empty", q.MessageRef)
	}
	if p := h.followUps.Pending(q.ID); len(p) != 0 {
		t.Errorf("follow-ups armed for an unposted question: %v", p)
	}
	if n := h.handler.postRetryAttempt(q.ID); n != 1 {
		t.Fatalf("armed re-post = %d, want 1", n)
	}

	h.notifier.FailFor("C0DEV", nil)
	h.clock.Advance(defaultPostRetryDelay)
	waitUntil(t, func() bool { return h.handler.postRetryAttempt(q.ID) == 0 })
	h.handler.Wait()

	if got := h.question(t, q.ID); got.ChannelRef != "C0DEV" || got.MessageRef == "" {
		t.Errorf("after re-post: channel=%q ref=%q", got.ChannelRef, got.MessageRef)
	}
	if _, ok := find(h.notifier.SentTo("C0DEV"), chat.SentChannel, firstButton(ActionStartResponse)); !ok {
		t.Error("question not re-posted to the source channel")
	}
	if _, ok := find(h.notifier.SentTo("U1"), chat.SentUser, firstButton(ActionMarkResolvedByUser)); !ok {
		t.Error("asker not sent the confirmation after re-post")
	}
	if p := h.followUps.Pending(q.ID); len(p) != 2 {
		t.Errorf("follow-ups after re-post = %v, want both stages", p)
	}
}

func TestQuestionSubmission_PostRetriesExhausted(t *testing.T) {
	h := newHarness(t)
	h.notifier.FailFor("C0DEV", errors.New("rate limited"))

	h.submit(CallbackQuestion, WizardContext{SourceChannel: "C0DEV"}, questionValues())
	h.handler.Wait()
	id := h.open(t, models.StatusWaiting)[0].ID

	for attempt := 1; attempt < defaultPostRetries; attempt++ {
		if n := h.handler.postRetryAttempt(id); n != attempt {
			t.Fatalf("armed re-post = %d, want %d", n, attempt)
		}
		h.clock.Advance(defaultPostRetryDelay)
		next := attempt + 1
		waitUntil(t, func() bool { return h.handler.postRetryAttempt(id) == next })
	}
	h.clock.Advance(defaultPostRetryDelay)
	waitUntil(t, func() bool {
		_, ok := find(h.notifier.SentTo("U1"), chat.SentUser, textIs(msgSubmitFailed))
		return ok
	})
	h.handler.Wait()

	if n := h.handler.postRetryAttempt(id); n != 0 {
		t.Errorf("re-post %d armed after the last attempt", n)
	}
	if got := h.question(t, id); got.MessageRef != "" || got.Status != models.StatusWaiting {
		t.Errorf("after giving up: status=%s ref=%q", got.Status, got.MessageRef)
	}
}

func TestQuestionSubmission_RetrySkipsCompletedQuestion(t *testing.T) {
	h := newHarness(t)
	h.notifier.FailFor("C0DEV", errors.New("rate limited"))

	h.submit(CallbackQuestion, WizardContext{SourceChannel: "C0DEV"}, questionValues())
	h.handler.Wait()
	q := h.open(t, models.StatusWaiting)[0]
	if _, err := h.engine.CompleteByAsker(context.Background(), q.ID, "U1", lifecycle.ViaAsker); err != nil {
		t.Fatalf("CompleteByAsker: %v", err)
	}
	h.notifier.FailFor("C0DEV", nil)
	h.notifier.Reset()

	h.clock.Advance(defaultPostRetryDelay)
	waitUntil(t, func() bool { return h.handler.postRetryAttempt(q.ID) == 0 })
	h.handler.Wait()

	if sent := h.notifier.SentTo("C0DEV"); len(sent) != 0 {
		t.Errorf("completed question re-posted: %+v", sent)
	}
	if p := h.followUps.Pending(q.ID); len(p) != 0 {
		t.Errorf("follow-ups armed for a completed question: %v", p)
	}
}

func TestQuestionSubmission_ValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		edit  func(map[string]string)
		field string
		want  string
	}{
		{"missing content", func(v map[string]string) { delete(v, fieldContent) }, fieldContent, "入力してください"},
		{"missing team", func(v map[string]string) { v[fieldTeam] = "  " }, fieldTeam, "入力してください"},
		{"bad category", func(v map[string]string) { v[fieldCategory] = "宇宙" }, fieldCategory, "選択肢から選んでください"},
		{"bad urgency", func(v map[string]string) { v[fieldUrgency] = "someday" }, fieldUrgency, "選択肢から選んでください"},
		{"long team", func(v map[string]string) { v[fieldTeam] = strings.Repeat("あ", 129) }, fieldTeam, "128文字以内で入力してください"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			values := questionValues()
			tt.edit(values)

			res := h.submit(CallbackQuestion, WizardContext{}, values)
			if got := res.Errors[tt.field]; got != tt.want {
				t.Errorf("Errors[%s] = %q, want %q (all: %v)", tt.field, got, tt.want, res.Errors)
			}
			h.handler.Wait()
			if qs := h.open(t, models.StatusWaiting); len(qs) != 0 {
				t.Errorf("invalid submission persisted %d questions", len(qs))
			}
		})
	}
}

func TestQuestionSubmission_ReservationStep(t *testing.T) {
	h := newHarness(t)
	values := questionValues()
	values[fieldTiming] = models.ModeReservation

	res := h.submit(CallbackQuestion, WizardContext{SourceChannel: "C0DEV"}, values)
	if res.Next == nil || res.Next.CallbackID != CallbackReservation {
		t.Fatalf("next = %+v, want reservation form", res.Next)
	}
	w, err := DecodeWizard(res.NextMetadata)
	if err != nil {
		t.Fatal(err)
	}
	if w.Draft == nil || w.Draft.Content != values[fieldContent] || w.SourceChannel != "C0DEV" {
		t.Errorf("wizard = %+v", w)
	}
	h.handler.Wait()
	if qs := h.open(t, models.StatusWaiting); len(qs) != 0 {
		t.Error("question persisted before the reservation step")
	}
}

func draftContext() WizardContext {
	return WizardContext{
		SourceChannel: "C0DEV",
		Draft: &Draft{
			TeamName:         "チームC",
			Content:          "デプロイが失敗します",
			Category:         "インフラ・デプロイ",
			Urgency:          UrgencyLow,
			ConsultationType: ConsultSlack,
		},
	}
}

func TestReservationSubmission_Later(t *testing.T) {
	h := newHarness(t)

	res := h.submit(CallbackReservation, draftContext(), map[string]string{
		fieldReservation: reservation.Offset30Min,
		fieldAutoResolve: "true",
	})
	if res.Errors != nil || res.Next != nil {
		t.Fatalf("result = %+v", res)
	}
	h.handler.Wait()

	qs := h.open(t, models.StatusWaiting)
	if len(qs) != 1 {
		t.Fatalf("questions = %d, want 1", len(qs))
	}
	q := qs[0]
	if !q.IsReservation() || q.ReservationTime != reservation.Offset30Min || !q.AutoResolveCheck {
		t.Errorf("question = %+v", q)
	}
	if q.DispatchedAt != nil || q.MessageRef != "" {
		t.Error("reservation dispatched early")
	}
	if p := h.reservations.Pending(q.ID); len(p) != 1 {
		t.Errorf("pending = %v, want one timer", p)
	}
	if _, ok := find(h.notifier.SentTo("U1"), chat.SentUser, textHas("30分後")); !ok {
		t.Error("asker did not get the reservation confirmation")
	}
	if n := len(h.notifier.SentTo(mentorChannel)); n != 0 {
		t.Errorf("mentor channel got %d posts before the reservation time", n)
	}
}

func TestReservationSubmission_Now(t *testing.T) {
	h := newHarness(t)

	h.submit(CallbackReservation, draftContext(), map[string]string{fieldReservation: reservation.OffsetNow})
	h.handler.Wait()

	qs := h.open(t, models.StatusWaiting)
	if len(qs) != 1 {
		t.Fatalf("questions = %d, want 1", len(qs))
	}
	if qs[0].DispatchedAt == nil {
		t.Error("immediate reservation not dispatched")
	}
	if qs[0].ChannelRef != mentorChannel {
		t.Errorf("reservation posted to %q, want mentor channel", qs[0].ChannelRef)
	}
	post, ok := find(h.notifier.SentTo(mentorChannel), chat.SentChannel, firstButton(ActionStartResponse))
	if !ok {
		t.Fatal("reservation not posted")
	}
	if !strings.Contains(strings.Join(post.Message.Sections, "\n"), "予約された質問") {
		t.Error("reservation post lacks the reservation marker")
	}
}

func TestReservationSubmission_Rejections(t *testing.T) {
	h := newHarness(t)

	res := h.submit(CallbackReservation, WizardContext{}, map[string]string{fieldReservation: reservation.Offset1Hour})
	if res.Errors[fieldReservation] != msgWizardLost {
		t.Errorf("lost draft: errors = %v", res.Errors)
	}
	res = h.submit(CallbackReservation, draftContext(), map[string]string{fieldReservation: "next_week"})
	if res.Errors[fieldReservation] == "" {
		t.Error("unknown offset accepted")
	}
	h.handler.Wait()
	if qs := h.open(t, models.StatusWaiting); len(qs) != 0 {
		t.Errorf("rejected reservations persisted %d questions", len(qs))
	}
}

func TestTemplateSubmission(t *testing.T) {
	h := newHarness(t)
	tmpl, _ := TemplateFor("フロントエンド")
	values := map[string]string{
		fieldTeam:       "チームD",
		fieldSummary:    "ボタンが反応しない",
		fieldTiming:     models.ModeImmediate,
		fieldAdditional: "昨日までは動いていました",
	}
	for _, f := range tmpl.Fields {
		if f.Required {
			values[templateFieldPrefix+f.ID] = "回答:" + f.ID
		}
	}

	res := h.submit(CallbackTemplate, WizardContext{Category: tmpl.Category}, values)
	if res.Errors != nil {
		t.Fatalf("errors = %v", res.Errors)
	}
	h.handler.Wait()

	qs := h.open(t, models.StatusWaiting)
	if len(qs) != 1 {
		t.Fatalf("questions = %d, want 1", len(qs))
	}
	for _, want := range []string{"【問題サマリー】", "ボタンが反応しない", "回答:what_trying", "【補足情報】", DefaultUrgency} {
		if !strings.Contains(qs[0].Content, want) {
			t.Errorf("content missing %q:\n%s", want, qs[0].Content)
		}
	}
	if qs[0].Category != tmpl.Category {
		t.Errorf("category = %q", qs[0].Category)
	}
}

func TestTemplateSubmission_Rejections(t *testing.T) {
	h := newHarness(t)

	res := h.submit(CallbackTemplate, WizardContext{Category: "フロントエンド"}, map[string]string{fieldTeam: "E"})
	if res.Errors[fieldSummary] == "" || res.Errors[templateFieldPrefix+"what_trying"] == "" {
		t.Errorf("errors = %v, want summary and required field", res.Errors)
	}
	if _, ok := res.Errors[templateFieldPrefix+"environment"]; ok {
		t.Error("optional field reported as missing")
	}

	res = h.submit(CallbackTemplate, WizardContext{}, map[string]string{fieldSummary: "x"})
	if res.Errors[fieldSummary] != msgWizardLost {
		t.Errorf("missing category: errors = %v", res.Errors)
	}
}

func TestRegistrationSubmission(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	register := func(name string) chat.SubmissionResult {
		return h.handler.HandleSubmission(ctx, chat.Submission{
			CallbackID: CallbackRegistration,
			UserID:     "M1",
			Values: map[string]string{
				fieldMentorName:   name,
				fieldMentorBio:    "Go と React",
				fieldAvailability: models.AvailabilityBusy,
			},
		})
	}

	if res := register("Alice"); res.Errors != nil {
		t.Fatalf("errors = %v", res.Errors)
	}
	h.handler.Wait()
	m, err := h.repo.GetMentor(ctx, "M1")
	if err != nil {
		t.Fatalf("GetMentor: %v", err)
	}
	if m.DisplayName != "Alice" || m.Availability != models.AvailabilityBusy {
		t.Errorf("mentor = %+v", m)
	}
	if _, ok := find(h.notifier.SentTo("M1"), chat.SentUser, textHas("登録しました")); !ok {
		t.Error("no registration confirmation")
	}

	register("Alice B")
	h.handler.Wait()
	if _, ok := find(h.notifier.SentTo("M1"), chat.SentUser, textHas("更新しました")); !ok {
		t.Error("no update confirmation")
	}
	if m, _ := h.repo.GetMentor(ctx, "M1"); m.DisplayName != "Alice B" {
		t.Errorf("display name = %q", m.DisplayName)
	}

	if res := register(""); res.Errors[fieldMentorName] == "" {
		t.Errorf("empty name accepted: %v", res.Errors)
	}
}

func TestRegistrationSubmission_BadAvailability(t *testing.T) {
	h := newHarness(t)
	res := h.handler.HandleSubmission(context.Background(), chat.Submission{
		CallbackID: CallbackRegistration,
		UserID:     "M1",
		Values:     map[string]string{fieldMentorName: "Bob", fieldAvailability: "sleeping"},
	})
	if res.Errors[fieldAvailability] == "" {
		t.Errorf("errors = %v", res.Errors)
	}
}

func TestStatusSubmission(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if err := h.repo.UpsertMentor(ctx, &models.Mentor{UserID: "M1", DisplayName: "Alice", Availability: models.AvailabilityAvailable}); err != nil {
		t.Fatal(err)
	}
	change := func(user, availability string) chat.SubmissionResult {
		return h.handler.HandleSubmission(ctx, chat.Submission{
			CallbackID: CallbackStatus,
			UserID:     user,
			Values:     map[string]string{fieldStatus: availability},
		})
	}

	change("M1", models.AvailabilityOffline)
	h.handler.Wait()
	if m, _ := h.repo.GetMentor(ctx, "M1"); m.Availability != models.AvailabilityOffline {
		t.Errorf("availability = %q, want offline", m.Availability)
	}
	if _, ok := find(h.notifier.SentTo("M1"), chat.SentUser, textHas("対応不可")); !ok {
		t.Error("no status confirmation")
	}

	change("U9", models.AvailabilityBusy)
	h.handler.Wait()
	if _, ok := find(h.notifier.SentTo("U9"), chat.SentUser, textIs(msgNotMentor)); !ok {
		t.Error("non-mentor not told to register")
	}

	if res := change("M1", "away"); res.Errors[fieldStatus] == "" {
		t.Error("invalid availability accepted")
	}
}

func TestSubmission_UnknownForm(t *testing.T) {
	h := newHarness(t)
	res := h.submit("mystery_modal", WizardContext{}, nil)
	if res.Errors != nil || res.Next != nil {
		t.Errorf("result = %+v, want empty", res)
	}
}
