package lifecycle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/KITA-DS12/hackathon-mentor-bot/internal/chat"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/db"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/models"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/retry"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/store"
)

type fakeCanceller struct {
	mu        sync.Mutex
	cancelled []string
}

func (f *fakeCanceller) Cancel(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, id)
}

func (f *fakeCanceller) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.cancelled {
		if c == id {
			n++
		}
	}
	return n
}

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (f *fakeRecorder) ObserveTransition(op, outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.outcomes == nil {
		f.outcomes = make(map[string]int)
	}
	f.outcomes[op+"/"+outcome]++
}

type fixture struct {
	engine    *Engine
	repo      *store.Store
	notifier  *chat.MockNotifier
	followUps *fakeCanceller
	metrics   *fakeRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gdb, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close(gdb) })

	repo, err := store.New(store.Opts{DB: gdb, Retry: retry.Policy{Attempts: 1}})
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	f := &fixture{
		repo:      repo,
		notifier:  chat.NewMockNotifier(),
		followUps: &fakeCanceller{},
		metrics:   &fakeRecorder{},
	}
	f.engine, err = New(Opts{Repo: repo, Notifier: f.notifier, FollowUps: f.followUps, Metrics: f.metrics})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return f
}

func (f *fixture) submit(t *testing.T) *models.Question {
	t.Helper()
	q := &models.Question{AskerID: "U_ASKER", Content: "build fails", Category: "バックエンド"}
	if err := f.repo.CreateQuestion(context.Background(), q); err != nil {
		t.Fatalf("CreateQuestion: %v", err)
	}
	return q
}

func (f *fixture) get(t *testing.T, id string) *models.Question {
	t.Helper()
	q, err := f.repo.GetQuestion(context.Background(), id)
	if err != nil {
		t.Fatalf("GetQuestion: %v", err)
	}
	return q
}

// assertInvariant checks that the set is empty exactly when the status is
// waiting or completed.
func assertInvariant(t *testing.T, q *models.Question) {
	t.Helper()
	empty := len(q.Mentors) == 0
	closed := q.Status == models.StatusWaiting || q.Status == models.StatusCompleted
	if empty != closed {
		t.Errorf("invariant broken: status=%s mentors=%v", q.Status, q.MentorIDs())
	}
}

func assertKind(t *testing.T, err error, want Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if got := KindOf(err); got != want {
		t.Fatalf("kind = %s, want %s (err: %v)", got, want, err)
	}
}

func historyStatuses(q *models.Question) []string {
	out := make([]string, 0, len(q.History))
	for _, h := range q.History {
		out = append(out, h.Status)
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Opts{Notifier: chat.NewMockNotifier()}); err == nil {
		t.Error("expected error without repository")
	}
	f := newFixture(t)
	if _, err := New(Opts{Repo: f.repo}); err == nil {
		t.Error("expected error without notifier")
	}
}

// Scenario 1: submit then claim.
func TestClaim_FromWaiting(t *testing.T) {
	f := newFixture(t)
	q := f.submit(t)
	if q.Status != models.StatusWaiting || len(q.Mentors) != 0 || len(q.History) != 1 {
		t.Fatalf("submitted question = %+v", q)
	}

	res, err := f.engine.Claim(context.Background(), q.ID, "M1")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	got := res.Question
	if got.Status != models.StatusInProgress {
		t.Errorf("status = %s, want in_progress", got.Status)
	}
	if ids := got.MentorIDs(); len(ids) != 1 || ids[0] != "M1" {
		t.Errorf("mentors = %v, want [M1]", ids)
	}
	if h := got.History[len(got.History)-1]; h.Status != models.StatusInProgress || h.ActorID != "M1" {
		t.Errorf("last history = %+v", h)
	}
	assertInvariant(t, got)

	dms := f.notifier.SentTo("U_ASKER")
	if len(dms) != 1 || !strings.Contains(dms[0].Message.Text, "<@M1>があなたの質問に対応を開始しました") {
		t.Errorf("asker DMs = %+v", dms)
	}
	if f.followUps.count(q.ID) != 1 {
		t.Error("claim should cancel follow-ups")
	}
	if f.metrics.outcomes["claim/ok"] != 1 {
		t.Errorf("metrics = %v", f.metrics.outcomes)
	}
}

func TestClaim_AlreadyHandled(t *testing.T) {
	f := newFixture(t)
	q := f.submit(t)
	if _, err := f.engine.Claim(context.Background(), q.ID, "M1"); err != nil {
		t.Fatal(err)
	}

	_, err := f.engine.Claim(context.Background(), q.ID, "M2")
	assertKind(t, err, InvalidState)
	var le *Error
	if !errors.As(err, &le) || le.Reason != ReasonAlreadyHandled {
		t.Errorf("reason = %v", err)
	}
	if ids := f.get(t, q.ID).MentorIDs(); len(ids) != 1 || ids[0] != "M1" {
		t.Errorf("mentors = %v, want [M1]", ids)
	}
	if f.metrics.outcomes["claim/invalid_state"] != 1 {
		t.Errorf("metrics = %v", f.metrics.outcomes)
	}
}

func TestClaim_Completed(t *testing.T) {
	f := newFixture(t)
	q := f.submit(t)
	if _, err := f.engine.Complete(context.Background(), q.ID, "M1"); err != nil {
		t.Fatal(err)
	}
	_, err := f.engine.Claim(context.Background(), q.ID, "M2")
	var le *Error
	if !errors.As(err, &le) || le.Kind != InvalidState || le.Reason != ReasonAlreadyCompleted {
		t.Errorf("err = %v, want invalid_state already completed", err)
	}
}

func TestClaim_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Claim(context.Background(), "missing", "M1")
	assertKind(t, err, NotFound)
	if !errors.Is(err, ErrNotFound) {
		t.Error("errors.Is(err, ErrNotFound) = false")
	}
}

func TestClaim_ConcurrentRace(t *testing.T) {
	for i := 0; i < 10; i++ {
		f := newFixture(t)
		q := f.submit(t)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for j, actor := range []string{"M1", "M2"} {
			wg.Add(1)
			go func(j int, actor string) {
				defer wg.Done()
				_, errs[j] = f.engine.Claim(context.Background(), q.ID, actor)
			}(j, actor)
		}
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
			} else if KindOf(err) != InvalidState {
				t.Fatalf("loser err = %v, want InvalidState", err)
			}
		}
		if wins != 1 {
			t.Fatalf("winners = %d, want exactly 1 (errs=%v)", wins, errs)
		}
		got := f.get(t, q.ID)
		if got.Status != models.StatusInProgress || len(got.Mentors) != 1 {
			t.Fatalf("after race: status=%s mentors=%v", got.Status, got.MentorIDs())
		}
	}
}

// Scenario 2: pause then a new mentor resumes.
func TestPauseThenResumeByNewMentor(t *testing.T) {
	f := newFixture(t)
	q := f.submit(t)
	ctx := context.Background()
	f.engine.Claim(ctx, q.ID, "M1")

	res, err := f.engine.Pause(ctx, q.ID, "M1")
	if err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if res.Question.Status != models.StatusPaused {
		t.Errorf("status = %s, want paused", res.Question.Status)
	}
	if ids := res.Question.MentorIDs(); len(ids) != 1 || ids[0] != "M1" {
		t.Errorf("mentors after pause = %v", ids)
	}
	assertInvariant(t, res.Question)

	res, err = f.engine.Resume(ctx, q.ID, "M2")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if res.Question.Status != models.StatusInProgress {
		t.Errorf("status = %s, want in_progress", res.Question.Status)
	}
	if ids := res.Question.MentorIDs(); len(ids) != 2 || !res.Question.HasMentor("M1") || !res.Question.HasMentor("M2") {
		t.Errorf("mentors after resume = %v, want [M1 M2]", ids)
	}
	assertInvariant(t, res.Question)
}

func TestResume_SameMentorIsStatusFlip(t *testing.T) {
	f := newFixture(t)
	q := f.submit(t)
	ctx := context.Background()
	f.engine.Claim(ctx, q.ID, "M1")
	f.engine.Pause(ctx, q.ID, "M1")

	res, err := f.engine.Resume(ctx, q.ID, "M1")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Question.Mentors) != 1 {
		t.Errorf("mentors = %v, want [M1]", res.Question.MentorIDs())
	}
}

func TestResume_NotPaused(t *testing.T) {
	f := newFixture(t)
	q := f.submit(t)
	_, err := f.engine.Resume(context.Background(), q.ID, "M1")
	assertKind(t, err, InvalidState)
	if !strings.Contains(err.Error(), ReasonNotPaused) {
		t.Errorf("err = %v", err)
	}
}

func TestPause_RequiresInProgress(t *testing.T) {
	f := newFixture(t)
	q := f.submit(t)
	_, err := f.engine.Pause(context.Background(), q.ID, "M1")
	assertKind(t, err, InvalidState)
	if got := f.get(t, q.ID); got.Status != models.StatusWaiting || len(got.History) != 1 {
		t.Errorf("rejected pause changed state: %+v", got)
	}
}

func TestPause_NoMembershipCheck(t *testing.T) {
	f := newFixture(t)
	q := f.submit(t)
	f.engine.Claim(context.Background(), q.ID, "M1")
	if _, err := f.engine.Pause(context.Background(), q.ID, "M_OTHER"); err != nil {
		t.Fatalf("Pause by non-member: %v", err)
	}
}

// Scenarios 3 and 4: releases down to waiting, then a stale release.
func TestRelease_LastMentorOut(t *testing.T) {
	f := newFixture(t)
	q := f.submit(t)
	ctx := context.Background()
	f.engine.Claim(ctx, q.ID, "M1")
	f.engine.Pause(ctx, q.ID, "M1")
	f.engine.Resume(ctx, q.ID, "M2")

	res, err := f.engine.Release(ctx, q.ID, "M1")
	if err != nil {
		t.Fatalf("Release M1: %v", err)
	}
	if res.Question.Status != models.StatusInProgress {
		t.Errorf("status = %s, want in_progress", res.Question.Status)
	}
	if ids := res.Question.MentorIDs(); len(ids) != 1 || ids[0] != "M2" {
		t.Errorf("mentors = %v, want [M2]", ids)
	}
	last := f.notifier.SentTo("U_ASKER")
	if !strings.Contains(last[len(last)-1].Message.Text, "引き続き他のメンター") {
		t.Errorf("release notice with others remaining = %q", last[len(last)-1].Message.Text)
	}

	res, err = f.engine.Release(ctx, q.ID, "M2")
	if err != nil {
		t.Fatalf("Release M2: %v", err)
	}
	if res.Question.Status != models.StatusWaiting || len(res.Question.Mentors) != 0 {
		t.Errorf("after last release: status=%s mentors=%v", res.Question.Status, res.Question.MentorIDs())
	}
	assertInvariant(t, res.Question)
	if h := res.Question.History[len(res.Question.History)-1]; h.Status != models.StatusWaiting || h.ActorID != "M2" {
		t.Errorf("last history = %+v, want waiting by M2", h)
	}
	last = f.notifier.SentTo("U_ASKER")
	if !strings.Contains(last[len(last)-1].Message.Text, "他のメンターが対応可能になりました") {
		t.Errorf("release notice when empty = %q", last[len(last)-1].Message.Text)
	}

	_, err = f.engine.Release(ctx, q.ID, "M2")
	assertKind(t, err, NotAssigned)
}

func TestRelease_ConcurrentLastMentors(t *testing.T) {
	for i := 0; i < 10; i++ {
		f := newFixture(t)
		q := f.submit(t)
		ctx := context.Background()
		f.engine.Claim(ctx, q.ID, "M1")
		f.engine.Pause(ctx, q.ID, "M1")
		f.engine.Resume(ctx, q.ID, "M2")

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for j, actor := range []string{"M1", "M2"} {
			wg.Add(1)
			go func(j int, actor string) {
				defer wg.Done()
				_, errs[j] = f.engine.Release(ctx, q.ID, actor)
			}(j, actor)
		}
		wg.Wait()

		for j, err := range errs {
			if err != nil {
				t.Fatalf("Release %d: %v", j, err)
			}
		}
		got := f.get(t, q.ID)
		if got.Status != models.StatusWaiting || len(got.Mentors) != 0 {
			t.Fatalf("after concurrent releases: status=%s mentors=%v", got.Status, got.MentorIDs())
		}
		assertInvariant(t, got)
	}
}

func TestRelease_KeepsPausedStatus(t *testing.T) {
	f := newFixture(t)
	q := f.submit(t)
	ctx := context.Background()
	f.engine.Claim(ctx, q.ID, "M1")
	f.engine.Pause(ctx, q.ID, "M1")
	f.engine.Resume(ctx, q.ID, "M2")
	f.engine.Pause(ctx, q.ID, "M2")

	res, err := f.engine.Release(ctx, q.ID, "M2")
	if err != nil {
		t.Fatal(err)
	}
	if res.Question.Status != models.StatusPaused {
		t.Errorf("status = %s, want paused", res.Question.Status)
	}
	if ids := res.Question.MentorIDs(); len(ids) != 1 || ids[0] != "M1" {
		t.Errorf("mentors = %v", ids)
	}
}

func TestRelease_NotAssignedOnWaiting(t *testing.T) {
	f := newFixture(t)
	q := f.submit(t)
	_, err := f.engine.Release(context.Background(), q.ID, "M1")
	assertKind(t, err, NotAssigned)
	if !errors.Is(err, ErrNotAssigned) {
		t.Error("errors.Is(err, ErrNotAssigned) = false")
	}
}

func TestComplete_NotifiesEveryMentor(t *testing.T) {
	f := newFixture(t)
	q := f.submit(t)
	ctx := context.Background()
	f.engine.Claim(ctx, q.ID, "M1")
	f.engine.Pause(ctx, q.ID, "M1")
	f.engine.Resume(ctx, q.ID, "M2")
	f.notifier.Reset()

	res, err := f.engine.Complete(ctx, q.ID, "M2")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	got := res.Question
	if got.Status != models.StatusCompleted || len(got.Mentors) != 0 {
		t.Errorf("status=%s mentors=%v", got.Status, got.MentorIDs())
	}
	if got.ResolvedVia != ViaMentor || got.ResolvedBy != "M2" || got.ResolvedByUser || got.ResolvedAt == nil {
		t.Errorf("resolution = via %q by %q user=%v at=%v", got.ResolvedVia, got.ResolvedBy, got.ResolvedByUser, got.ResolvedAt)
	}
	if len(res.Previous) != 2 {
		t.Errorf("Previous = %v", res.Previous)
	}
	for _, target := range []string{"U_ASKER", "M1", "M2"} {
		if len(f.notifier.SentTo(target)) != 1 {
			t.Errorf("%s received %d messages, want 1", target, len(f.notifier.SentTo(target)))
		}
	}
	if f.followUps.count(q.ID) != 2 {
		t.Errorf("follow-up cancels = %d, want 2 (claim + complete)", f.followUps.count(q.ID))
	}
}

func TestComplete_FromWaiting(t *testing.T) {
	f := newFixture(t)
	q := f.submit(t)
	res, err := f.engine.Complete(context.Background(), q.ID, "M1")
	if err != nil {
		t.Fatal(err)
	}
	if got := historyStatuses(res.Question); strings.Join(got, ",") != "waiting,completed" {
		t.Errorf("history = %v", got)
	}
}

func TestComplete_TerminalForMentorPath(t *testing.T) {
	f := newFixture(t)
	q := f.submit(t)
	ctx := context.Background()
	f.engine.Complete(ctx, q.ID, "M1")

	for _, op := range []func() error{
		func() error { _, err := f.engine.Complete(ctx, q.ID, "M1"); return err },
		func() error { _, err := f.engine.Pause(ctx, q.ID, "M1"); return err },
		func() error { _, err := f.engine.Resume(ctx, q.ID, "M1"); return err },
	} {
		assertKind(t, op(), InvalidState)
	}
	if got := f.get(t, q.ID); len(got.History) != 2 {
		t.Errorf("history grew after terminal: %v", historyStatuses(got))
	}
}

// Scenario 5: asker completes while waiting, then tries again.
func TestCompleteByAsker(t *testing.T) {
	f := newFixture(t)
	q := f.submit(t)
	ctx := context.Background()

	res, err := f.engine.CompleteByAsker(ctx, q.ID, "U_ASKER", "")
	if err != nil {
		t.Fatalf("CompleteByAsker: %v", err)
	}
	if res.Question.Status != models.StatusCompleted || !res.Question.ResolvedByUser || res.Question.ResolvedVia != ViaAsker {
		t.Errorf("question = status %s user %v via %q", res.Question.Status, res.Question.ResolvedByUser, res.Question.ResolvedVia)
	}

	_, err = f.engine.CompleteByAsker(ctx, q.ID, "U_ASKER", "")
	assertKind(t, err, AlreadyCompleted)
	if !errors.Is(err, ErrAlreadyCompleted) {
		t.Error("errors.Is(err, ErrAlreadyCompleted) = false")
	}
}

func TestCompleteByAsker_OnlyAsker(t *testing.T) {
	f := newFixture(t)
	q := f.submit(t)
	_, err := f.engine.CompleteByAsker(context.Background(), q.ID, "M1", ViaFollowUp)
	assertKind(t, err, NotAssigned)
	var le *Error
	if errors.As(err, &le) && le.Reason != ReasonNotAsker {
		t.Errorf("reason = %q", le.Reason)
	}
}

func TestCompleteByAsker_NotifiesMentorsAndRecordsVia(t *testing.T) {
	f := newFixture(t)
	q := f.submit(t)
	ctx := context.Background()
	f.engine.Claim(ctx, q.ID, "M1")
	f.notifier.Reset()

	res, err := f.engine.CompleteByAsker(ctx, q.ID, "U_ASKER", ViaReservation)
	if err != nil {
		t.Fatal(err)
	}
	if res.Question.ResolvedVia != ViaReservation {
		t.Errorf("via = %q", res.Question.ResolvedVia)
	}
	if dms := f.notifier.SentTo("U_ASKER"); len(dms) != 1 || !strings.Contains(dms[0].Message.Text, "自力解決済み") {
		t.Errorf("asker DMs = %+v", dms)
	}
	if len(f.notifier.SentTo("M1")) != 1 {
		t.Error("assigned mentor not notified")
	}
	assertInvariant(t, res.Question)
}

func TestNotifyFailureIsNonFatal(t *testing.T) {
	f := newFixture(t)
	q := f.submit(t)
	f.notifier.FailFor("U_ASKER", errors.New("slack down"))

	res, err := f.engine.Claim(context.Background(), q.ID, "M1")
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if res.NotifyErr == nil {
		t.Error("NotifyErr = nil, want the DM failure")
	}
	if f.get(t, q.ID).Status != models.StatusInProgress {
		t.Error("mutation should commit despite notification failure")
	}
}

func TestStatusUpdatePostedToEffectiveChannel(t *testing.T) {
	f := newFixture(t)
	q := f.submit(t)
	ctx := context.Background()
	if err := f.repo.UpdateQuestion(ctx, q.ID, map[string]interface{}{"channel_ref": "C_FALLBACK", "message_ref": "111.222"}); err != nil {
		t.Fatal(err)
	}

	f.engine.Claim(ctx, q.ID, "M1")
	posts := f.notifier.SentTo("C_FALLBACK")
	if len(posts) != 1 {
		t.Fatalf("status posts = %d, want 1", len(posts))
	}
	msg := posts[0].Message
	if msg.ThreadRef != "111.222" || !strings.Contains(msg.Text, "対応中 (担当: <@M1>)") {
		t.Errorf("status update = %+v", msg)
	}
}

func TestInvariantAcrossSequence(t *testing.T) {
	f := newFixture(t)
	q := f.submit(t)
	ctx := context.Background()
	steps := []func() (*Result, error){
		func() (*Result, error) { return f.engine.Claim(ctx, q.ID, "M1") },
		func() (*Result, error) { return f.engine.Pause(ctx, q.ID, "M1") },
		func() (*Result, error) { return f.engine.Resume(ctx, q.ID, "M2") },
		func() (*Result, error) { return f.engine.Release(ctx, q.ID, "M1") },
		func() (*Result, error) { return f.engine.Release(ctx, q.ID, "M2") },
		func() (*Result, error) { return f.engine.Claim(ctx, q.ID, "M3") },
		func() (*Result, error) { return f.engine.Complete(ctx, q.ID, "M3") },
	}
	for i, step := range steps {
		res, err := step()
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		assertInvariant(t, res.Question)
	}
	want := "waiting,in_progress,paused,in_progress,in_progress,waiting,in_progress,completed"
	if got := strings.Join(historyStatuses(f.get(t, q.ID)), ","); got != want {
		t.Errorf("history = %s\nwant      %s", got, want)
	}
}
