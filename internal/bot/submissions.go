package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/KITA-DS12/hackathon-mentor-bot/internal/chat"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/models"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/reservation"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/store"
)

func (h *Handler) routeSubmission(ctx context.Context, logger *zap.Logger, s chat.Submission) (chat.SubmissionResult, error) {
	w, err := DecodeWizard(s.Metadata)
	if err != nil {
		logger.Warn("bad form metadata", zap.Error(err))
	}
	switch s.CallbackID {
	case CallbackQuestionType:
		return h.submitType(w, s), nil
	case CallbackCategory:
		return h.submitCategory(w, s), nil
	case CallbackQuestion:
		return h.submitQuestion(logger, w, s)
	case CallbackTemplate:
		return h.submitTemplate(logger, w, s)
	case CallbackReservation:
		return h.submitReservation(logger, w, s), nil
	case CallbackRegistration:
		return h.submitRegistration(logger, s)
	case CallbackStatus:
		return h.submitStatus(logger, s), nil
	}
	logger.Warn("unknown form submitted")
	return chat.SubmissionResult{}, nil
}

func next(f chat.Form, w WizardContext) chat.SubmissionResult {
	return chat.SubmissionResult{Next: &f, NextMetadata: w.Encode()}
}

func value(s chat.Submission, id string) string {
	return strings.TrimSpace(s.Values[id])
}

func valueOr(s chat.Submission, id, def string) string {
	if v := value(s, id); v != "" {
		return v
	}
	return def
}

func (h *Handler) submitType(w WizardContext, s chat.Submission) chat.SubmissionResult {
	w.Type = value(s, fieldType)
	switch w.Type {
	case TypeTemplate:
		return next(categoryForm(), w)
	case TypeFree:
		return next(questionForm(true), w)
	}
	w.Type = TypeSimple
	return next(questionForm(false), w)
}

func (h *Handler) submitCategory(w WizardContext, s chat.Submission) chat.SubmissionResult {
	category := value(s, fieldCategory)
	t, ok := TemplateFor(category)
	if !ok {
		return chat.SubmissionResult{Errors: map[string]string{fieldCategory: "選択肢から選んでください"}}
	}
	w.Category = category
	return next(templateForm(t), w)
}

func (h *Handler) submitQuestion(logger *zap.Logger, w WizardContext, s chat.Submission) (chat.SubmissionResult, error) {
	d := Draft{
		TeamName:         value(s, fieldTeam),
		Content:          value(s, fieldContent),
		Category:         valueOr(s, fieldCategory, DefaultCategory),
		Urgency:          valueOr(s, fieldUrgency, DefaultUrgency),
		ConsultationType: valueOr(s, fieldConsult, DefaultConsult),
		Situation:        value(s, fieldSituation),
		Links:            value(s, fieldLinks),
		ErrorText:        value(s, fieldError),
	}
	errs, err := h.fieldErrors(d, draftFields)
	if err != nil {
		return chat.SubmissionResult{}, err
	}
	if errs != nil {
		return chat.SubmissionResult{Errors: errs}, nil
	}
	return h.submitDraft(logger, w, s, d), nil
}

func (h *Handler) submitTemplate(logger *zap.Logger, w WizardContext, s chat.Submission) (chat.SubmissionResult, error) {
	t, ok := TemplateFor(w.Category)
	if !ok {
		return chat.SubmissionResult{Errors: map[string]string{fieldSummary: msgWizardLost}}, nil
	}
	errs := make(map[string]string)
	summary := value(s, fieldSummary)
	if summary == "" {
		errs[fieldSummary] = "入力してください"
	}
	for _, f := range t.Fields {
		if f.Required && value(s, templateFieldPrefix+f.ID) == "" {
			errs[templateFieldPrefix+f.ID] = "入力してください"
		}
	}
	if len(errs) > 0 {
		return chat.SubmissionResult{Errors: errs}, nil
	}

	d := Draft{
		TeamName:         value(s, fieldTeam),
		Category:         t.Category,
		Urgency:          valueOr(s, fieldUrgency, DefaultUrgency),
		ConsultationType: valueOr(s, fieldConsult, DefaultConsult),
	}
	d.Content = FormatTemplate(t, summary, func(id string) string {
		return value(s, templateFieldPrefix+id)
	}, value(s, fieldAdditional), d.Urgency, d.ConsultationType)

	fields := make(map[string]string, len(draftFields))
	for k, v := range draftFields {
		fields[k] = v
	}
	fields["Content"] = fieldSummary
	verrs, err := h.fieldErrors(d, fields)
	if err != nil {
		return chat.SubmissionResult{}, err
	}
	if verrs != nil {
		return chat.SubmissionResult{Errors: verrs}, nil
	}
	return h.submitDraft(logger, w, s, d), nil
}

// FormatTemplate renders a filled-in template as question content. get
// returns the answer to a template field by id.
func FormatTemplate(t Template, summary string, get func(id string) string, additional, urgency, consult string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "📋 *%s*\n\n*【問題サマリー】*\n%s", t.Category, summary)
	for _, f := range t.Fields {
		if v := get(f.ID); v != "" {
			fmt.Fprintf(&b, "\n\n*【%s】*\n%s", f.Label, v)
		}
	}
	if additional != "" {
		fmt.Fprintf(&b, "\n\n*【補足情報】*\n%s", additional)
	}
	fmt.Fprintf(&b, "\n\n*【緊急度】* %s\n*【相談方法】* %s", urgency, consult)
	return b.String()
}

// submitDraft either moves to the reservation step or submits right away.
func (h *Handler) submitDraft(logger *zap.Logger, w WizardContext, s chat.Submission, d Draft) chat.SubmissionResult {
	if value(s, fieldTiming) == models.ModeReservation {
		w.Draft = &d
		return next(reservationForm(h.morningHour), w)
	}
	user, source := s.UserID, w.SourceChannel
	h.background(logger, user, msgSubmitFailed, func(ctx context.Context) error {
		return h.submitImmediate(ctx, logger, user, source, d)
	})
	return chat.SubmissionResult{}
}

// submitImmediate persists the question, posts it, confirms to the asker and
// arms follow-ups. A failed post is re-attempted on a timer.
func (h *Handler) submitImmediate(ctx context.Context, logger *zap.Logger, userID, source string, d Draft) error {
	q := d.Question(userID, source, models.ModeImmediate)
	if err := h.repo.CreateQuestion(ctx, q); err != nil {
		return fmt.Errorf("bot: create question: %w", err)
	}
	logger = logger.With(zap.String("question_id", q.ID))
	if err := h.poster.PostQuestion(ctx, q); err != nil {
		logger.Warn("question post failed, will retry", zap.Duration("retry_in", h.postRetryDelay), zap.Error(err))
		h.armPostRetry(logger, userID, q.ID, 1)
		if _, err := h.notifier.PostToUser(ctx, userID, chat.Message{Text: msgPostRetrying}); err != nil {
			logger.Warn("retry notice failed", zap.Error(err))
		}
		return nil
	}
	h.afterPost(ctx, logger, userID, q)
	return nil
}

func (h *Handler) afterPost(ctx context.Context, logger *zap.Logger, userID string, q *models.Question) {
	if _, err := h.notifier.PostToUser(ctx, userID, submittedMessage(q)); err != nil {
		logger.Warn("submission confirmation failed", zap.Error(err))
	}
	h.followUps.Schedule(q.ID)
	logger.Info("question submitted")
}

// armPostRetry schedules re-post attempt number attempt for a stored
// question that has not reached the mentors yet.
func (h *Handler) armPostRetry(logger *zap.Logger, userID, id string, attempt int) {
	h.retryMu.Lock()
	defer h.retryMu.Unlock()
	if h.closed {
		return
	}
	if old := h.retries[id]; old != nil {
		old.timer.Stop()
	}
	r := &postRetry{attempt: attempt}
	h.retries[id] = r
	r.timer = h.clock.AfterFunc(h.postRetryDelay, func() {
		h.retryMu.Lock()
		defer h.retryMu.Unlock()
		if h.closed || h.retries[id] != r {
			return
		}
		delete(h.retries, id)
		h.background(logger, userID, msgSubmitFailed, func(ctx context.Context) error {
			return h.retryPost(ctx, logger, userID, id, attempt)
		})
	})
}

func (h *Handler) retryPost(ctx context.Context, logger *zap.Logger, userID, id string, attempt int) error {
	q, err := h.repo.GetQuestion(ctx, id)
	if err != nil {
		return fmt.Errorf("bot: reload question for re-post: %w", err)
	}
	if q.Status != models.StatusWaiting || q.MessageRef != "" {
		logger.Info("re-post no longer needed", zap.String("status", q.Status))
		return nil
	}
	if err := h.poster.PostQuestion(ctx, q); err != nil {
		if attempt >= h.postRetries {
			return fmt.Errorf("bot: post question %s after %d retries: %w", id, attempt, err)
		}
		logger.Warn("question re-post failed", zap.Int("attempt", attempt), zap.Error(err))
		h.armPostRetry(logger, userID, id, attempt+1)
		return nil
	}
	h.afterPost(ctx, logger, userID, q)
	return nil
}

// postRetryAttempt returns the number of the re-post armed for id, or 0.
func (h *Handler) postRetryAttempt(id string) int {
	h.retryMu.Lock()
	defer h.retryMu.Unlock()
	if r := h.retries[id]; r != nil {
		return r.attempt
	}
	return 0
}

func (h *Handler) submitReservation(logger *zap.Logger, w WizardContext, s chat.Submission) chat.SubmissionResult {
	if w.Draft == nil {
		return chat.SubmissionResult{Errors: map[string]string{fieldReservation: msgWizardLost}}
	}
	offset := value(s, fieldReservation)
	if !reservation.Valid(offset) {
		return chat.SubmissionResult{Errors: map[string]string{fieldReservation: "選択肢から選んでください"}}
	}
	d, user, source := *w.Draft, s.UserID, w.SourceChannel
	autoResolve := value(s, fieldAutoResolve) == "true"
	h.background(logger, user, msgSubmitFailed, func(ctx context.Context) error {
		q := d.Question(user, source, models.ModeReservation)
		q.ReservationTime = offset
		q.AutoResolveCheck = autoResolve
		if err := h.repo.CreateQuestion(ctx, q); err != nil {
			return fmt.Errorf("bot: create reservation: %w", err)
		}
		logger := logger.With(zap.String("question_id", q.ID), zap.String("offset", offset))
		if _, err := h.notifier.PostToUser(ctx, user, reservationAccepted(q, offsetLabel(offset, h.morningHour))); err != nil {
			logger.Warn("reservation confirmation failed", zap.Error(err))
		}
		// A failed immediate dispatch is re-armed by the scheduler.
		if _, err := h.reservations.Schedule(ctx, q); err != nil {
			logger.Warn("reservation schedule reported an error", zap.Error(err))
		}
		logger.Info("reservation accepted")
		return nil
	})
	return chat.SubmissionResult{}
}

func (h *Handler) submitRegistration(logger *zap.Logger, s chat.Submission) (chat.SubmissionResult, error) {
	r := registration{
		Name:         value(s, fieldMentorName),
		Bio:          value(s, fieldMentorBio),
		Availability: valueOr(s, fieldAvailability, models.AvailabilityAvailable),
	}
	errs, err := h.fieldErrors(r, registrationFields)
	if err != nil {
		return chat.SubmissionResult{}, err
	}
	if errs != nil {
		return chat.SubmissionResult{Errors: errs}, nil
	}
	user := s.UserID
	h.background(logger, user, msgDependency, func(ctx context.Context) error {
		existing, err := h.repo.GetMentor(ctx, user)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("bot: get mentor: %w", err)
		}
		m := &models.Mentor{UserID: user, DisplayName: r.Name, Bio: r.Bio, Availability: r.Availability}
		if err := h.repo.UpsertMentor(ctx, m); err != nil {
			return fmt.Errorf("bot: upsert mentor: %w", err)
		}
		h.roster.Invalidate(ctx)
		if _, err := h.notifier.PostToUser(ctx, user, registeredMessage(m, existing != nil)); err != nil {
			logger.Warn("registration confirmation failed", zap.Error(err))
		}
		logger.Info("mentor registered", zap.Bool("updated", existing != nil))
		return nil
	})
	return chat.SubmissionResult{}, nil
}

func (h *Handler) submitStatus(logger *zap.Logger, s chat.Submission) chat.SubmissionResult {
	availability := value(s, fieldStatus)
	if !models.ValidAvailability(availability) {
		return chat.SubmissionResult{Errors: map[string]string{fieldStatus: "選択肢から選んでください"}}
	}
	user := s.UserID
	h.background(logger, user, msgDependency, func(ctx context.Context) error {
		err := h.repo.SetMentorAvailability(ctx, user, availability)
		if errors.Is(err, store.ErrNotFound) {
			h.tell(ctx, logger, user, "", msgNotMentor)
			return nil
		}
		if err != nil {
			return fmt.Errorf("bot: set availability: %w", err)
		}
		h.roster.Invalidate(ctx)
		if _, err := h.notifier.PostToUser(ctx, user, statusChanged(availability)); err != nil {
			logger.Warn("status confirmation failed", zap.Error(err))
		}
		logger.Info("availability changed", zap.String("availability", availability))
		return nil
	})
	return chat.SubmissionResult{}
}
