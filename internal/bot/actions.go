package bot

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/KITA-DS12/hackathon-mentor-bot/internal/chat"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/followup"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/lifecycle"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/reservation"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/store"
)

func (h *Handler) routeAction(ctx context.Context, logger *zap.Logger, a chat.Action) error {
	switch a.ActionID {
	case ActionStartResponse:
		return h.startResponse(ctx, logger, a)
	case ActionPauseResponse:
		return h.pauseResponse(ctx, logger, a)
	case ActionResumeResponse:
		res, err := h.lifecycle.Resume(ctx, a.Value, a.UserID)
		if err != nil {
			return err
		}
		h.logResult(logger, res)
		h.replace(ctx, logger, a, fmt.Sprintf("▶️ <@%s>が対応を再開しました。", a.UserID))
		return nil
	case ActionReleaseAssignment:
		res, err := h.lifecycle.Release(ctx, a.Value, a.UserID)
		if err != nil {
			return err
		}
		h.logResult(logger, res)
		return nil
	case ActionCompleteResponse:
		res, err := h.lifecycle.Complete(ctx, a.Value, a.UserID)
		if err != nil {
			return err
		}
		h.logResult(logger, res)
		return nil
	case ActionMarkResolvedByUser:
		res, err := h.lifecycle.CompleteByAsker(ctx, a.Value, a.UserID, lifecycle.ViaAsker)
		if err != nil {
			return err
		}
		h.logResult(logger, res)
		h.replace(ctx, logger, a, msgAskerResolved)
		return nil
	case followup.ActionResolved:
		res, err := h.followUps.MarkResolved(ctx, a.Value, a.UserID)
		if err != nil {
			return err
		}
		h.logResult(logger, res)
		h.replace(ctx, logger, a, msgFollowUpResolved)
		return nil
	case followup.ActionUnresolved:
		if err := h.followUps.MarkUnresolved(ctx, a.Value, a.UserID); err != nil {
			return err
		}
		h.replace(ctx, logger, a, msgFollowUpUnresolved)
		return nil
	case followup.ActionDetails:
		return h.showDetails(ctx, a)
	case reservation.ActionResolved:
		res, err := h.reservations.MarkResolved(ctx, a.Value, a.UserID)
		if err != nil {
			return err
		}
		h.logResult(logger, res)
		h.replace(ctx, logger, a, msgSelfResolved)
		return nil
	case reservation.ActionSendToMentor:
		sent, err := h.reservations.SendToMentor(ctx, a.Value, a.UserID)
		if err != nil {
			return err
		}
		if !sent {
			h.replace(ctx, logger, a, msgAlreadySent)
			return nil
		}
		h.replace(ctx, logger, a, msgSentToMentor)
		return nil
	case ActionConfirmUnregister:
		return h.confirmUnregister(ctx, logger, a)
	case ActionCancelUnregister:
		h.replace(ctx, logger, a, msgUnregisterCanceled)
		return nil
	}
	logger.Warn("unknown action")
	return nil
}

// startResponse claims the question and opens the consultation thread under
// the question post.
func (h *Handler) startResponse(ctx context.Context, logger *zap.Logger, a chat.Action) error {
	res, err := h.lifecycle.Claim(ctx, a.Value, a.UserID)
	if err != nil {
		return err
	}
	h.logResult(logger, res)

	q := res.Question
	channel := q.ChannelRef
	if channel == "" {
		channel = a.ChannelID
	}
	invite := threadInvite(q, a.UserID)
	if invite.ThreadRef == "" {
		invite.ThreadRef = a.MessageRef
	}
	ref, err := h.notifier.PostToChannel(ctx, channel, invite)
	if err != nil {
		logger.Warn("thread invite failed", zap.String("channel", channel), zap.Error(err))
		return nil
	}
	if err := h.repo.UpdateQuestion(ctx, q.ID, map[string]interface{}{"thread_ref": ref}); err != nil {
		logger.Warn("record thread ref failed", zap.Error(err))
	}
	return nil
}

func (h *Handler) pauseResponse(ctx context.Context, logger *zap.Logger, a chat.Action) error {
	res, err := h.lifecycle.Pause(ctx, a.Value, a.UserID)
	if err != nil {
		return err
	}
	h.logResult(logger, res)

	q := res.Question
	channel := q.ChannelRef
	if channel == "" {
		channel = a.ChannelID
	}
	prompt := resumePrompt(q, a.UserID)
	if prompt.ThreadRef == "" {
		prompt.ThreadRef = a.ThreadRef
	}
	if _, err := h.notifier.PostToChannel(ctx, channel, prompt); err != nil {
		logger.Warn("resume prompt failed", zap.String("channel", channel), zap.Error(err))
	}
	return nil
}

func (h *Handler) showDetails(ctx context.Context, a chat.Action) error {
	q, err := h.repo.GetQuestion(ctx, a.Value)
	if err != nil {
		return err
	}
	msg := detailsMessage(q)
	if a.ChannelID != "" {
		if err := h.notifier.PostEphemeral(ctx, a.ChannelID, a.UserID, msg); err == nil {
			return nil
		}
	}
	if _, err := h.notifier.PostToUser(ctx, a.UserID, msg); err != nil {
		return fmt.Errorf("bot: show details of %s: %w", q.ID, err)
	}
	return nil
}

func (h *Handler) confirmUnregister(ctx context.Context, logger *zap.Logger, a chat.Action) error {
	if a.Value != "" && a.Value != a.UserID {
		h.tell(ctx, logger, a.UserID, a.ChannelID, "他のメンターの登録は解除できません。")
		return nil
	}
	m, err := h.repo.GetMentor(ctx, a.UserID)
	if errors.Is(err, store.ErrNotFound) {
		h.replace(ctx, logger, a, "❌ メンター情報が見つかりませんでした。")
		return nil
	}
	if err != nil {
		return fmt.Errorf("bot: get mentor: %w", err)
	}
	if err := h.repo.DeleteMentor(ctx, a.UserID); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("bot: delete mentor: %w", err)
	}
	h.roster.Invalidate(ctx)
	h.replace(ctx, logger, a, unregisteredMessage(m).Text)
	logger.Info("mentor unregistered")
	return nil
}

// replace swaps the message holding the pressed button for text, dropping
// its buttons. Failures are only logged.
func (h *Handler) replace(ctx context.Context, logger *zap.Logger, a chat.Action, text string) {
	if a.ChannelID == "" || a.MessageRef == "" {
		return
	}
	if err := h.notifier.UpdateMessage(ctx, a.ChannelID, a.MessageRef, chat.Message{Text: text}); err != nil {
		logger.Warn("message update failed", zap.Error(err))
	}
}

func (h *Handler) logResult(logger *zap.Logger, res *lifecycle.Result) {
	if res == nil || res.Question == nil {
		return
	}
	fields := []zap.Field{zap.String("question_id", res.Question.ID), zap.String("status", res.Question.Status)}
	if res.NotifyErr != nil {
		logger.Warn("transition applied, notification incomplete", append(fields, zap.Error(res.NotifyErr))...)
		return
	}
	logger.Info("transition applied", fields...)
}
