package bot

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/KITA-DS12/hackathon-mentor-bot/internal/chat"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/models"
	"github.com/KITA-DS12/hackathon-mentor-bot/internal/store"
)

// Slash command names.
const (
	CommandHelp       = "/mentor-help"
	CommandStatus     = "/mentor-status"
	CommandRegister   = "/mentor-register"
	CommandUnregister = "/mentor-unregister"
)

func (h *Handler) routeCommand(ctx context.Context, logger *zap.Logger, c chat.Command) error {
	switch c.Name {
	case CommandHelp:
		w := WizardContext{SourceChannel: c.ChannelID}
		if err := h.notifier.OpenForm(ctx, c.TriggerRef, typeForm(), w.Encode()); err != nil {
			return fmt.Errorf("bot: open question form: %w", err)
		}
		return nil
	case CommandStatus:
		return h.mentorStatus(ctx, c)
	case CommandRegister:
		existing, err := h.mentor(ctx, c.UserID)
		if err != nil {
			return err
		}
		if err := h.notifier.OpenForm(ctx, c.TriggerRef, registrationForm(existing), ""); err != nil {
			return fmt.Errorf("bot: open registration form: %w", err)
		}
		return nil
	case CommandUnregister:
		return h.unregister(ctx, logger, c)
	}
	logger.Warn("unknown command")
	h.tell(ctx, logger, c.UserID, c.ChannelID, helpText)
	return nil
}

// mentor returns the caller's registration, or nil if they are not a mentor.
func (h *Handler) mentor(ctx context.Context, userID string) (*models.Mentor, error) {
	m, err := h.repo.GetMentor(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bot: get mentor %s: %w", userID, err)
	}
	return m, nil
}

// mentorStatus shows the roster and, for a registered mentor, opens the
// availability form.
func (h *Handler) mentorStatus(ctx context.Context, c chat.Command) error {
	mentors, err := h.roster.Load(ctx, h.repo.ListMentors)
	if err != nil {
		return fmt.Errorf("bot: list mentors: %w", err)
	}
	self, err := h.mentor(ctx, c.UserID)
	if err != nil {
		return err
	}
	if self != nil {
		if err := h.notifier.OpenForm(ctx, c.TriggerRef, statusForm(self.Availability), ""); err != nil {
			return fmt.Errorf("bot: open status form: %w", err)
		}
	}
	msg := rosterMessage(mentors, self != nil)
	if c.ChannelID != "" {
		if err := h.notifier.PostEphemeral(ctx, c.ChannelID, c.UserID, msg); err == nil {
			return nil
		}
	}
	if _, err := h.notifier.PostToUser(ctx, c.UserID, msg); err != nil {
		return fmt.Errorf("bot: post roster: %w", err)
	}
	return nil
}

// unregister asks for confirmation by direct message so the answer can
// replace the prompt.
func (h *Handler) unregister(ctx context.Context, logger *zap.Logger, c chat.Command) error {
	self, err := h.mentor(ctx, c.UserID)
	if err != nil {
		return err
	}
	if self == nil {
		h.tell(ctx, logger, c.UserID, c.ChannelID, msgNotMentor)
		return nil
	}
	if _, err := h.notifier.PostToUser(ctx, c.UserID, unregisterPrompt(self)); err != nil {
		return fmt.Errorf("bot: post unregister prompt: %w", err)
	}
	return nil
}
