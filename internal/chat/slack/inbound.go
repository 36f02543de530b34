package slack

import (
	slackapi "github.com/slack-go/slack"

	"github.com/KITA-DS12/hackathon-mentor-bot/internal/chat"
)

// toActions converts a block_actions callback into chat actions.
func toActions(cb slackapi.InteractionCallback) []chat.Action {
	channel := cb.Channel.ID
	if channel == "" {
		channel = cb.Container.ChannelID
	}
	messageRef := cb.Message.Timestamp
	if messageRef == "" {
		messageRef = cb.Container.MessageTs
	}

	out := make([]chat.Action, 0, len(cb.ActionCallback.BlockActions))
	for _, ba := range cb.ActionCallback.BlockActions {
		if ba == nil {
			continue
		}
		value := ba.Value
		if value == "" {
			value = ba.SelectedOption.Value
		}
		out = append(out, chat.Action{
			ActionID:   ba.ActionID,
			Value:      value,
			UserID:     cb.User.ID,
			ChannelID:  channel,
			MessageRef: messageRef,
			ThreadRef:  cb.Message.ThreadTimestamp,
			TriggerRef: cb.TriggerID,
		})
	}
	return out
}

// toSubmission flattens a view_submission callback's state into field values.
func toSubmission(cb slackapi.InteractionCallback) chat.Submission {
	values := make(map[string]string)
	if cb.View.State != nil {
		for blockID, actions := range cb.View.State.Values {
			for _, a := range actions {
				switch {
				case a.SelectedOption.Value != "":
					values[blockID] = a.SelectedOption.Value
				case len(a.SelectedOptions) > 0:
					values[blockID] = "true"
				default:
					values[blockID] = a.Value
				}
			}
		}
	}
	return chat.Submission{
		CallbackID: cb.View.CallbackID,
		UserID:     cb.User.ID,
		Metadata:   cb.View.PrivateMetadata,
		Values:     values,
	}
}

// submissionResponse builds the ack payload for a submission result, or nil
// when the modal should simply close.
func submissionResponse(res chat.SubmissionResult) *slackapi.ViewSubmissionResponse {
	if len(res.Errors) > 0 {
		return slackapi.NewErrorsViewSubmissionResponse(res.Errors)
	}
	if res.Next != nil {
		view := buildModal(*res.Next, res.NextMetadata)
		return slackapi.NewUpdateViewSubmissionResponse(&view)
	}
	return nil
}
