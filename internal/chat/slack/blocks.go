package slack

import (
	slackapi "github.com/slack-go/slack"

	"github.com/KITA-DS12/hackathon-mentor-bot/internal/chat"
)

// buildMessageOptions translates a chat.Message into Slack MsgOptions.
func buildMessageOptions(msg chat.Message) []slackapi.MsgOption {
	options := []slackapi.MsgOption{slackapi.MsgOptionText(msg.Text, false)}
	if msg.ThreadRef != "" {
		options = append(options, slackapi.MsgOptionTS(msg.ThreadRef))
	}
	if len(msg.Sections) > 0 || len(msg.Buttons) > 0 || msg.Context != "" {
		options = append(options, slackapi.MsgOptionBlocks(buildBlocks(msg)...))
	}
	return options
}

// buildBlocks renders text, sections, buttons and footer as Block Kit.
func buildBlocks(msg chat.Message) []slackapi.Block {
	var blocks []slackapi.Block
	if msg.Text != "" {
		blocks = append(blocks, markdownSection(msg.Text))
	}
	for _, s := range msg.Sections {
		if s == "" {
			continue
		}
		blocks = append(blocks, markdownSection(s))
	}
	if len(msg.Buttons) > 0 {
		elems := make([]slackapi.BlockElement, 0, len(msg.Buttons))
		for _, b := range msg.Buttons {
			elems = append(elems, buttonElement(b))
		}
		blocks = append(blocks, slackapi.NewActionBlock("", elems...))
	}
	if msg.Context != "" {
		blocks = append(blocks, slackapi.NewContextBlock("",
			slackapi.NewTextBlockObject(slackapi.MarkdownType, msg.Context, false, false)))
	}
	return blocks
}

func markdownSection(text string) *slackapi.SectionBlock {
	return slackapi.NewSectionBlock(slackapi.NewTextBlockObject(slackapi.MarkdownType, text, false, false), nil, nil)
}

func plainText(text string) *slackapi.TextBlockObject {
	return slackapi.NewTextBlockObject(slackapi.PlainTextType, text, false, false)
}

func buttonElement(b chat.Button) *slackapi.ButtonBlockElement {
	btn := slackapi.NewButtonBlockElement(b.ActionID, b.Value, plainText(b.Label))
	switch b.Style {
	case chat.StylePrimary:
		btn = btn.WithStyle(slackapi.StylePrimary)
	case chat.StyleDanger:
		btn = btn.WithStyle(slackapi.StyleDanger)
	}
	return btn
}

// buildModal renders a chat.Form as a Slack modal view.
func buildModal(form chat.Form, metadata string) slackapi.ModalViewRequest {
	blocks := make([]slackapi.Block, 0, len(form.Fields))
	for _, f := range form.Fields {
		blocks = append(blocks, fieldBlock(f))
	}
	submit := form.Submit
	if submit == "" {
		submit = "送信"
	}
	return slackapi.ModalViewRequest{
		Type:            slackapi.VTModal,
		CallbackID:      form.CallbackID,
		Title:           plainText(form.Title),
		Submit:          plainText(submit),
		Close:           plainText("キャンセル"),
		PrivateMetadata: metadata,
		Blocks:          slackapi.Blocks{BlockSet: blocks},
	}
}

func fieldBlock(f chat.Field) slackapi.Block {
	if f.Kind == chat.FieldInfo {
		return markdownSection(f.Label)
	}

	var placeholder *slackapi.TextBlockObject
	if f.Placeholder != "" {
		placeholder = plainText(f.Placeholder)
	}

	var elem slackapi.BlockElement
	switch f.Kind {
	case chat.FieldSelect:
		opts := make([]*slackapi.OptionBlockObject, 0, len(f.Options))
		var initial *slackapi.OptionBlockObject
		for _, o := range f.Options {
			opt := slackapi.NewOptionBlockObject(o.Value, plainText(o.Label), nil)
			if o.Value == f.Initial {
				initial = opt
			}
			opts = append(opts, opt)
		}
		sel := slackapi.NewOptionsSelectBlockElement(slackapi.OptTypeStatic, placeholder, f.ID, opts...)
		sel.InitialOption = initial
		elem = sel
	case chat.FieldCheckbox:
		opts := make([]*slackapi.OptionBlockObject, 0, len(f.Options))
		for _, o := range f.Options {
			opts = append(opts, slackapi.NewOptionBlockObject(o.Value, plainText(o.Label), nil))
		}
		elem = slackapi.NewCheckboxGroupsBlockElement(f.ID, opts...)
	default:
		in := slackapi.NewPlainTextInputBlockElement(placeholder, f.ID)
		in.Multiline = f.Kind == chat.FieldTextarea
		in.InitialValue = f.Initial
		elem = in
	}

	block := slackapi.NewInputBlock(f.ID, plainText(f.Label), nil, elem)
	block.Optional = f.Optional
	return block
}
