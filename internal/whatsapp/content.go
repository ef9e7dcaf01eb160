package whatsapp

import (
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/talkincode/wabot/internal/transport"
)

// extractContent maps the first populated message shape onto transport.Content.
// It returns nil for messages without a body (receipts, protocol messages).
func extractContent(msg *waE2E.Message) *transport.Content {
	if msg == nil {
		return nil
	}
	switch {
	case msg.Conversation != nil:
		return &transport.Content{Kind: transport.KindConversation, Conversation: msg.GetConversation()}
	case msg.ExtendedTextMessage != nil:
		m := msg.GetExtendedTextMessage()
		return &transport.Content{
			Kind:        transport.KindExtendedText,
			Text:        m.GetText(),
			Title:       m.GetTitle(),
			Description: m.GetDescription(),
		}
	case msg.ImageMessage != nil:
		return &transport.Content{Kind: transport.KindImage, Caption: msg.GetImageMessage().GetCaption()}
	case msg.VideoMessage != nil:
		return &transport.Content{Kind: transport.KindVideo, Caption: msg.GetVideoMessage().GetCaption()}
	case msg.DocumentMessage != nil:
		m := msg.GetDocumentMessage()
		return &transport.Content{Kind: transport.KindDocument, Caption: m.GetCaption(), Title: m.GetTitle()}
	case msg.ListResponseMessage != nil:
		m := msg.GetListResponseMessage()
		return &transport.Content{
			Kind:          transport.KindListResponse,
			Title:         m.GetTitle(),
			Description:   m.GetDescription(),
			SelectedRowID: m.GetSingleSelectReply().GetSelectedRowID(),
		}
	case msg.ButtonsResponseMessage != nil:
		m := msg.GetButtonsResponseMessage()
		return &transport.Content{
			Kind:                transport.KindButtonsResponse,
			SelectedButtonID:    m.GetSelectedButtonID(),
			SelectedDisplayText: m.GetSelectedDisplayText(),
		}
	case msg.TemplateButtonReplyMessage != nil:
		m := msg.GetTemplateButtonReplyMessage()
		return &transport.Content{
			Kind:                transport.KindTemplateButtonReply,
			SelectedDisplayText: m.GetSelectedDisplayText(),
		}
	case msg.InteractiveResponseMessage != nil:
		m := msg.GetInteractiveResponseMessage()
		return &transport.Content{
			Kind:       transport.KindInteractiveResponse,
			ParamsJSON: m.GetNativeFlowResponseMessage().GetParamsJSON(),
		}
	case msg.ButtonsMessage != nil:
		return &transport.Content{Kind: transport.KindButtons, ContentText: msg.GetButtonsMessage().GetContentText()}
	}
	return &transport.Content{Kind: transport.KindUnknown}
}

// rawMessage converts a whatsmeow message event. The participant is only set
// for chats with more than one sender (groups, status broadcast).
func rawMessage(evt *events.Message) transport.RawMessage {
	info := evt.Info
	raw := transport.RawMessage{
		ID:        info.ID,
		ChatID:    info.Chat.String(),
		FromMe:    info.IsFromMe,
		PushName:  info.PushName,
		Timestamp: info.Timestamp,
		Content:   extractContent(evt.Message),
	}
	if info.IsGroup || info.Chat == types.StatusBroadcastJID {
		raw.Participant = info.Sender.ToNonAD().String()
	}
	return raw
}
