package transport

import "time"

// ContentKind tags the shape of an inbound message body.
type ContentKind string

const (
	KindConversation        ContentKind = "conversation"
	KindExtendedText        ContentKind = "extendedTextMessage"
	KindImage               ContentKind = "imageMessage"
	KindVideo               ContentKind = "videoMessage"
	KindDocument            ContentKind = "documentMessage"
	KindListResponse        ContentKind = "listResponseMessage"
	KindButtonsResponse     ContentKind = "buttonsResponseMessage"
	KindTemplateButtonReply ContentKind = "templateButtonReplyMessage"
	KindInteractiveResponse ContentKind = "interactiveResponseMessage"
	KindButtons             ContentKind = "buttonsMessage"
	KindUnknown             ContentKind = "unknown"
)

// Content is the union of the text-bearing fields of all supported shapes.
// Only the fields meaningful for Kind are populated.
type Content struct {
	Kind ContentKind

	Conversation        string
	Text                string
	Caption             string
	Description         string
	Title               string
	ContentText         string
	SelectedDisplayText string
	SelectedRowID       string
	SelectedButtonID    string
	// ParamsJSON is the native-flow reply payload of interactive responses.
	ParamsJSON string
}

// RawMessage is an inbound message as delivered by the client.
type RawMessage struct {
	ID          string
	ChatID      string
	Participant string
	FromMe      bool
	PushName    string
	Timestamp   time.Time
	// Content is nil for protocol messages without a body.
	Content *Content
}
