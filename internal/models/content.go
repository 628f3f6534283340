package models

import (
	"encoding/json"
	"fmt"
)

type MessageType string

const (
	MessageText        MessageType = "text"
	MessageImage       MessageType = "image"
	MessageVideo       MessageType = "video"
	MessageAudio       MessageType = "audio"
	MessageFile        MessageType = "file"
	MessageLocation    MessageType = "location"
	MessageContact     MessageType = "contact"
	MessageSticker     MessageType = "sticker"
	MessageSystem      MessageType = "system"
	MessageOrderUpdate MessageType = "order_update"
	MessageDelivery    MessageType = "delivery"
)

const MaxTextLength = 5000

func (t MessageType) Valid() bool {
	switch t {
	case MessageText, MessageImage, MessageVideo, MessageAudio, MessageFile,
		MessageLocation, MessageContact, MessageSticker, MessageSystem,
		MessageOrderUpdate, MessageDelivery:
		return true
	}
	return false
}

func (t MessageType) IsMedia() bool {
	switch t {
	case MessageImage, MessageVideo, MessageAudio, MessageFile:
		return true
	}
	return false
}

// Content is the payload of a message. Each message type has exactly one
// concrete payload; DecodeContent is the only place that maps between them.
type Content interface {
	isContent()
}

type TextContent struct {
	Text string `json:"text"`
}

type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// MediaContent is the descriptor handed back by the upload collaborator.
type MediaContent struct {
	URL        string      `json:"url"`
	Filename   string      `json:"filename"`
	Size       int64       `json:"size"`
	MimeType   string      `json:"mime_type"`
	Duration   *float64    `json:"duration,omitempty"`
	Dimensions *Dimensions `json:"dimensions,omitempty"`
}

type LocationContent struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address *string `json:"address,omitempty"`
}

type ContactContent struct {
	Name  string  `json:"name"`
	Phone string  `json:"phone"`
	Email *string `json:"email,omitempty"`
}

type StickerContent struct {
	StickerID string `json:"sticker_id"`
	URL       string `json:"url"`
}

type SystemContent struct {
	Action string         `json:"action"`
	Data   map[string]any `json:"data,omitempty"`
}

type OrderUpdateContent struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	Note    string `json:"note,omitempty"`
}

type DeliveryContent struct {
	OrderID string           `json:"order_id"`
	Status  string           `json:"status"`
	ETA     *string          `json:"eta,omitempty"`
	At      *LocationContent `json:"location,omitempty"`
}

func (TextContent) isContent()        {}
func (MediaContent) isContent()       {}
func (LocationContent) isContent()    {}
func (ContactContent) isContent()     {}
func (StickerContent) isContent()     {}
func (SystemContent) isContent()      {}
func (OrderUpdateContent) isContent() {}
func (DeliveryContent) isContent()    {}

// ContentMatches reports whether content is the payload shape for t.
func ContentMatches(t MessageType, content Content) bool {
	switch content.(type) {
	case TextContent:
		return t == MessageText
	case MediaContent:
		return t.IsMedia()
	case LocationContent:
		return t == MessageLocation
	case ContactContent:
		return t == MessageContact
	case StickerContent:
		return t == MessageSticker
	case SystemContent:
		return t == MessageSystem
	case OrderUpdateContent:
		return t == MessageOrderUpdate
	case DeliveryContent:
		return t == MessageDelivery
	}
	return false
}

func DecodeContent(t MessageType, raw json.RawMessage) (Content, error) {
	var (
		content Content
		err     error
	)
	switch t {
	case MessageText:
		var c TextContent
		err = json.Unmarshal(raw, &c)
		content = c
	case MessageImage, MessageVideo, MessageAudio, MessageFile:
		var c MediaContent
		err = json.Unmarshal(raw, &c)
		content = c
	case MessageLocation:
		var c LocationContent
		err = json.Unmarshal(raw, &c)
		content = c
	case MessageContact:
		var c ContactContent
		err = json.Unmarshal(raw, &c)
		content = c
	case MessageSticker:
		var c StickerContent
		err = json.Unmarshal(raw, &c)
		content = c
	case MessageSystem:
		var c SystemContent
		err = json.Unmarshal(raw, &c)
		content = c
	case MessageOrderUpdate:
		var c OrderUpdateContent
		err = json.Unmarshal(raw, &c)
		content = c
	case MessageDelivery:
		var c DeliveryContent
		err = json.Unmarshal(raw, &c)
		content = c
	default:
		return nil, fmt.Errorf("unknown message type %q", t)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s content: %w", t, err)
	}
	return content, nil
}
