package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/gofiber/fiber/v2"
	"github.com/saeid-a/DeliveryChat/internal/models"
	"github.com/saeid-a/DeliveryChat/internal/services"
	chatws "github.com/saeid-a/DeliveryChat/internal/websocket"
)

const (
	FrameMessageSend  = "message:send"
	FrameMessageRead  = "message:read"
	FrameTyping       = "typing"
	FrameMessageReact = "message:react"
)

var errUnknownFrame = errors.New("unknown event type")

type socketSendData struct {
	ConversationID string          `json:"conversation_id" validate:"required"`
	Type           string          `json:"type" validate:"omitempty,oneof=text location contact sticker"`
	Text           string          `json:"text" validate:"max=5000"`
	Content        json.RawMessage `json:"content"`
	ReplyTo        *string         `json:"reply_to" validate:"omitempty,min=1"`
	Mentions       []string        `json:"mentions" validate:"max=50"`
}

type socketReadData struct {
	ConversationID string `json:"conversation_id" validate:"required"`
	MessageID      string `json:"message_id"`
}

type socketTypingData struct {
	ConversationID string `json:"conversation_id" validate:"required"`
	IsTyping       bool   `json:"is_typing"`
}

type socketReactData struct {
	MessageID string `json:"message_id" validate:"required"`
	Emoji     string `json:"emoji"`
}

// SocketRouter dispatches realtime frames to the chat service. Every error
// it returns is safe to echo to the client.
type SocketRouter struct {
	service chatApplicationService
	logger  *log.Logger
}

func NewSocketRouter(service chatApplicationService, logger *log.Logger) *SocketRouter {
	return &SocketRouter{service: service, logger: logger}
}

func (r *SocketRouter) Route(ctx context.Context, client *chatws.Client, frame chatws.Frame) error {
	actor := services.Actor{ID: client.UserID, Role: client.Role}
	err := r.dispatch(ctx, actor, frame)
	if err == nil {
		return nil
	}
	return r.clientError(frame.Type, actor, err)
}

func (r *SocketRouter) dispatch(ctx context.Context, actor services.Actor, frame chatws.Frame) error {
	switch frame.Type {
	case FrameMessageSend:
		var data socketSendData
		if err := decodeFrame(frame, &data); err != nil {
			return err
		}
		_, err := r.service.SendMessage(ctx, actor, data.ConversationID, services.SendMessageInput{
			Type:     models.MessageType(data.Type),
			Text:     data.Text,
			Content:  data.Content,
			ReplyTo:  data.ReplyTo,
			Mentions: data.Mentions,
		})
		return err
	case FrameMessageRead:
		var data socketReadData
		if err := decodeFrame(frame, &data); err != nil {
			return err
		}
		if data.MessageID == "" {
			_, err := r.service.MarkConversationRead(ctx, actor, data.ConversationID)
			return err
		}
		_, err := r.service.MarkRead(ctx, actor, data.MessageID)
		return err
	case FrameTyping:
		var data socketTypingData
		if err := decodeFrame(frame, &data); err != nil {
			return err
		}
		return r.service.Typing(ctx, actor, data.ConversationID, data.IsTyping)
	case FrameMessageReact:
		var data socketReactData
		if err := decodeFrame(frame, &data); err != nil {
			return err
		}
		if data.Emoji == "" {
			_, err := r.service.Unreact(ctx, actor, data.MessageID)
			return err
		}
		_, err := r.service.React(ctx, actor, data.MessageID, data.Emoji)
		return err
	}
	return fmt.Errorf("%w: %s", errUnknownFrame, frame.Type)
}

func decodeFrame(frame chatws.Frame, dst any) error {
	if len(frame.Data) == 0 {
		return fmt.Errorf("%w: %s needs data", services.ErrInvalidInput, frame.Type)
	}
	if err := json.Unmarshal(frame.Data, dst); err != nil {
		return fmt.Errorf("%w: malformed %s data", services.ErrInvalidInput, frame.Type)
	}
	if err := validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %s", services.ErrInvalidInput, formatValidationError(err))
	}
	return nil
}

func (r *SocketRouter) clientError(frameType string, actor services.Actor, err error) error {
	if errors.Is(err, errUnknownFrame) {
		return err
	}
	status, message := classifyChatError(err)
	if status == fiber.StatusInternalServerError {
		r.logger.Error("realtime event failed", "event", frameType, "user_id", actor.ID, "err", err)
		return errors.New("failed to process event")
	}
	return errors.New(message)
}
