package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/saeid-a/DeliveryChat/internal/models"
)

var validate = newValidator()

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type createDirectRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

type createSupportRequest struct {
	Department string `json:"department" validate:"required,max=64"`
	Priority   string `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
}

type createOrderChatRequest struct {
	OrderID string `json:"order_id" validate:"required"`
}

type createGroupRequest struct {
	Title           string   `json:"title" validate:"required,max=120"`
	Description     string   `json:"description" validate:"max=1000"`
	Image           string   `json:"image" validate:"omitempty,url"`
	Participants    []string `json:"participants" validate:"max=1000,dive,required"`
	IsPublic        bool     `json:"is_public"`
	MaxParticipants int      `json:"max_participants" validate:"omitempty,min=2,max=1000"`
}

type joinGroupRequest struct {
	Code string `json:"code" validate:"required,max=32"`
}

type updateConversationRequest struct {
	Title                *string                      `json:"title" validate:"omitempty,max=120"`
	Description          *string                      `json:"description" validate:"omitempty,max=1000"`
	Image                *string                      `json:"image" validate:"omitempty,url"`
	NotificationSettings *models.NotificationSettings `json:"notification_settings"`
	PrivacySettings      *models.PrivacySettings      `json:"privacy_settings"`
	Tags                 []string                     `json:"tags" validate:"omitempty,max=20,dive,max=32"`
}

type addParticipantRequest struct {
	UserID string `json:"user_id" validate:"required"`
}

type supportStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=open pending resolved closed"`
}

type assignSupportRequest struct {
	AgentID string `json:"agent_id" validate:"required"`
}

type orderStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=completed cancelled"`
}

type sendMessageRequest struct {
	Type     string          `json:"type" validate:"omitempty,oneof=text image video audio file location contact sticker"`
	Text     string          `json:"text" validate:"max=5000"`
	Content  json.RawMessage `json:"content"`
	ReplyTo  *string         `json:"reply_to" validate:"omitempty,min=1"`
	Mentions []string        `json:"mentions" validate:"max=50"`
}

type editMessageRequest struct {
	Text    string          `json:"text" validate:"max=5000"`
	Content json.RawMessage `json:"content"`
}

type reactionRequest struct {
	Emoji string `json:"emoji" validate:"required"`
}

type deleteMessageRequest struct {
	DeleteType string `json:"delete_type" validate:"omitempty,oneof=sender admin system"`
}

// bindRequest parses and validates a JSON body. The returned message is
// suitable for the client.
func bindRequest(c *fiber.Ctx, dst any) (string, bool) {
	if err := c.BodyParser(dst); err != nil {
		return "Invalid request body", false
	}
	if err := validate.Struct(dst); err != nil {
		return formatValidationError(err), false
	}
	return "", true
}

func formatValidationError(err error) string {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return "Invalid request"
	}
	messages := make([]string, 0, len(errs))
	for _, e := range errs {
		field := e.Field()
		if e.Param() != "" {
			messages = append(messages, fmt.Sprintf("%s failed %s=%s", field, e.Tag(), e.Param()))
			continue
		}
		messages = append(messages, fmt.Sprintf("%s failed %s", field, e.Tag()))
	}
	return strings.Join(messages, ", ")
}
