package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/saeid-a/DeliveryChat/internal/models"
	"github.com/saeid-a/DeliveryChat/internal/services"
)

func (h *ChatHandler) ListMessages(c *fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}

	page, limit := pageParams(c)
	before, err := parseTime(c.Query("before"))
	if err != nil {
		return badRequest(c, "before must be an RFC 3339 timestamp")
	}
	after, err := parseTime(c.Query("after"))
	if err != nil {
		return badRequest(c, "after must be an RFC 3339 timestamp")
	}

	includeSystem := true
	if raw := c.Query("include_system"); raw != "" {
		includeSystem = parseBool(raw)
	}

	messages, total, err := h.service.ListMessages(c.Context(), actor, c.Params("id"), services.ListMessagesOptions{
		Page:           page,
		Limit:          limit,
		Before:         before,
		After:          after,
		Types:          parseMessageTypes(c.Query("types")),
		IncludeDeleted: parseBool(c.Query("include_deleted")),
		IncludeSystem:  includeSystem,
	})
	if err != nil {
		return h.mapChatError(c, err)
	}

	return c.JSON(fiber.Map{
		"messages":   messages,
		"pagination": buildPaginationMeta(page, limit, total),
	})
}

func (h *ChatHandler) SearchMessages(c *fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}

	page, limit := pageParams(c)
	from, err := parseTime(c.Query("date_from"))
	if err != nil {
		return badRequest(c, "date_from must be an RFC 3339 timestamp")
	}
	to, err := parseTime(c.Query("date_to"))
	if err != nil {
		return badRequest(c, "date_to must be an RFC 3339 timestamp")
	}

	opts := services.SearchOptions{
		Term:     c.Query("q"),
		Types:    parseMessageTypes(c.Query("types")),
		DateFrom: from,
		DateTo:   to,
		Page:     page,
		Limit:    limit,
	}
	if sender := c.Query("sender_id"); sender != "" {
		opts.SenderID = &sender
	}

	messages, total, err := h.service.SearchMessages(c.Context(), actor, c.Params("id"), opts)
	if err != nil {
		return h.mapChatError(c, err)
	}

	return c.JSON(fiber.Map{
		"messages":   messages,
		"pagination": buildPaginationMeta(page, limit, total),
	})
}

func (h *ChatHandler) SendMessage(c *fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	var req sendMessageRequest
	if msg, ok := bindRequest(c, &req); !ok {
		return badRequest(c, msg)
	}

	message, err := h.service.SendMessage(c.Context(), actor, c.Params("id"), services.SendMessageInput{
		Type:     models.MessageType(req.Type),
		Text:     req.Text,
		Content:  req.Content,
		ReplyTo:  req.ReplyTo,
		Mentions: req.Mentions,
	})
	if err != nil {
		return h.mapChatError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": message})
}

func (h *ChatHandler) UploadMedia(c *fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return badRequest(c, "file is required")
	}
	if fileHeader.Size > services.MaxUploadSize {
		return c.Status(fiber.StatusRequestEntityTooLarge).JSON(fiber.Map{"error": "File too large"})
	}

	file, err := fileHeader.Open()
	if err != nil {
		return badRequest(c, "Unable to read uploaded file")
	}
	defer file.Close()

	message, err := h.service.UploadMedia(c.Context(), actor, c.Params("id"), file, fileHeader.Filename)
	if err != nil {
		return h.mapChatError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"message": message})
}

func (h *ChatHandler) MarkConversationRead(c *fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	ids, err := h.service.MarkConversationRead(c.Context(), actor, c.Params("id"))
	if err != nil {
		return h.mapChatError(c, err)
	}
	return c.JSON(fiber.Map{"message_ids": ids, "count": len(ids)})
}

func (h *ChatHandler) UnreadCount(c *fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	count, err := h.service.UnreadCount(c.Context(), actor, c.Params("id"))
	if err != nil {
		return h.mapChatError(c, err)
	}
	return c.JSON(fiber.Map{"unread_count": count})
}

func (h *ChatHandler) EditMessage(c *fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	var req editMessageRequest
	if msg, ok := bindRequest(c, &req); !ok {
		return badRequest(c, msg)
	}
	message, err := h.service.EditMessage(c.Context(), actor, c.Params("id"), services.SendMessageInput{
		Text:    req.Text,
		Content: req.Content,
	})
	if err != nil {
		return h.mapChatError(c, err)
	}
	return c.JSON(fiber.Map{"message": message})
}

func (h *ChatHandler) DeleteMessage(c *fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	var req deleteMessageRequest
	if len(c.Body()) > 0 {
		if msg, ok := bindRequest(c, &req); !ok {
			return badRequest(c, msg)
		}
	}
	message, err := h.service.DeleteMessage(c.Context(), actor, c.Params("id"), models.DeleteType(req.DeleteType))
	if err != nil {
		return h.mapChatError(c, err)
	}
	return c.JSON(fiber.Map{"message": message})
}

func (h *ChatHandler) React(c *fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	var req reactionRequest
	if msg, ok := bindRequest(c, &req); !ok {
		return badRequest(c, msg)
	}
	message, err := h.service.React(c.Context(), actor, c.Params("id"), req.Emoji)
	if err != nil {
		return h.mapChatError(c, err)
	}
	return c.JSON(fiber.Map{"message": message})
}

func (h *ChatHandler) Unreact(c *fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	message, err := h.service.Unreact(c.Context(), actor, c.Params("id"))
	if err != nil {
		return h.mapChatError(c, err)
	}
	return c.JSON(fiber.Map{"message": message})
}

func (h *ChatHandler) Pin(c *fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	message, err := h.service.Pin(c.Context(), actor, c.Params("id"))
	if err != nil {
		return h.mapChatError(c, err)
	}
	return c.JSON(fiber.Map{"message": message})
}

func (h *ChatHandler) Unpin(c *fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	message, err := h.service.Unpin(c.Context(), actor, c.Params("id"))
	if err != nil {
		return h.mapChatError(c, err)
	}
	return c.JSON(fiber.Map{"message": message})
}

func (h *ChatHandler) MarkRead(c *fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	message, err := h.service.MarkRead(c.Context(), actor, c.Params("id"))
	if err != nil {
		return h.mapChatError(c, err)
	}
	return c.JSON(fiber.Map{"message": message})
}
