package handlers

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/charmbracelet/log"
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/saeid-a/DeliveryChat/internal/middleware"
	"github.com/saeid-a/DeliveryChat/internal/models"
	"github.com/saeid-a/DeliveryChat/internal/services"
	chatws "github.com/saeid-a/DeliveryChat/internal/websocket"
	"github.com/saeid-a/DeliveryChat/pkg/utils"
)

type chatApplicationService interface {
	ListConversations(ctx context.Context, actor services.Actor, opts services.ListConversationsOptions) ([]models.ConversationSummary, int, error)
	GetConversation(ctx context.Context, actor services.Actor, conversationID string) (*models.ConversationSummary, error)
	Stats(ctx context.Context, actor services.Actor, conversationID string) (*services.ConversationStatsView, error)
	CreateDirect(ctx context.Context, actor services.Actor, otherUserID string) (*models.Conversation, error)
	CreateSupport(ctx context.Context, actor services.Actor, department, priority string) (*models.Conversation, error)
	CreateOrder(ctx context.Context, actor services.Actor, orderID string) (*models.Conversation, error)
	CreateGroup(ctx context.Context, actor services.Actor, input services.GroupInput) (*models.Conversation, error)
	JoinGroup(ctx context.Context, actor services.Actor, code string) (*models.Conversation, error)
	UpdateConversation(ctx context.Context, actor services.Actor, conversationID string, update services.ConversationUpdate) (*models.Conversation, error)
	Archive(ctx context.Context, actor services.Actor, conversationID string) (*models.Conversation, error)
	Unarchive(ctx context.Context, actor services.Actor, conversationID string) (*models.Conversation, error)
	DeleteConversation(ctx context.Context, actor services.Actor, conversationID string) error
	AddParticipant(ctx context.Context, actor services.Actor, conversationID, userID string) (*models.Conversation, error)
	RemoveParticipant(ctx context.Context, actor services.Actor, conversationID, userID string) (*models.Conversation, error)
	UpdateSupportStatus(ctx context.Context, actor services.Actor, conversationID string, status models.SupportStatus) (*models.Conversation, error)
	AssignSupport(ctx context.Context, actor services.Actor, conversationID, agentID string) (*models.Conversation, error)
	UpdateOrderStatus(ctx context.Context, actor services.Actor, orderID string, status models.OrderChatStatus) (*models.Conversation, error)

	ListMessages(ctx context.Context, actor services.Actor, conversationID string, opts services.ListMessagesOptions) ([]models.Message, int, error)
	SearchMessages(ctx context.Context, actor services.Actor, conversationID string, opts services.SearchOptions) ([]models.Message, int, error)
	SendMessage(ctx context.Context, actor services.Actor, conversationID string, input services.SendMessageInput) (*models.Message, error)
	UploadMedia(ctx context.Context, actor services.Actor, conversationID string, file io.Reader, filename string) (*models.Message, error)
	EditMessage(ctx context.Context, actor services.Actor, messageID string, input services.SendMessageInput) (*models.Message, error)
	DeleteMessage(ctx context.Context, actor services.Actor, messageID string, deleteType models.DeleteType) (*models.Message, error)
	React(ctx context.Context, actor services.Actor, messageID, emoji string) (*models.Message, error)
	Unreact(ctx context.Context, actor services.Actor, messageID string) (*models.Message, error)
	Pin(ctx context.Context, actor services.Actor, messageID string) (*models.Message, error)
	Unpin(ctx context.Context, actor services.Actor, messageID string) (*models.Message, error)
	MarkRead(ctx context.Context, actor services.Actor, messageID string) (*models.Message, error)
	MarkConversationRead(ctx context.Context, actor services.Actor, conversationID string) ([]string, error)
	UnreadCount(ctx context.Context, actor services.Actor, conversationID string) (int, error)
	Typing(ctx context.Context, actor services.Actor, conversationID string, isTyping bool) error
}

type ChatHandler struct {
	service   chatApplicationService
	hub       *chatws.Hub
	jwtSecret string
	rateLimit chatws.RateLimit
	logger    *log.Logger
}

func NewChatHandler(
	service chatApplicationService,
	hub *chatws.Hub,
	jwtSecret string,
	rateLimit chatws.RateLimit,
	logger *log.Logger,
) *ChatHandler {
	return &ChatHandler{
		service:   service,
		hub:       hub,
		jwtSecret: jwtSecret,
		rateLimit: rateLimit,
		logger:    logger.With("component", "http"),
	}
}

func actorFrom(c *fiber.Ctx) (services.Actor, bool) {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return services.Actor{}, false
	}
	role, _ := c.Locals("role").(string)
	return services.Actor{ID: userID, Role: role}, true
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": message})
}

func (h *ChatHandler) ListConversations(c *fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}

	page, limit := pageParams(c)
	opts := services.ListConversationsOptions{
		Page:            page,
		Limit:           limit,
		Type:            models.ConversationType(c.Query("type")),
		IncludeArchived: parseBool(c.Query("include_archived")),
		IncludeExpired:  parseBool(c.Query("include_expired")),
	}
	conversations, total, err := h.service.ListConversations(c.Context(), actor, opts)
	if err != nil {
		return h.mapChatError(c, err)
	}

	return c.JSON(fiber.Map{
		"conversations": conversations,
		"pagination":    buildPaginationMeta(page, limit, total),
	})
}

func (h *ChatHandler) GetConversation(c *fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	conversation, err := h.service.GetConversation(c.Context(), actor, c.Params("id"))
	if err != nil {
		return h.mapChatError(c, err)
	}
	return c.JSON(fiber.Map{"conversation": conversation})
}

func (h *ChatHandler) GetStats(c *fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	stats, err := h.service.Stats(c.Context(), actor, c.Params("id"))
	if err != nil {
		return h.mapChatError(c, err)
	}
	return c.JSON(fiber.Map{"stats": stats})
}

func (h *ChatHandler) CreateDirect(c *fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	var req createDirectRequest
	if msg, ok := bindRequest(c, &req); !ok {
		return badRequest(c, msg)
	}
	conversation, err := h.service.CreateDirect(c.Context(), actor, req.UserID)
	if err != nil {
		return h.mapChatError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"conversation": conversation})
}

func (h *ChatHandler) CreateSupport(c *fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	var req createSupportRequest
	if msg, ok := bindRequest(c, &req); !ok {
		return badRequest(c, msg)
	}
	conversation, err := h.service.CreateSupport(c.Context(), actor, req.Department, req.Priority)
	if err != nil {
		return h.mapChatError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"conversation": conversation})
}

func (h *ChatHandler) CreateOrder(c *fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	var req createOrderChatRequest
	if msg, ok := bindRequest(c, &req); !ok {
		return badRequest(c, msg)
	}
	conversation, err := h.service.CreateOrder(c.Context(), actor, req.OrderID)
	if err != nil {
		return h.mapChatError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"conversation": conversation})
}

func (h *ChatHandler) CreateGroup(c *fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	var req createGroupRequest
	if msg, ok := bindRequest(c, &req); !ok {
		return badRequest(c, msg)
	}
	conversation, err := h.service.CreateGroup(c.Context(), actor, services.GroupInput{
		Title:           req.Title,
		Description:     req.Description,
		Image:           req.Image,
		Participants:    req.Participants,
		IsPublic:        req.IsPublic,
		MaxParticipants: req.MaxParticipants,
	})
	if err != nil {
		return h.mapChatError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"conversation": conversation})
}

func (h *ChatHandler) JoinGroup(c *fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	var req joinGroupRequest
	if msg, ok := bindRequest(c, &req); !ok {
		return badRequest(c, msg)
	}
	conversation, err := h.service.JoinGroup(c.Context(), actor, req.Code)
	if err != nil {
		return h.mapChatError(c, err)
	}
	return c.JSON(fiber.Map{"conversation": conversation})
}

func (h *ChatHandler) UpdateConversation(c *fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	var req updateConversationRequest
	if msg, ok := bindRequest(c, &req); !ok {
		return badRequest(c, msg)
	}
	conversation, err := h.service.UpdateConversation(c.Context(), actor, c.Params("id"), services.ConversationUpdate{
		Title:                req.Title,
		Description:          req.Description,
		Image:                req.Image,
		NotificationSettings: req.NotificationSettings,
		PrivacySettings:      req.PrivacySettings,
		Tags:                 req.Tags,
	})
	if err != nil {
		return h.mapChatError(c, err)
	}
	return c.JSON(fiber.Map{"conversation": conversation})
}

func (h *ChatHandler) Archive(c *fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	conversation, err := h.service.Archive(c.Context(), actor, c.Params("id"))
	if err != nil {
		return h.mapChatError(c, err)
	}
	return c.JSON(fiber.Map{"conversation": conversation})
}

func (h *ChatHandler) Unarchive(c *fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	conversation, err := h.service.Unarchive(c.Context(), actor, c.Params("id"))
	if err != nil {
		return h.mapChatError(c, err)
	}
	return c.JSON(fiber.Map{"conversation": conversation})
}

func (h *ChatHandler) DeleteConversation(c *fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	if err := h.service.DeleteConversation(c.Context(), actor, c.Params("id")); err != nil {
		return h.mapChatError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *ChatHandler) AddParticipant(c *fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	var req addParticipantRequest
	if msg, ok := bindRequest(c, &req); !ok {
		return badRequest(c, msg)
	}
	conversation, err := h.service.AddParticipant(c.Context(), actor, c.Params("id"), req.UserID)
	if err != nil {
		return h.mapChatError(c, err)
	}
	return c.JSON(fiber.Map{"conversation": conversation})
}

func (h *ChatHandler) RemoveParticipant(c *fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	conversation, err := h.service.RemoveParticipant(c.Context(), actor, c.Params("id"), c.Params("userId"))
	if err != nil {
		return h.mapChatError(c, err)
	}
	return c.JSON(fiber.Map{"conversation": conversation})
}

func (h *ChatHandler) UpdateSupportStatus(c *fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	var req supportStatusRequest
	if msg, ok := bindRequest(c, &req); !ok {
		return badRequest(c, msg)
	}
	conversation, err := h.service.UpdateSupportStatus(c.Context(), actor, c.Params("id"), models.SupportStatus(req.Status))
	if err != nil {
		return h.mapChatError(c, err)
	}
	return c.JSON(fiber.Map{"conversation": conversation})
}

func (h *ChatHandler) AssignSupport(c *fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	var req assignSupportRequest
	if msg, ok := bindRequest(c, &req); !ok {
		return badRequest(c, msg)
	}
	conversation, err := h.service.AssignSupport(c.Context(), actor, c.Params("id"), req.AgentID)
	if err != nil {
		return h.mapChatError(c, err)
	}
	return c.JSON(fiber.Map{"conversation": conversation})
}

func (h *ChatHandler) UpdateOrderStatus(c *fiber.Ctx) error {
	actor, ok := actorFrom(c)
	if !ok {
		return unauthorized(c)
	}
	var req orderStatusRequest
	if msg, ok := bindRequest(c, &req); !ok {
		return badRequest(c, msg)
	}
	conversation, err := h.service.UpdateOrderStatus(c.Context(), actor, c.Params("orderId"), models.OrderChatStatus(req.Status))
	if err != nil {
		return h.mapChatError(c, err)
	}
	return c.JSON(fiber.Map{"conversation": conversation})
}

func (h *ChatHandler) WebSocketAuth(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return c.Status(fiber.StatusUpgradeRequired).JSON(fiber.Map{"error": "WebSocket upgrade required"})
	}

	claims, err := h.parseWSClaims(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid or expired token"})
	}

	c.Locals("user_id", claims.UserID)
	c.Locals("role", claims.Role)
	return c.Next()
}

func (h *ChatHandler) HandleWebSocket(conn *websocket.Conn) {
	userID, _ := conn.Locals("user_id").(string)
	role, _ := conn.Locals("role").(string)
	client := chatws.NewClient(h.hub, conn, userID, role, h.rateLimit)

	h.hub.Register(client)
	go client.WritePump()
	client.ReadPump(context.Background(), NewSocketRouter(h.service, h.logger))
}

func (h *ChatHandler) parseWSClaims(c *fiber.Ctx) (*utils.Claims, error) {
	tokenString := strings.TrimSpace(c.Query("token"))
	if tokenString == "" {
		tokenString, _ = middleware.BearerToken(c.Get("Authorization"))
	}

	if tokenString == "" {
		return nil, errors.New("missing token")
	}

	return utils.ValidateToken(tokenString, h.jwtSecret)
}

func (h *ChatHandler) mapChatError(c *fiber.Ctx, err error) error {
	status, message := classifyChatError(err)
	if status == fiber.StatusInternalServerError {
		h.logger.Error("chat request failed", "method", c.Method(), "path", c.Path(), "err", err)
	}
	return c.Status(status).JSON(fiber.Map{"error": message})
}

// classifyChatError maps service errors to a status code and a message that
// is safe to show the client.
func classifyChatError(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrInvalidInput):
		return fiber.StatusBadRequest, err.Error()
	case errors.Is(err, services.ErrForbidden):
		return fiber.StatusForbidden, err.Error()
	case errors.Is(err, services.ErrNotFound):
		return fiber.StatusNotFound, "Not found"
	case errors.Is(err, services.ErrConflict):
		return fiber.StatusConflict, err.Error()
	case errors.Is(err, services.ErrInactive):
		return fiber.StatusUnprocessableEntity, "Conversation is no longer active"
	default:
		return fiber.StatusInternalServerError, "Failed to process chat request"
	}
}
