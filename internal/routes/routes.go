package routes

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	websocket "github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/saeid-a/DeliveryChat/internal/cache"
	"github.com/saeid-a/DeliveryChat/internal/config"
	"github.com/saeid-a/DeliveryChat/internal/handlers"
	"github.com/saeid-a/DeliveryChat/internal/jobs"
	"github.com/saeid-a/DeliveryChat/internal/metrics"
	"github.com/saeid-a/DeliveryChat/internal/middleware"
	"github.com/saeid-a/DeliveryChat/internal/models"
	"github.com/saeid-a/DeliveryChat/internal/repository"
	"github.com/saeid-a/DeliveryChat/internal/services"
	chatws "github.com/saeid-a/DeliveryChat/internal/websocket"
)

// RegisterRoutes builds the chat core and mounts it on app. Background
// workers (hub, relay listener, reconciler) stop when ctx is cancelled.
func RegisterRoutes(ctx context.Context, app *fiber.App, cfg *config.Config, db *pgxpool.Pool, logger *log.Logger) error {
	userRepo := repository.NewUserRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	conversationRepo := repository.NewConversationRepository(db)
	messageRepo := repository.NewMessageRepository(db)

	registry := prometheus.NewRegistry()
	if cfg.MetricsEnabled {
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	chatMetrics := metrics.New(registry)

	var listings services.ListingCache = cache.Noop{}
	var relay chatws.Relay
	if cfg.RedisURL != "" {
		redisClient := cache.NewClient(cfg.RedisURL)
		redisCache := cache.NewRedisCache(redisClient)
		if err := redisCache.Ping(ctx); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		listings = redisCache

		nodeID := cfg.NodeID
		if nodeID == "" {
			nodeID = uuid.NewString()
		}
		relay = chatws.NewRedisRelay(redisClient, nodeID, logger)
	} else {
		logger.Info("REDIS_URL not set, listing cache and cross-node relay disabled")
	}

	hub := chatws.NewHub(chatws.HubOptions{
		Authorizer:  chatws.NewAuthorizer(conversationRepo, orderRepo, orderRepo),
		Relay:       relay,
		Connections: chatMetrics.RealtimeConnections,
		Events:      chatMetrics.RealtimeEvents,
		Logger:      logger,
	})
	go hub.Run(ctx)

	var notifier services.Notifier = services.LogNotifier{Logger: logger}
	if cfg.NotificationURL != "" {
		notifier = services.NewHTTPNotifier(cfg.NotificationURL, cfg.NotificationToken)
	}

	var uploader services.MediaUploader
	if cfg.UploadsEnabled() {
		uploader = services.NewSupabaseStorageService(cfg.SupabaseURL, cfg.SupabaseBucket, cfg.SupabaseServiceKey)
	}

	unread := services.NewUnreadTracker(messageRepo)
	conversationService := services.NewConversationService(conversationRepo, userRepo, hub, unread, logger)
	messageService := services.NewMessageService(messageRepo, conversationService, logger)
	chatService := services.NewChatService(services.ChatDependencies{
		Conversations:   conversationService,
		Messages:        messageService,
		Unread:          unread,
		Realtime:        hub,
		Cache:           services.NewCacheCoordinator(listings, cfg.CacheTTL, chatMetrics.CacheInvalidationFail, logger),
		Notifications:   services.NewNotificationBridge(notifier, hub, chatMetrics.NotificationsFailed, logger),
		Orders:          orderRepo,
		Uploader:        uploader,
		MessagesCreated: chatMetrics.MessagesCreated,
		Logger:          logger,
	})

	if cfg.StatsReconcileCron != "" {
		reconciler, err := jobs.NewReconciler(conversationRepo, cfg.StatsReconcileCron, logger)
		if err != nil {
			return err
		}
		go reconciler.Run(ctx)
	}

	chatHandler := handlers.NewChatHandler(
		chatService,
		hub,
		cfg.JWTSecret,
		chatws.RateLimit{PerSecond: cfg.WSEventsPerSecond, Burst: cfg.WSEventBurst},
		logger,
	)

	if cfg.MetricsEnabled {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	api := app.Group("/api")

	api.Use("/v1/ws", chatHandler.WebSocketAuth)
	api.Get("/v1/ws", websocket.New(chatHandler.HandleWebSocket))

	authProtected := api.Group("/v1", middleware.AuthRequired(cfg.JWTSecret))

	conversations := authProtected.Group("/conversations")
	conversations.Get("", chatHandler.ListConversations)
	conversations.Post("/direct", chatHandler.CreateDirect)
	conversations.Post("/support", chatHandler.CreateSupport)
	conversations.Post("/order", chatHandler.CreateOrder)
	conversations.Post("/group", chatHandler.CreateGroup)
	conversations.Post("/join", chatHandler.JoinGroup)
	conversations.Get("/:id", chatHandler.GetConversation)
	conversations.Patch("/:id", chatHandler.UpdateConversation)
	conversations.Delete("/:id", chatHandler.DeleteConversation)
	conversations.Post("/:id/archive", chatHandler.Archive)
	conversations.Delete("/:id/archive", chatHandler.Unarchive)
	conversations.Get("/:id/stats", chatHandler.GetStats)
	conversations.Get("/:id/unread", chatHandler.UnreadCount)
	conversations.Post("/:id/read", chatHandler.MarkConversationRead)
	conversations.Post("/:id/participants", chatHandler.AddParticipant)
	conversations.Delete("/:id/participants/:userId", chatHandler.RemoveParticipant)
	conversations.Put("/:id/support/status", chatHandler.UpdateSupportStatus)
	conversations.Put("/:id/support/assignee", chatHandler.AssignSupport)
	conversations.Get("/:id/messages/search", chatHandler.SearchMessages)
	conversations.Get("/:id/messages", chatHandler.ListMessages)
	conversations.Post("/:id/messages", chatHandler.SendMessage)
	conversations.Post("/:id/media", chatHandler.UploadMedia)

	messages := authProtected.Group("/messages")
	messages.Patch("/:id", chatHandler.EditMessage)
	messages.Delete("/:id", chatHandler.DeleteMessage)
	messages.Post("/:id/reactions", chatHandler.React)
	messages.Delete("/:id/reactions", chatHandler.Unreact)
	messages.Post("/:id/pin", chatHandler.Pin)
	messages.Delete("/:id/pin", chatHandler.Unpin)
	messages.Post("/:id/read", chatHandler.MarkRead)

	authProtected.Put("/orders/:orderId/chat/status", middleware.RequireRole(models.RoleAdmin, models.RoleDriver), chatHandler.UpdateOrderStatus)

	return nil
}
