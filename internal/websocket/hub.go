package chatws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/saeid-a/DeliveryChat/internal/models"
)

// Hub owns the connection registry and room memberships. All registry state
// lives inside Run; every other method talks to it over channels.
type Hub struct {
	clients map[string]map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	join       chan membership
	leave      chan membership
	broadcast  chan broadcastRequest
	evict      chan evictionRequest
	queries    chan func()
	done       chan struct{}

	authorizer  RoomAuthorizer
	relay       Relay
	connections prometheus.Gauge
	events      *prometheus.CounterVec
	logger      *log.Logger
}

type membership struct {
	client *Client
	room   string
	reply  chan bool
}

type broadcastRequest struct {
	eventType string
	payload   []byte
	rooms     []string
	reply     chan []string
}

type evictionRequest struct {
	room  string
	users []string
	reply chan int
}

type HubOptions struct {
	Authorizer  RoomAuthorizer
	Relay       Relay
	Connections prometheus.Gauge
	Events      *prometheus.CounterVec
	Logger      *log.Logger
}

func NewHub(opts HubOptions) *Hub {
	return &Hub{
		clients:     make(map[string]map[*Client]struct{}),
		rooms:       make(map[string]map[*Client]struct{}),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		join:        make(chan membership),
		leave:       make(chan membership),
		broadcast:   make(chan broadcastRequest, 64),
		evict:       make(chan evictionRequest, 16),
		queries:     make(chan func()),
		done:        make(chan struct{}),
		authorizer:  opts.Authorizer,
		relay:       opts.Relay,
		connections: opts.Connections,
		events:      opts.Events,
		logger:      opts.Logger.With("component", "realtime"),
	}
}

// Run serves the registry until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	if h.relay != nil {
		go h.relay.Listen(ctx, h.deliverRemote)
	}
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case m := <-h.join:
			m.reply <- h.addToRoom(m.client, m.room)
		case m := <-h.leave:
			m.reply <- h.removeFromRoom(m.client, m.room)
		case req := <-h.broadcast:
			reached := h.fanout(req.payload, req.rooms)
			h.countEvent(req.eventType)
			if req.reply != nil {
				req.reply <- reached
			}
		case req := <-h.evict:
			evicted := h.evictUsers(req.room, req.users)
			if req.reply != nil {
				req.reply <- evicted
			}
		case query := <-h.queries:
			query()
		}
	}
}

// Register adds a client and joins it to its private user room.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Join subscribes client to room without an authorization check. It reports
// whether the client was newly added.
func (h *Hub) Join(client *Client, room string) bool {
	return h.membership(h.join, client, room)
}

func (h *Hub) Leave(client *Client, room string) bool {
	return h.membership(h.leave, client, room)
}

func (h *Hub) membership(ch chan membership, client *Client, room string) bool {
	reply := make(chan bool, 1)
	select {
	case ch <- membership{client: client, room: room, reply: reply}:
	case <-h.done:
		return false
	}
	select {
	case ok := <-reply:
		return ok
	case <-h.done:
		return false
	}
}

// Broadcast fans event out to every connection in rooms, once per
// connection, and returns the distinct users reached on this node. Other
// nodes receive it through the relay when one is configured.
func (h *Hub) Broadcast(event models.Event, rooms ...string) []string {
	if len(rooms) == 0 {
		return nil
	}
	if event.Room == "" {
		event.Room = rooms[0]
	}
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("encode realtime event", "event", event.Type, "err", err)
		return nil
	}

	reply := make(chan []string, 1)
	select {
	case h.broadcast <- broadcastRequest{eventType: event.Type, payload: payload, rooms: rooms, reply: reply}:
	case <-h.done:
		return nil
	}

	if h.relay != nil {
		if err := h.relay.Publish(context.Background(), RelayMessage{Rooms: rooms, Payload: payload}); err != nil {
			h.logger.Warn("relay publish failed", "event", event.Type, "err", err)
		}
	}

	select {
	case reached := <-reply:
		return reached
	case <-h.done:
		return nil
	}
}

func (h *Hub) BroadcastToRoom(room string, event models.Event) {
	h.Broadcast(event, room)
}

// SendToUser reports whether userID had a connection on this node. There is
// no outbox: an offline user simply misses the event.
func (h *Hub) SendToUser(userID string, event models.Event) bool {
	return len(h.Broadcast(event, models.UserRoom(userID))) > 0
}

func (h *Hub) IsOnline(userID string) bool {
	online := false
	h.query(func() {
		online = len(h.clients[userID]) > 0
	})
	return online
}

// OnlineUsers lists the users holding a connection on this node.
func (h *Hub) OnlineUsers() []string {
	var users []string
	h.query(func() {
		users = make([]string, 0, len(h.clients))
		for userID := range h.clients {
			users = append(users, userID)
		}
	})
	return users
}

func (h *Hub) query(fn func()) {
	finished := make(chan struct{})
	select {
	case h.queries <- func() { fn(); close(finished) }:
	case <-h.done:
		return
	}
	select {
	case <-finished:
	case <-h.done:
	}
}

// deliverRemote fans out an event published by another node.
// EvictFromRoom takes every connection of userIDs out of room and tells each
// one it has left. It returns the number of connections evicted on this node;
// other nodes evict theirs through the relay.
func (h *Hub) EvictFromRoom(room string, userIDs ...string) int {
	if room == "" || len(userIDs) == 0 {
		return 0
	}
	reply := make(chan int, 1)
	select {
	case h.evict <- evictionRequest{room: room, users: userIDs, reply: reply}:
	case <-h.done:
		return 0
	}

	if h.relay != nil {
		if err := h.relay.Publish(context.Background(), RelayMessage{Rooms: []string{room}, Evict: userIDs}); err != nil {
			h.logger.Warn("relay eviction failed", "room", room, "err", err)
		}
	}

	select {
	case evicted := <-reply:
		return evicted
	case <-h.done:
		return 0
	}
}

func (h *Hub) deliverRemote(msg RelayMessage) {
	if len(msg.Evict) > 0 {
		for _, room := range msg.Rooms {
			select {
			case h.evict <- evictionRequest{room: room, users: msg.Evict}:
			case <-h.done:
				return
			}
		}
		return
	}
	select {
	case h.broadcast <- broadcastRequest{eventType: "relay", payload: msg.Payload, rooms: msg.Rooms}:
	case <-h.done:
	}
}

// evictUsers runs inside the registry loop.
func (h *Hub) evictUsers(room string, users []string) int {
	left, err := json.Marshal(models.Event{Type: models.EventLeft, Room: room, Timestamp: time.Now().UTC()})
	if err != nil {
		h.logger.Error("encode left event", "room", room, "err", err)
		return 0
	}
	evicted := 0
	var slow []*Client
	for _, userID := range users {
		for client := range h.clients[userID] {
			if !h.removeFromRoom(client, room) {
				continue
			}
			evicted++
			select {
			case client.send <- left:
			default:
				slow = append(slow, client)
			}
		}
	}
	for _, client := range slow {
		h.logger.Warn("dropping slow realtime client", "user_id", client.UserID)
		h.removeClient(client)
	}
	if evicted > 0 {
		h.countEvent(models.EventLeft)
	}
	return evicted
}

func (h *Hub) addClient(client *Client) {
	set, ok := h.clients[client.UserID]
	if !ok {
		set = make(map[*Client]struct{})
		h.clients[client.UserID] = set
	}
	set[client] = struct{}{}
	h.addToRoom(client, models.UserRoom(client.UserID))
	if h.connections != nil {
		h.connections.Inc()
	}
}

func (h *Hub) removeClient(client *Client) {
	set, ok := h.clients[client.UserID]
	if !ok {
		return
	}
	if _, exists := set[client]; !exists {
		return
	}
	delete(set, client)
	lastConnection := len(set) == 0
	if lastConnection {
		delete(h.clients, client.UserID)
	}

	rooms := make([]string, 0, len(client.rooms))
	for room := range client.rooms {
		rooms = append(rooms, room)
		h.removeFromRoom(client, room)
	}
	close(client.send)
	if h.connections != nil {
		h.connections.Dec()
	}

	if lastConnection {
		h.announcePresence(client.UserID, false, peerRooms(client.UserID, rooms))
	}
}

func (h *Hub) addToRoom(client *Client, room string) bool {
	if _, ok := client.rooms[room]; ok {
		return false
	}
	set, ok := h.rooms[room]
	if !ok {
		set = make(map[*Client]struct{})
		h.rooms[room] = set
	}
	set[client] = struct{}{}
	client.rooms[room] = struct{}{}
	if kind, _, _ := models.ParseRoom(room); kind == models.RoomKindConversation {
		h.announcePresence(client.UserID, true, []string{room})
	}
	return true
}

func (h *Hub) removeFromRoom(client *Client, room string) bool {
	if _, ok := client.rooms[room]; !ok {
		return false
	}
	delete(client.rooms, room)
	if set, ok := h.rooms[room]; ok {
		delete(set, client)
		if len(set) == 0 {
			delete(h.rooms, room)
		}
	}
	return true
}

type presencePayload struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

// announcePresence runs inside the registry loop, so it fans out directly.
func (h *Hub) announcePresence(userID string, online bool, rooms []string) {
	if len(rooms) == 0 {
		return
	}
	payload, err := json.Marshal(models.Event{
		Type:      models.EventPresence,
		Room:      rooms[0],
		Data:      presencePayload{UserID: userID, Online: online},
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		h.logger.Warn("encode presence", "user_id", userID, "err", err)
		return
	}
	h.fanout(payload, rooms)
	h.countEvent(models.EventPresence)
}

// fanout writes payload to each member of rooms once. Clients with a full
// buffer are dropped.
func (h *Hub) fanout(payload []byte, rooms []string) []string {
	seen := make(map[*Client]struct{})
	users := make(map[string]struct{})
	var slow []*Client
	for _, room := range rooms {
		for client := range h.rooms[room] {
			if _, dup := seen[client]; dup {
				continue
			}
			seen[client] = struct{}{}
			select {
			case client.send <- payload:
				users[client.UserID] = struct{}{}
			default:
				slow = append(slow, client)
			}
		}
	}
	for _, client := range slow {
		h.logger.Warn("dropping slow realtime client", "user_id", client.UserID)
		h.removeClient(client)
	}

	reached := make([]string, 0, len(users))
	for userID := range users {
		reached = append(reached, userID)
	}
	return reached
}

func (h *Hub) countEvent(eventType string) {
	if h.events != nil {
		h.events.WithLabelValues(eventType).Inc()
	}
}

func (h *Hub) shutdown() {
	for _, set := range h.clients {
		for client := range set {
			close(client.send)
		}
	}
	h.clients = map[string]map[*Client]struct{}{}
	h.rooms = map[string]map[*Client]struct{}{}
}

func peerRooms(userID string, rooms []string) []string {
	own := models.UserRoom(userID)
	peers := make([]string, 0, len(rooms))
	for _, room := range rooms {
		if room != own {
			peers = append(peers, room)
		}
	}
	return peers
}
