package chatws

import (
	"context"
	"encoding/json"

	"github.com/charmbracelet/log"
	"github.com/go-redis/redis/v8"
)

const relayChannel = "chat:realtime"

// RelayMessage is either a room broadcast (Payload set) or an eviction of
// Evict's users from every room in Rooms.
type RelayMessage struct {
	Rooms   []string        `json:"rooms"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Evict   []string        `json:"evict,omitempty"`
}

// Relay carries room broadcasts and evictions between server processes.
type Relay interface {
	Publish(ctx context.Context, msg RelayMessage) error
	Listen(ctx context.Context, deliver func(msg RelayMessage))
}

type relayEnvelope struct {
	Node string `json:"node"`
	RelayMessage
}

// RedisRelay fans broadcasts out over Redis pub/sub. Each node ignores its
// own envelopes.
type RedisRelay struct {
	client *redis.Client
	nodeID string
	logger *log.Logger
}

func NewRedisRelay(client *redis.Client, nodeID string, logger *log.Logger) *RedisRelay {
	return &RedisRelay{client: client, nodeID: nodeID, logger: logger.With("component", "relay", "node", nodeID)}
}

func (r *RedisRelay) Publish(ctx context.Context, msg RelayMessage) error {
	encoded, err := json.Marshal(relayEnvelope{Node: r.nodeID, RelayMessage: msg})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, relayChannel, encoded).Err()
}

func (r *RedisRelay) Listen(ctx context.Context, deliver func(msg RelayMessage)) {
	sub := r.client.Subscribe(ctx, relayChannel)
	defer sub.Close()

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			envelope, ok := r.decode(msg.Payload)
			if !ok || envelope.Node == r.nodeID {
				continue
			}
			deliver(envelope.RelayMessage)
		}
	}
}

func (r *RedisRelay) decode(raw string) (relayEnvelope, bool) {
	var envelope relayEnvelope
	if err := json.Unmarshal([]byte(raw), &envelope); err != nil {
		r.logger.Warn("dropping malformed relay envelope", "err", err)
		return relayEnvelope{}, false
	}
	return envelope, true
}
