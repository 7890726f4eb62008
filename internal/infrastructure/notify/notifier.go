package notify

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"custody.backend/pkg/logger"
)

// Message is the payload delivered to the chat front-end.
type Message struct {
	UserID  int64  `json:"userId"`
	Message string `json:"message"`
}

// RedisNotifier publishes user messages on a pub/sub channel the front-end
// subscribes to. Delivery is best-effort.
type RedisNotifier struct {
	rdb     *redis.Client
	channel string
}

func NewRedisNotifier(rdb *redis.Client, channel string) *RedisNotifier {
	return &RedisNotifier{rdb: rdb, channel: channel}
}

func (n *RedisNotifier) Notify(ctx context.Context, userID int64, message string) error {
	payload, err := json.Marshal(Message{UserID: userID, Message: message})
	if err != nil {
		return err
	}
	if err := n.rdb.Publish(ctx, n.channel, payload).Err(); err != nil {
		logger.Warn(ctx, "Notification publish failed",
			zap.Int64("user_id", userID),
			zap.String("channel", n.channel),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// LogNotifier writes notifications to the log. Used when Redis is not configured.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, userID int64, message string) error {
	logger.Info(ctx, "Notification", zap.Int64("user_id", userID), zap.String("message", message))
	return nil
}
