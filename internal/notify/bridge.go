package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const DefaultChannel = "coursehub:notifications"

// 信封中的通知类型。
const (
	KindMaterialPublished = "material_published"
	KindTestPublished     = "test_published"
	KindTestGraded        = "test_graded"
)

// Envelope 是其他进程中的领域服务发布到 Redis 频道的消息格式。
type Envelope struct {
	Kind    string          `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// Bridge 订阅 Redis pub/sub 频道并把通知交给 Notifier。
// Redis pub/sub 本身就是至多一次投递，与通知的语义一致。
type Bridge struct {
	client   *redis.Client
	channel  string
	notifier *Notifier
}

func NewBridge(client *redis.Client, channel string, n *Notifier) *Bridge {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Bridge{client: client, channel: channel, notifier: n}
}

// NewRedisClient 解析 REDIS_URL 并确认连接可用。
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// Run 阻塞直到 ctx 取消或订阅断开。单条消息处理失败只记录日志。
func (b *Bridge) Run(ctx context.Context) error {
	sub := b.client.Subscribe(ctx, b.channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	log.Info().Str("channel", b.channel).Msg("notification bridge subscribed")
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			n, err := b.Dispatch(ctx, []byte(msg.Payload))
			if err != nil {
				log.Warn().Err(err).Str("channel", msg.Channel).Msg("drop notification")
				continue
			}
			log.Debug().Int("delivered", n).Msg("bridged notification")
		}
	}
}

// Dispatch 解析信封并调用对应的 Notifier 入口。
func (b *Bridge) Dispatch(ctx context.Context, payload []byte) (int, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return 0, fmt.Errorf("decode envelope: %w", err)
	}
	switch env.Kind {
	case KindMaterialPublished:
		var in MaterialPublishedInput
		if err := json.Unmarshal(env.Payload, &in); err != nil {
			return 0, fmt.Errorf("decode %s: %w", env.Kind, err)
		}
		return b.notifier.NotifyMaterialPublished(ctx, in)
	case KindTestPublished:
		var in TestPublishedInput
		if err := json.Unmarshal(env.Payload, &in); err != nil {
			return 0, fmt.Errorf("decode %s: %w", env.Kind, err)
		}
		return b.notifier.NotifyTestPublished(ctx, in)
	case KindTestGraded:
		var in TestGradedInput
		if err := json.Unmarshal(env.Payload, &in); err != nil {
			return 0, fmt.Errorf("decode %s: %w", env.Kind, err)
		}
		return b.notifier.NotifyTestGraded(ctx, in)
	}
	return 0, fmt.Errorf("unknown notification kind %q", env.Kind)
}

// Publish 供领域服务把通知发布到频道。
func Publish(ctx context.Context, client *redis.Client, channel, kind string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	env, err := json.Marshal(Envelope{Kind: kind, Payload: body})
	if err != nil {
		return err
	}
	return client.Publish(ctx, channel, env).Err()
}
