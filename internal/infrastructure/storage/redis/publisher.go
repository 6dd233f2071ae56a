package redis

import (
	"context"
	"encoding/json"
	"strings"

	"agentmirror/internal/application/port"
	"agentmirror/internal/domain/model"

	"github.com/redis/go-redis/v9"
)

// Publisher fans executed actions out as a stream entry and a pub/sub message.
type Publisher struct {
	rdb     *redis.Client
	stream  string
	channel string
	maxLen  int64
}

type actionEvent struct {
	Agent  string               `json:"agent"`
	Result string               `json:"result"`
	Action model.ExecutedAction `json:"action"`
}

func NewPublisher(rdb *redis.Client, prefix, stream, channel string, maxLen int64) *Publisher {
	if strings.TrimSpace(prefix) == "" {
		prefix = "agentmirror"
	}
	if strings.TrimSpace(stream) == "" {
		stream = prefix + ":actions"
	}
	if strings.TrimSpace(channel) == "" {
		channel = prefix + ":actions:pub"
	}
	return &Publisher{rdb: rdb, stream: stream, channel: channel, maxLen: maxLen}
}

func (p *Publisher) PublishAction(ctx context.Context, agent string, a model.ExecutedAction) error {
	b, err := json.Marshal(actionEvent{Agent: agent, Result: a.Result(), Action: a})
	if err != nil {
		return err
	}

	// 1) Stream: XADD <stream> MAXLEN ~ n * ...
	_, err = p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: p.maxLen > 0,
		Values: map[string]any{
			"ts_ms":   a.ExecutedAt.UnixMilli(),
			"agent":   agent,
			"kind":    string(a.Action.Kind),
			"symbol":  a.Action.Symbol,
			"result":  a.Result(),
			"payload": string(b),
		},
	}).Result()
	if err != nil {
		return err
	}

	// 2) PubSub: PUBLISH <channel> json
	return p.rdb.Publish(ctx, p.channel, string(b)).Err()
}

var _ port.EventPublisher = (*Publisher)(nil)
