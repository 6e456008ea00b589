package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"ms-pos/internal/logger"
	"ms-pos/internal/sse"
)

// Bridge subscribes to the per-tenant Redis channels and feeds this
// instance's SSE clients. Going through Redis instead of emitting locally
// keeps dashboards correct when several server instances serve one tenant.
type Bridge struct {
	Redis   *redis.Client
	Emitter *sse.TenantEventEmitter
	Logger  *logger.Logger
}

func NewBridge(redisClient *redis.Client, emitter *sse.TenantEventEmitter, log *logger.Logger) *Bridge {
	return &Bridge{Redis: redisClient, Emitter: emitter, Logger: log}
}

// Run blocks consuming events until the context is cancelled.
func (b *Bridge) Run(ctx context.Context) {
	pubsub := b.Redis.PSubscribe(ctx, "pos:events:*")
	defer pubsub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, open := <-pubsub.Channel():
			if !open {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.Logger.Error("REALTIME", fmt.Sprintf("bridge decode: %v", err))
				continue
			}
			payload, err := json.Marshal(env.Payload)
			if err != nil {
				continue
			}
			b.Emitter.Emit(sse.Event{
				Type:     env.Type,
				TenantID: env.TenantID,
				Payload:  payload,
			})
		}
	}
}
