// Package realtime fans state changes out to observers after the owning
// transaction has committed. Publication is fire-and-forget: failures are
// logged, never propagated back into the request path.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ms-pos/internal/config"
	"ms-pos/internal/kafka"
	"ms-pos/internal/logger"
	"ms-pos/internal/models"

	"github.com/go-redis/redis/v8"
)

const (
	EventOrderCreated     = "order.created"
	EventOrderUpdated     = "order.updated"
	EventOrderFinalized   = "order.finalized"
	EventTableUpdated     = "table.updated"
	EventSessionOpened    = "cash.session_opened"
	EventSessionClosed    = "cash.session_closed"
	EventMovementRecorded = "cash.movement_recorded"
)

// channelFor is the per-tenant Redis pub/sub channel dashboards are fed
// from, across all server instances.
func channelFor(tenantID string) string {
	return "pos:events:" + tenantID
}

type envelope struct {
	Type      string      `json:"type"`
	TenantID  string      `json:"tenant_id"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// Publisher implements the order and cash Publisher interfaces over Kafka
// (event stream) and Redis pub/sub (dashboard fan-out).
type Publisher struct {
	Kafka  *kafka.Producer
	Redis  *redis.Client
	Topics config.TopicConfig
	Logger *logger.Logger
}

func NewPublisher(producer *kafka.Producer, redisClient *redis.Client, topics config.TopicConfig, log *logger.Logger) *Publisher {
	return &Publisher{Kafka: producer, Redis: redisClient, Topics: topics, Logger: log}
}

func (p *Publisher) publish(topic, eventType, tenantID, key string, payload interface{}) {
	data, err := json.Marshal(envelope{
		Type:      eventType,
		TenantID:  tenantID,
		Payload:   payload,
		Timestamp: time.Now(),
	})
	if err != nil {
		p.Logger.Error("REALTIME", fmt.Sprintf("marshal %s: %v", eventType, err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if p.Kafka != nil {
		if err := p.Kafka.Publish(ctx, topic, key, data); err != nil {
			p.Logger.Error("REALTIME", fmt.Sprintf("kafka publish %s: %v", eventType, err))
		} else {
			p.Logger.LogKafka("PUBLISH", topic, eventType+" "+key)
		}
	}

	if p.Redis != nil {
		if err := p.Redis.Publish(ctx, channelFor(tenantID), data).Err(); err != nil {
			p.Logger.Error("REALTIME", fmt.Sprintf("redis publish %s: %v", eventType, err))
		}
	}
}

func (p *Publisher) OrderCreated(tenantID string, o *models.HydratedOrder) {
	p.publish(p.Topics.OrderEvents, EventOrderCreated, tenantID, o.ID, o)
}

func (p *Publisher) OrderUpdated(tenantID string, o *models.HydratedOrder) {
	p.publish(p.Topics.OrderEvents, EventOrderUpdated, tenantID, o.ID, o)
}

func (p *Publisher) OrderFinalized(tenantID string, o *models.HydratedOrder) {
	p.publish(p.Topics.OrderEvents, EventOrderFinalized, tenantID, o.ID, o)
}

func (p *Publisher) TableUpdated(tenantID string, t *models.Table) {
	p.publish(p.Topics.TableEvents, EventTableUpdated, tenantID, t.ID, t)
}

func (p *Publisher) SessionOpened(tenantID string, s *models.CashSession) {
	p.publish(p.Topics.CashEvents, EventSessionOpened, tenantID, s.ID, s)
}

func (p *Publisher) SessionClosed(tenantID string, s *models.CashSession) {
	p.publish(p.Topics.CashEvents, EventSessionClosed, tenantID, s.ID, s)
}

func (p *Publisher) MovementRecorded(tenantID string, m *models.CashMovement) {
	p.publish(p.Topics.CashEvents, EventMovementRecorded, tenantID, m.ID, m)
}
