package sse

import (
	"context"
	"encoding/json"
	"sync"
)

// Event is the wire format pushed to connected dashboards.
type Event struct {
	Type     string          `json:"type"`
	TenantID string          `json:"tenant_id"`
	Payload  json.RawMessage `json:"payload"`
}

// TenantEventEmitter manages SSE connections and event broadcasting,
// one subscriber group per tenant.
type TenantEventEmitter struct {
	clients map[string][]chan Event
	mutex   sync.RWMutex
}

func NewTenantEventEmitter() *TenantEventEmitter {
	return &TenantEventEmitter{
		clients: make(map[string][]chan Event),
	}
}

// Subscribe adds a client to the tenant's event stream. The client is
// removed when its context is done.
func (e *TenantEventEmitter) Subscribe(ctx context.Context, tenantID string) chan Event {
	clientChan := make(chan Event, 10)

	e.mutex.Lock()
	e.clients[tenantID] = append(e.clients[tenantID], clientChan)
	e.mutex.Unlock()

	go func() {
		<-ctx.Done()
		e.removeClient(tenantID, clientChan)
	}()

	return clientChan
}

// Emit broadcasts an event to all of the tenant's subscribers. Sends are
// non-blocking; a client with a full buffer misses the event.
func (e *TenantEventEmitter) Emit(event Event) {
	e.mutex.RLock()
	clients := e.clients[event.TenantID]
	e.mutex.RUnlock()

	for _, clientChan := range clients {
		select {
		case clientChan <- event:
		default:
		}
	}
}

func (e *TenantEventEmitter) removeClient(tenantID string, clientChan chan Event) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	clients := e.clients[tenantID]
	for i, ch := range clients {
		if ch == clientChan {
			e.clients[tenantID] = append(clients[:i], clients[i+1:]...)
			close(clientChan)
			break
		}
	}
	if len(e.clients[tenantID]) == 0 {
		delete(e.clients, tenantID)
	}
}
