package realtime

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// writeWait bounds how long a single websocket write may take before the
// client is considered stalled and dropped.
const writeWait = 5 * time.Second

// Event kinds
const (
	EventOrderCreated       = "order_created"
	EventOrderStatusChanged = "order_status_changed"
	EventSessionClosed      = "session_closed"
	EventTableResync        = "table_resync"
)

// Event is what observers of a table receive. Observers treat every event as
// a trigger to re-fetch the authoritative snapshot rather than as state
// itself, so duplicate or dropped delivery is harmless.
type Event struct {
	Event   string      `json:"event"`
	TableID uint        `json:"table_id"`
	Data    interface{} `json:"data,omitempty"`
}

type subscriber struct {
	ch chan Event
}

// Hub is the per-table broadcast channel. Each table has one logical
// channel; websocket observers and in-process subscribers of that table all
// receive its events. Publishing never blocks the write path: a websocket
// write error skips that client and a full subscriber channel drops the
// event (the subscriber resynchronizes from the snapshot endpoint).
type Hub struct {
	mu    sync.Mutex
	subs  map[uint]map[*subscriber]struct{}
	conns map[uint]map[*websocket.Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{
		subs:  make(map[uint]map[*subscriber]struct{}),
		conns: make(map[uint]map[*websocket.Conn]struct{}),
	}
}

// Subscribe registers an in-process observer of one table. The returned
// cancel func must be called on disconnect; it closes the stream and
// releases the fan-out slot.
func (h *Hub) Subscribe(tableID uint) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, 16)}

	h.mu.Lock()
	if h.subs[tableID] == nil {
		h.subs[tableID] = make(map[*subscriber]struct{})
	}
	h.subs[tableID][sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[tableID], sub)
			if len(h.subs[tableID]) == 0 {
				delete(h.subs, tableID)
			}
			h.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Attach registers a websocket observer of one table.
func (h *Hub) Attach(tableID uint, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[tableID] == nil {
		h.conns[tableID] = make(map[*websocket.Conn]struct{})
	}
	h.conns[tableID][conn] = struct{}{}
}

// Detach unregisters a websocket observer and closes the connection.
func (h *Hub) Detach(tableID uint, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.conns[tableID]; ok {
		delete(set, conn)
		if len(set) == 0 {
			delete(h.conns, tableID)
		}
	}
	conn.Close()
}

// Publish fans an event out to every observer of the table. Callers publish
// only after the underlying write has committed.
func (h *Hub) Publish(tableID uint, event Event) {
	event.TableID = tableID

	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("Error marshaling event: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.conns[tableID] {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			// A stalled or gone client must never hold up the write path;
			// drop it and let it reconnect and resync from the snapshot.
			log.Printf("Error sending event to client, dropping it: %v", err)
			delete(h.conns[tableID], conn)
			if len(h.conns[tableID]) == 0 {
				delete(h.conns, tableID)
			}
			conn.Close()
		}
	}

	for sub := range h.subs[tableID] {
		select {
		case sub.ch <- event:
		default:
			// Slow consumer; it re-fetches on the next event or resync.
		}
	}
}

// SubscribedTables lists tables that currently have at least one observer.
func (h *Hub) SubscribedTables() []uint {
	h.mu.Lock()
	defer h.mu.Unlock()

	seen := make(map[uint]struct{})
	for id := range h.subs {
		seen[id] = struct{}{}
	}
	for id := range h.conns {
		seen[id] = struct{}{}
	}

	tables := make([]uint, 0, len(seen))
	for id := range seen {
		tables = append(tables, id)
	}
	return tables
}
