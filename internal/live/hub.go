package live

import (
	"context"
	"net/http"
	"strings"

	"github.com/devicehub/sdk-go/internal/sink"
	"github.com/devicehub/sdk-go/pkg/events"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Topic every client can subscribe to in order to receive all events.
const TopicAll = "*"

type broadcast struct {
	topic string
	data  []byte
}

// Hub fans decoded events out to websocket clients subscribed to their tag.
type Hub struct {
	register     chan *client
	unregister   chan *client
	subscription chan *subscription
	broadcast    chan broadcast
	done         chan struct{}

	connections map[*client]bool
	topics      map[string]map[*client]struct{}

	wsUpgrader websocket.Upgrader
}

func NewHub() *Hub {
	return &Hub{
		register:     make(chan *client),
		unregister:   make(chan *client),
		subscription: make(chan *subscription),
		broadcast:    make(chan broadcast, 256),
		done:         make(chan struct{}),
		connections:  map[*client]bool{},
		topics:       map[string]map[*client]struct{}{},
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// Topic normalizes a requested topic to an event tag name, or TopicAll.
func Topic(name string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == TopicAll {
		return TopicAll, true
	}
	tag := events.ParseTag(name)
	if tag == events.TagUnknown || tag.IsControl() {
		return "", false
	}
	return tag.String(), true
}

// Handle queues an event for delivery. It never blocks the dispatcher; events are dropped when the hub falls behind.
func (hub *Hub) Handle(ctx context.Context, event events.Event) error {
	data, err := sink.NewEventEnvelope(event).Marshal()
	if err != nil {
		return err
	}

	select {
	case hub.broadcast <- broadcast{topic: event.Tag().String(), data: data}:
	default:
		log.Warn().Str("tag", event.Tag().String()).Msg("live hub is behind, dropping event")
	}
	return nil
}

func (hub *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed.", http.StatusMethodNotAllowed)
		return
	}

	// Upgrade the connection
	ws, err := hub.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade connection")
		return
	}

	c := newClient(ws, hub)
	select {
	case hub.register <- c:
	case <-hub.done:
		ws.Close()
		return
	}

	go c.listenWrite()
	c.listenRead()
}

// Run serves registrations, subscriptions and broadcasts until ctx is done.
func (hub *Hub) Run(ctx context.Context) {
	log.Info().Msg("hub running")
	defer close(hub.done)

	for {
		select {
		case <-ctx.Done():
			for c := range hub.connections {
				hub.unregisterConnection(c)
			}
			log.Info().Msg("hub stopped")
			return
		case c := <-hub.register:
			hub.connections[c] = true
		case c := <-hub.unregister:
			hub.unregisterConnection(c)
		case s := <-hub.subscription:
			hub.subscribeClient(s)
		case b := <-hub.broadcast:
			hub.deliver(b)
		}
	}
}

func (hub *Hub) unregisterConnection(c *client) {
	if _, ok := hub.connections[c]; !ok {
		return
	}
	delete(hub.connections, c)
	for topic := range c.subscriptions {
		delete(hub.topics[topic], c)
	}
	c.close()
}

func (hub *Hub) subscribeClient(s *subscription) {
	if _, ok := hub.connections[s.client]; !ok {
		return
	}

	var accepted []string
	for _, requested := range s.Topics {
		topic, ok := Topic(requested)
		if !ok {
			log.Debug().Str("topic", requested).Msg("ignoring unknown topic")
			continue
		}
		if s.Type == UNSUBSCRIBE {
			delete(hub.topics[topic], s.client)
			delete(s.client.subscriptions, topic)
			log.Debug().Str("topic", topic).Msg("unsubscribed from topic")
		} else {
			if hub.topics[topic] == nil {
				hub.topics[topic] = map[*client]struct{}{}
			}
			hub.topics[topic][s.client] = struct{}{}
			s.client.subscriptions[topic] = struct{}{}
			log.Debug().Str("topic", topic).Msg("subscribed to topic")
		}
		accepted = append(accepted, topic)
	}

	reply := SUBSCRIBED
	if s.Type == UNSUBSCRIBE {
		reply = UNSUBSCRIBED
	}
	hub.sendTo(s.client, mustMarshal(subscription{Type: reply, Topics: accepted}))
}

func (hub *Hub) deliver(b broadcast) {
	sent := map[*client]struct{}{}
	for _, topic := range []string{b.topic, TopicAll} {
		for c := range hub.topics[topic] {
			if _, done := sent[c]; done {
				continue
			}
			sent[c] = struct{}{}
			hub.sendTo(c, b.data)
		}
	}
}

// sendTo drops clients that cannot keep up.
func (hub *Hub) sendTo(c *client, data []byte) {
	select {
	case c.send <- data:
	default:
		log.Warn().Msg("client send buffer full, disconnecting")
		hub.unregisterConnection(c)
	}
}
