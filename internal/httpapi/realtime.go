package httpapi

import (
	"net/http"
	"strings"

	"qrfood/order-service/internal/hub"
	"qrfood/order-service/internal/queue"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/sirupsen/logrus"
)

const realtimeBuffer = 16

// RealtimeHandler serves the sockjs endpoint under /realtime. Order events
// carry no customer data, so the socket is public like the display board.
func RealtimeHandler(h *hub.Hub, codec *queue.Codec) http.Handler {
	return sockjs.NewHandler("/realtime", sockjs.DefaultOptions, func(session sockjs.Session) {
		client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, realtimeBuffer)}
		h.Register(client)
		defer h.Unregister(client)
		logrus.WithField("client_id", client.ID).Debug("realtime client connected")

		go func() {
			for msg := range client.Send {
				_ = session.Send(string(msg))
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := hub.ParseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			sub, ok := subscriptionFor(parsed, codec)
			if !ok {
				_ = session.Close(4000, "invalid queue label")
				return
			}
			h.UpdateSubscription(client, sub)
		}
	})
}

// subscriptionFor maps a subscribe message to a hub subscription keyed on the
// canonical label, so Q7 and Q007 reach the same events. Unsubscribe and an
// empty queue both fall back to the board feed.
func subscriptionFor(parsed hub.SubscribeMessage, codec *queue.Codec) (hub.Subscription, bool) {
	if parsed.Action == "unsubscribe" || parsed.Queue == "" {
		return hub.Subscription{}, true
	}
	n, ok := queue.ParseLabel(parsed.Queue)
	if !ok || strings.TrimRight(parsed.Queue, "0123456789") != codec.Prefix() {
		return hub.Subscription{}, false
	}
	return hub.Subscription{Queue: codec.Format(n)}, true
}
