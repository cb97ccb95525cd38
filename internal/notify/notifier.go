// Package notify sends best-effort buyer notifications for finished
// orders. Delivery failures are logged and dropped; nothing here ever
// feeds back into the order state.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	kafkax "github.com/pvb1971/eezyspaza-backend/internal/kafka"
	"github.com/pvb1971/eezyspaza-backend/internal/orders"
	"github.com/pvb1971/eezyspaza-backend/internal/redisx"
)

type Notifier struct {
	Redis     *redis.Client
	NotifyURL string // empty disables sending, messages are logged only
	HTTP      *http.Client
}

func New(rdb *redis.Client, notifyURL string) *Notifier {
	return &Notifier{
		Redis:     rdb,
		NotifyURL: notifyURL,
		HTTP:      &http.Client{Timeout: 10 * time.Second},
	}
}

type message struct {
	Reference string `json:"order_reference"`
	Status    string `json:"status"`
	Text      string `json:"text"`
}

// HandleOrderEvent consumes order.paid and order.failed envelopes. Always
// returns nil after decode succeeds: a notification that cannot be sent is
// not worth blocking the consumer group over.
func (n *Notifier) HandleOrderEvent(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return err
	}

	dkey := fmt.Sprintf(redisx.KeyNotifyDedup, env.EventID)
	if n.Redis != nil {
		if ok, _ := redisx.Exists(ctx, n.Redis, dkey); ok {
			return nil
		}
	}

	var msg message
	switch env.EventType {
	case orders.EventOrderPaid:
		p, err := kafkax.UnwrapPayload[orders.OrderPaidPayload](env.Payload)
		if err != nil {
			return err
		}
		msg = message{
			Reference: p.Reference,
			Status:    string(orders.StatusPaid),
			Text: fmt.Sprintf("Order %s paid: %d %s received. We are preparing your goods.",
				p.Reference, p.AmountCents, p.Currency),
		}
	case orders.EventOrderFailed:
		p, err := kafkax.UnwrapPayload[orders.OrderFailedPayload](env.Payload)
		if err != nil {
			return err
		}
		msg = message{
			Reference: p.Reference,
			Status:    p.Status,
			Text:      fmt.Sprintf("Order %s was not completed (%s). You have not been charged.", p.Reference, p.Status),
		}
	default:
		return nil // not ours
	}

	n.send(ctx, msg)
	if n.Redis != nil {
		_ = n.Redis.Set(ctx, dkey, "1", redisx.TTLNotifyDedup).Err()
	}
	return nil
}

func (n *Notifier) send(ctx context.Context, msg message) {
	if n.NotifyURL == "" {
		log.Printf("notify (dry run): %s", msg.Text)
		return
	}
	body, _ := json.Marshal(msg)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.NotifyURL, bytes.NewReader(body))
	if err != nil {
		log.Printf("notify %s: %v", msg.Reference, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.HTTP.Do(req)
	if err != nil {
		log.Printf("notify %s: %v", msg.Reference, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("notify %s: status %d", msg.Reference, resp.StatusCode)
	}
}
