package kafka

import (
	"context"
	"log"
	"time"

	"github.com/segmentio/kafka-go"
)

// Producer is a topic-bound async writer. Publishes go through an inbox
// channel so HTTP handlers never block on the broker; the loop flushes the
// remaining inbox on shutdown.
type Producer struct {
	w       *kafka.Writer
	inbox   chan kafka.Message
	closeCh chan struct{}
}

func NewProducer(brokers []string, topic string, buf int) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        true,
		},
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
	}
}

func (p *Producer) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				// Drain what is already queued, then stop.
				for {
					select {
					case m, ok := <-p.inbox:
						if !ok {
							p.stop()
							return
						}
						p.write(m)
					default:
						p.stop()
						return
					}
				}
			case m, ok := <-p.inbox:
				if !ok {
					p.stop()
					return
				}
				p.write(m)
			}
		}
	}()
}

func (p *Producer) stop() {
	_ = p.w.Close()
	close(p.closeCh)
}

func (p *Producer) write(m kafka.Message) {
	if err := p.w.WriteMessages(context.Background(), m); err != nil {
		// Lifecycle events are advisory; the store already committed.
		log.Printf("kafka write %s: %v", p.w.Topic, err)
	}
}

func (p *Producer) Publish(key, value []byte, headers ...kafka.Header) {
	p.inbox <- kafka.Message{
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: headers,
	}
}

// Close stops accepting publishes; the loop flushes what is queued.
func (p *Producer) Close() { close(p.inbox) }

// WaitClosed blocks until the flush loop has exited.
func (p *Producer) WaitClosed() { <-p.closeCh }
