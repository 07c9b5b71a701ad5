package rabbitmq

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/suPer8Hu/medchat/internal/chat"
	"github.com/suPer8Hu/medchat/internal/common"
)

type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher sends turn events to the durable turn queue. It satisfies
// chat.TurnObserver.
type Publisher struct {
	conn  *amqp.Connection
	ch    publishChannel
	queue string
}

// Declarer is the part of a channel needed to set up the queues.
type Declarer interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
}

// DeclareTopology declares queue, queue.retry and queue.dlq. Rejected
// messages dead-letter to the DLQ; the retry queue dead-letters back to the
// main queue once its message TTL expires.
func DeclareTopology(ch Declarer, queue string) error {
	mainQ := queue
	retryQ := queue + ".retry"
	dlqQ := queue + ".dlq"

	if _, err := ch.QueueDeclare(dlqQ, true, false, false, false, nil); err != nil {
		return errors.Wrapf(err, "declare %s", dlqQ)
	}
	if _, err := ch.QueueDeclare(retryQ, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": mainQ,
	}); err != nil {
		return errors.Wrapf(err, "declare %s", retryQ)
	}
	if _, err := ch.QueueDeclare(mainQ, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlqQ,
	}); err != nil {
		return errors.Wrapf(err, "declare %s", mainQ)
	}
	return nil
}

func NewPublisher(url, queue string) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "rabbit dial")
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrap(err, "rabbit channel")
	}
	if err := DeclareTopology(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Publisher{conn: conn, ch: ch, queue: queue}, nil
}

func (p *Publisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

// TurnCompleted publishes ev as a persistent JSON message whose MessageId is
// a fresh ULID; consumers use it to drop redeliveries.
func (p *Publisher) TurnCompleted(ctx context.Context, ev chat.TurnEvent) error {
	msg, err := encodeTurn(ev)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.ch.PublishWithContext(cctx,
		"",      // default exchange
		p.queue, // routing key = queue
		false,
		false,
		msg,
	)
}

func encodeTurn(ev chat.TurnEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return amqp.Publishing{}, errors.Wrap(err, "encode turn event")
	}
	id, err := common.NewULID()
	if err != nil {
		return amqp.Publishing{}, err
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    id,
		Type:         "turn.completed",
		Body:         body,
		Timestamp:    time.Now(),
	}, nil
}

// DecodeTurn is the consumer side of encodeTurn.
func DecodeTurn(d amqp.Delivery) (string, chat.TurnEvent, error) {
	var ev chat.TurnEvent
	if err := json.Unmarshal(d.Body, &ev); err != nil {
		return "", ev, errors.Wrap(err, "decode turn event")
	}
	if d.MessageId == "" || ev.SessionID == "" || ev.ConversationID == "" {
		return "", ev, errors.New("turn event missing ids")
	}
	return d.MessageId, ev, nil
}
