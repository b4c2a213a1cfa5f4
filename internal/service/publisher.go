// Package service holds side-effecting services used by the handlers.
package service

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/redsquare/screen-booking/internal/queue"
)

// BookingPublisher announces booking state changes.
type BookingPublisher interface {
	PublishBookingConfirmed(ctx context.Context, ev queue.BookingConfirmedEvent) error
}

// RabbitPublisher publishes to RabbitMQ, dialling per message. Confirmations
// are rare enough that a long-lived channel is not worth its reconnect
// handling.
type RabbitPublisher struct {
	url    string
	logger *zap.Logger
}

func NewRabbitPublisher(url string, logger *zap.Logger) *RabbitPublisher {
	return &RabbitPublisher{url: url, logger: logger}
}

// PublishBookingConfirmed sends ev as a persistent message to the durable
// booking.confirmed queue. Errors are logged and returned; callers may
// ignore them since the booking is already committed.
func (p *RabbitPublisher) PublishBookingConfirmed(ctx context.Context, ev queue.BookingConfirmedEvent) error {
	log := p.logger.With(zap.Uint64("booking_id", ev.BookingID), zap.String("queue", queue.BookingConfirmedQueue))

	conn, err := amqp.Dial(p.url)
	if err != nil {
		log.Warn("rabbitmq dial failed", zap.Error(err))
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		log.Warn("rabbitmq channel open failed", zap.Error(err))
		return err
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(queue.BookingConfirmedQueue, true, false, false, false, nil); err != nil {
		log.Warn("rabbitmq queue declare failed", zap.Error(err))
		return err
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", queue.BookingConfirmedQueue, false, false, pub); err != nil {
		log.Warn("rabbitmq publish failed", zap.Error(err))
		return err
	}
	log.Debug("published booking.confirmed")
	return nil
}
