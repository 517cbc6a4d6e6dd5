package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
)

// StartAuditConsumer connects to RabbitMQ, declares the reservation.events
// queue (durable) and appends one line per event to logPath.  It runs a
// reconnect loop until ctx is cancelled.  A message that cannot be handled
// is rejected without requeue so the consumer keeps going.
func StartAuditConsumer(ctx context.Context, url, logPath string) {
	logger := log.WithField("component", "audit-consumer")
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := amqp.Dial(url)
		if err != nil {
			logger.WithError(err).Warnf("failed to dial broker; retrying in %s", backoff)
			if !sleepCtx(ctx, backoff) {
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second // reset after successful connect

		err = consumeLoop(ctx, conn, logPath, logger)
		_ = conn.Close()
		if ctx.Err() != nil {
			return
		}
		logger.WithError(err).Warn("consume loop ended; reconnecting")
		if !sleepCtx(ctx, 2*time.Second) {
			return
		}
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, logPath string, logger *log.Entry) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		logger.WithError(err).Warn("set QoS failed")
	}
	if _, err := ch.QueueDeclare(QueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(QueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := handleMessage(d.Type, d.Body, logPath); err != nil {
				logger.WithError(err).Warn("handle message failed")
				_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func handleMessage(eventType string, body []byte, logPath string) error {
	line, err := auditLine(eventType, body)
	if err != nil {
		return err
	}
	// Ensure logs directory exists
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}

// auditLine renders an event as a single human-friendly log line.
func auditLine(eventType string, body []byte) (string, error) {
	switch eventType {
	case TypeReservationConfirmed:
		var ev ReservationConfirmedEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", fmt.Errorf("unmarshal: %w", err)
		}
		return fmt.Sprintf("[%s] Reservation confirmed | reservation_id=%d | user_id=%d | popup_id=%d | slot_id=%d | date=%s %s | people=%d | path=%s | ref=%q | amount=%d cents\n",
			ev.ConfirmedAt, ev.ReservationID, ev.UserID, ev.PopupID, ev.SlotID, ev.Date, ev.StartTime, ev.People, ev.Path, ev.MerchantRef, ev.AmountCents), nil
	case TypeHoldExpired:
		var ev HoldExpiredEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", fmt.Errorf("unmarshal: %w", err)
		}
		return fmt.Sprintf("[%s] Hold expired | hold_id=%s | ref=%q | user_id=%d | popup_id=%d | slot_id=%d | date=%s | people=%d\n",
			ev.ExpiredAt, ev.HoldID, ev.MerchantRef, ev.UserID, ev.PopupID, ev.SlotID, ev.Date, ev.People), nil
	default:
		return "", fmt.Errorf("unknown event type %q", eventType)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
