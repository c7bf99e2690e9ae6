// Package events publishes completed transfers to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/yashasviy/peer-transfer-api/models"
	"github.com/yashasviy/peer-transfer-api/telemetry"
	"github.com/yashasviy/peer-transfer-api/transfer"
)

// TransferCompletedSubject carries one message per committed transfer.
const TransferCompletedSubject = "transfers.completed"

// TransferCompleted is the JSON payload of TransferCompletedSubject.
type TransferCompleted struct {
	TransferID             string    `json:"transfer_id"`
	SenderAccountID        string    `json:"sender_account_id"`
	RecipientAccountID     string    `json:"recipient_account_id"`
	Amount                 string    `json:"amount"`
	SenderRemainingBalance string    `json:"sender_remaining_balance"`
	CompletedAt            time.Time `json:"completed_at"`
}

// Publisher implements transfer.Publisher on a NATS connection.
type Publisher struct {
	conn    *nats.Conn
	subject string
}

var _ transfer.Publisher = (*Publisher)(nil)

// Connect dials url with reconnects enabled.
func Connect(url string, logger *slog.Logger) (*Publisher, error) {
	opts := []nats.Option{
		nats.Name("peer-transfer-api"),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", slog.Any("error", err))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return NewPublisher(conn), nil
}

func NewPublisher(conn *nats.Conn) *Publisher {
	return &Publisher{conn: conn, subject: TransferCompletedSubject}
}

// PublishTransfer sends res without waiting for subscribers. The trace
// context travels in the message headers.
func (p *Publisher) PublishTransfer(ctx context.Context, res transfer.Result) error {
	data, err := json.Marshal(TransferCompleted{
		TransferID:             res.TransferID,
		SenderAccountID:        res.SenderAccountID,
		RecipientAccountID:     res.RecipientAccountID,
		Amount:                 models.FormatMinorUnits(res.Amount),
		SenderRemainingBalance: models.FormatMinorUnits(res.SenderRemainingBalance),
		CompletedAt:            time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := nats.NewMsg(p.subject)
	msg.Data = data
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(msg.Header))

	if err := p.conn.PublishMsg(msg); err != nil {
		telemetry.EventsPublished.WithLabelValues(p.subject, "error").Inc()
		return fmt.Errorf("failed to publish event: %w", err)
	}
	telemetry.EventsPublished.WithLabelValues(p.subject, "ok").Inc()
	return nil
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() {
	if p.conn != nil {
		p.conn.Drain()
		p.conn.Close()
	}
}
