package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashasviy/peer-transfer-api/transfer"
)

func TestPublishTransfer(t *testing.T) {
	url := os.Getenv("TEST_NATS_URL")
	if url == "" {
		t.Skip("TEST_NATS_URL not set")
	}

	sub, err := nats.Connect(url)
	require.NoError(t, err)
	defer sub.Close()
	msgs := make(chan *nats.Msg, 1)
	s, err := sub.ChanSubscribe(TransferCompletedSubject, msgs)
	require.NoError(t, err)
	defer s.Unsubscribe()
	require.NoError(t, sub.Flush())

	pub, err := Connect(url, slog.Default())
	require.NoError(t, err)
	defer pub.Close()

	err = pub.PublishTransfer(context.Background(), transfer.Result{
		TransferID:             "t-1",
		SenderAccountID:        "a",
		RecipientAccountID:     "b",
		Amount:                 3000,
		SenderRemainingBalance: 7000,
	})
	require.NoError(t, err)

	select {
	case msg := <-msgs:
		var ev TransferCompleted
		require.NoError(t, json.Unmarshal(msg.Data, &ev))
		assert.Equal(t, "t-1", ev.TransferID)
		assert.Equal(t, "30.00", ev.Amount)
		assert.Equal(t, "70.00", ev.SenderRemainingBalance)
	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
	}
}
