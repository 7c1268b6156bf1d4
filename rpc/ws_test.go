package rpc

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"repcollateral/core/events"
	"repcollateral/core/types"
	"repcollateral/native/reputation"
)

func TestEventsWebsocketStreamsCommittedEvents(t *testing.T) {
	env := newTestEnv(t)
	httpServer := httptest.NewServer(env.server.Handler())
	defer httpServer.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws?type=" + events.TypeReputationUpdated
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	user := newAddress(t)
	received := make(chan types.Event, 1)
	go func() {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var evt types.Event
		if json.Unmarshal(data, &evt) == nil {
			received <- evt
		}
	}()

	// The subscription is registered after the upgrade completes, so keep
	// committing until the first event makes it through.
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case evt := <-received:
			require.Equal(t, events.TypeReputationUpdated, evt.Type)
			require.Equal(t, reputation.CategoryGovernanceParticipation.String(), evt.Attributes["category"])
			return
		case <-ticker.C:
			_, err := env.node.UpdateReputation(context.Background(), env.scorer, user, reputation.CategoryGovernanceParticipation, 1, "")
			require.NoError(t, err)
		case <-ctx.Done():
			t.Fatalf("no event received over websocket")
		}
	}
}

func TestParseEventFilter(t *testing.T) {
	require.Nil(t, parseEventFilter(" "))
	filter := parseEventFilter("a, b,,c ")
	require.Len(t, filter, 3)
	_, ok := filter["b"]
	require.True(t, ok)
}
