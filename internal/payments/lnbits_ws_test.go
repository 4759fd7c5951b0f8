package payments

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLNbitsStreamEndpoint(t *testing.T) {
	ep, err := LNbitsStreamEndpoint("https://lnbits.example.com/", "readkey")
	require.NoError(t, err)
	assert.Equal(t, "wss://lnbits.example.com/api/v1/ws/readkey", ep)

	ep, err = LNbitsStreamEndpoint("http://127.0.0.1:5000/lnbits", "k")
	require.NoError(t, err)
	assert.Equal(t, "ws://127.0.0.1:5000/lnbits/api/v1/ws/k", ep)

	_, err = LNbitsStreamEndpoint("ftp://x", "k")
	assert.Error(t, err)
	_, err = LNbitsStreamEndpoint("https://x", "")
	assert.Error(t, err)
}

func TestParseStreamMessage(t *testing.T) {
	ev, ok, err := ParseStreamMessage([]byte(`{"payment":{"payment_hash":"AB12","status":"success","pending":false},"wallet_balance":10}`), testNow)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "lightning:ab12:settled", ev.IdempotencyKey)

	ev, ok, err = ParseStreamMessage([]byte(`"ab12"`), testNow)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ab12", ev.Reference)
	assert.True(t, ev.Settled())

	_, ok, err = ParseStreamMessage([]byte(`{"wallet_balance":10}`), testNow)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = ParseStreamMessage([]byte("ping"), testNow)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = ParseStreamMessage([]byte(`{"payment":`), testNow)
	assert.ErrorIs(t, err, ErrMalformedEvent)
}

func TestLNbitsStreamReadsFrames(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/ws/key", r.URL.Path)
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"payment":{"payment_hash":"cafe","status":"success"}}`))
	}))
	defer srv.Close()

	ep, err := LNbitsStreamEndpoint(srv.URL, "key")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(ep, "ws://"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream := NewLNbitsStream(ep)
	require.NoError(t, stream.Connect(ctx))
	defer stream.Close()

	msg, err := stream.Read(ctx)
	require.NoError(t, err)
	ev, ok, err := ParseStreamMessage(msg, testNow)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "cafe", ev.Reference)
}
