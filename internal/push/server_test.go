package push_test

import (
	"bytes"
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/chatline/internal/model"
	"github.com/chatline/internal/push"
	"github.com/chatline/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func browserSubscription(t *testing.T, endpoint string) model.PushSubscription {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)
	return model.PushSubscription{
		Endpoint: endpoint,
		Keys: model.PushKeys{
			P256dh: base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
			Auth:   base64.RawURLEncoding.EncodeToString(auth),
		},
	}
}

func TestClient_SubscribeUnsubscribe(t *testing.T) {
	store := memory.NewPushSubscriptions()
	srv := httptest.NewServer(push.NewServer(store, nil, "test").Routes())
	defer srv.Close()

	ctx := context.Background()
	c := push.NewClient(srv.URL + "/")
	require.True(t, c.Enabled())

	sub := browserSubscription(t, "https://push.example/1")
	require.NoError(t, c.Subscribe(ctx, "u1", sub))
	require.NoError(t, c.Subscribe(ctx, "u1", sub))

	subs, err := store.Subscriptions(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, subs, 1)

	require.NoError(t, c.Unsubscribe(ctx, "u1", sub.Endpoint))
	subs, err = store.Subscriptions(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestClient_Disabled(t *testing.T) {
	c := push.NewClient("")
	assert.False(t, c.Enabled())
	assert.NoError(t, c.Subscribe(context.Background(), "u1", model.PushSubscription{}))
	c.Notify(context.Background(), "u1", "t", "b", nil)
}

func TestServer_Validation(t *testing.T) {
	h := push.NewServer(memory.NewPushSubscriptions(), nil, "test").Routes()

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"subscribe bad json", http.MethodPost, "/api/subscribe", "{", http.StatusBadRequest},
		{"subscribe no keys", http.MethodPost, "/api/subscribe", `{"user_id":"u1","subscription":{"endpoint":"x"}}`, http.StatusBadRequest},
		{"unsubscribe no endpoint", http.MethodDelete, "/api/subscribe", `{"user_id":"u1"}`, http.StatusBadRequest},
		{"notify no user", http.MethodPost, "/api/notify", `{"title":"t"}`, http.StatusBadRequest},
		{"notify without vapid", http.MethodPost, "/api/notify", `{"user_id":"u1","title":"t"}`, http.StatusNoContent},
		{"vapid not configured", http.MethodGet, "/api/vapid-public", "", http.StatusServiceUnavailable},
		{"health", http.MethodGet, "/health", "", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(tc.method, tc.path, bytes.NewBufferString(tc.body))
			h.ServeHTTP(rec, req)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestServer_NotifyDropsGoneSubscriptions(t *testing.T) {
	var hits atomic.Int32
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = io.Copy(io.Discard, r.Body)
		if r.URL.Path == "/gone" {
			w.WriteHeader(http.StatusGone)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer provider.Close()

	keys, err := push.GenerateVAPIDKeys()
	require.NoError(t, err)

	ctx := context.Background()
	store := memory.NewPushSubscriptions()
	alive := browserSubscription(t, provider.URL+"/alive")
	gone := browserSubscription(t, provider.URL+"/gone")
	require.NoError(t, store.AddSubscription(ctx, "u1", alive))
	require.NoError(t, store.AddSubscription(ctx, "u1", gone))

	s := push.NewServer(store, keys, "test@example.com").WithHTTPClient(provider.Client())
	srv := httptest.NewServer(s.Routes())
	defer srv.Close()

	push.NewClient(srv.URL).Notify(ctx, "u1", "alice", "hello", map[string]string{"chatId": "c1"})

	assert.Equal(t, int32(2), hits.Load())
	subs, err := store.Subscriptions(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, alive.Endpoint, subs[0].Endpoint)

	resp, err := http.Get(srv.URL + "/api/vapid-public")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, keys.PublicKey, string(body))
}
