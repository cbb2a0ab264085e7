package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/recall/internal/engine"
	"github.com/lazypower/recall/internal/server"
	"github.com/lazypower/recall/internal/store"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	reg := engine.NewRegistry(db, engine.NewHashEmbedder(64), nil)
	t.Cleanup(reg.Stop)

	ts := httptest.NewServer(server.New(db, reg, nil, "test"))
	t.Cleanup(ts.Close)
	return New(ts.URL)
}

func TestNewFallsBackToEnv(t *testing.T) {
	t.Setenv("RECALL_URL", "http://example.test:9000")
	assert.Equal(t, "http://example.test:9000", New("").serverURL)
	assert.Equal(t, "http://other:1", New("http://other:1").serverURL)

	t.Setenv("RECALL_URL", "")
	assert.Equal(t, defaultServerURL, New("").serverURL)
}

func TestRecallRoundTrip(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()

	require.True(t, c.Healthy(ctx))

	conv, err := c.CreateConversation(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, conv)

	res, err := c.Recall(ctx, conv, []string{"Kevin likes coffee"}, 0)
	require.NoError(t, err)
	assert.Equal(t, conv, res.Conversation)
	assert.Equal(t, 1, res.Facts)
	require.Len(t, res.Nodes, 1)
	assert.Equal(t, "Kevin likes coffee", res.Nodes[0].Memory)
	assert.InDelta(t, 0.5, res.Nodes[0].Activation, 1e-9)
	assert.Contains(t, res.Memories, "- Kevin likes coffee (created ")

	nodes, err := c.Active(ctx, conv, 5)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, res.Nodes[0].ID, nodes[0].ID)

	require.NoError(t, c.DropConversation(ctx, conv))
}

func TestStatusErrors(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()

	err := c.DropConversation(ctx, "never-created")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusNotFound, se.Code)
	assert.Equal(t, "conversation not found", se.Message)

	_, err = c.Recall(ctx, "c1", []string{"   "}, 0)
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusBadRequest, se.Code)
}

func TestHealthyUnreachable(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	ts.Close()
	assert.False(t, New(ts.URL).Healthy(context.Background()))
}
