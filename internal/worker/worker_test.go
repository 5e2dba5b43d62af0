// Package worker_test tests the NATS speak-request worker.
package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/speakbot/internal/core"
	"github.com/book-expert/speakbot/internal/worker"
	"github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errMockPlayback = errors.New("mock playback error")

// mockEnqueuer records requests and completes them with outcome.
type mockEnqueuer struct {
	mu       sync.Mutex
	outcome  error
	requests []core.PlaybackRequest
}

func (m *mockEnqueuer) Enqueue(req core.PlaybackRequest) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	outcome := m.outcome
	m.mu.Unlock()

	if req.OnDone != nil {
		req.OnDone(outcome)
	}
}

func (m *mockEnqueuer) snapshot() []core.PlaybackRequest {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]core.PlaybackRequest(nil), m.requests...)
}

func createTestNatsClient(t *testing.T) (*nats.Conn, func()) {
	t.Helper()

	opts := test.DefaultTestOptions
	opts.Port = -1 // Use a random port
	server := test.RunServer(&opts)

	natsConnection, err := nats.Connect(server.ClientURL())
	if err != nil {
		t.Fatalf("Failed to connect to test NATS server: %v", err)
	}

	cleanup := func() {
		natsConnection.Close()
		server.Shutdown()
	}

	return natsConnection, cleanup
}

func setupTest(t *testing.T, outcome error) (*mockEnqueuer, *nats.Conn) {
	t.Helper()

	natsConnection, natsCleanup := createTestNatsClient(t)
	t.Cleanup(natsCleanup)

	testLogger, err := logger.New(t.TempDir(), "worker-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = testLogger.Close() })

	enqueuer := &mockEnqueuer{mu: sync.Mutex{}, outcome: outcome, requests: nil}

	workerInstance, err := worker.NewNatsWorker(natsConnection, "speak_subject", enqueuer, testLogger)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)

	go func() {
		errChan <- workerInstance.Run(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-errChan, "worker.Run should not error on graceful shutdown")
	})

	// Wait for the subscription before publishing.
	require.Eventually(t, func() bool {
		_, reqErr := natsConnection.Request("speak_subject", []byte("{}"), 100*time.Millisecond)

		return reqErr == nil
	}, 5*time.Second, 10*time.Millisecond)

	return enqueuer, natsConnection
}

func request(t *testing.T, natsConnection *nats.Conn, payload any) worker.SpeakReply {
	t.Helper()

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	replyMsg, err := natsConnection.Request("speak_subject", data, 5*time.Second)
	require.NoError(t, err, "Request should succeed and receive a reply")

	var reply worker.SpeakReply

	require.NoError(t, json.Unmarshal(replyMsg.Data, &reply))

	return reply
}

func TestMessageHandler_Success(t *testing.T) {
	t.Parallel()

	enqueuer, natsConnection := setupTest(t, nil)

	reply := request(t, natsConnection, worker.SpeakRequest{
		GuildID:   "guild-1",
		ChannelID: "voice-1",
		UserID:    "user-1",
		Text:      "dinner is ready",
	})

	assert.Empty(t, reply.Error)
	require.NotEmpty(t, reply.RequestID)

	requests := enqueuer.snapshot()
	require.Len(t, requests, 1)
	assert.Equal(t, reply.RequestID, requests[0].ID)
	assert.Equal(t, "guild-1", requests[0].GuildID)
	assert.Equal(t, "voice-1", requests[0].ChannelID)
	assert.Equal(t, "user-1", requests[0].UserID)
	assert.Equal(t, "dinner is ready", requests[0].Text)
}

func TestMessageHandler_PlaybackFailureStillAccepted(t *testing.T) {
	t.Parallel()

	enqueuer, natsConnection := setupTest(t, errMockPlayback)

	reply := request(t, natsConnection, worker.SpeakRequest{
		GuildID:   "guild-1",
		ChannelID: "voice-1",
		UserID:    "user-1",
		Text:      "hello",
	})

	assert.NotEmpty(t, reply.RequestID)
	assert.Len(t, enqueuer.snapshot(), 1)
}

func TestMessageHandler_Rejections(t *testing.T) {
	t.Parallel()

	enqueuer, natsConnection := setupTest(t, nil)

	tests := []struct {
		name    string
		payload any
		want    string
	}{
		{
			name:    "missing guild",
			payload: worker.SpeakRequest{GuildID: "", ChannelID: "voice-1", UserID: "user-1", Text: "hi"},
			want:    worker.ErrGuildIDEmpty.Error(),
		},
		{
			name:    "missing channel",
			payload: worker.SpeakRequest{GuildID: "guild-1", ChannelID: "", UserID: "user-1", Text: "hi"},
			want:    worker.ErrChannelIDEmpty.Error(),
		},
		{
			name:    "missing user",
			payload: worker.SpeakRequest{GuildID: "guild-1", ChannelID: "voice-1", UserID: "", Text: "hi"},
			want:    worker.ErrUserIDEmpty.Error(),
		},
		{
			name:    "blank text",
			payload: worker.SpeakRequest{GuildID: "guild-1", ChannelID: "voice-1", UserID: "user-1", Text: "  "},
			want:    worker.ErrTextEmpty.Error(),
		},
		{
			name:    "not json",
			payload: "just a string",
			want:    "failed to unmarshal speak request",
		},
	}

	for _, tc := range tests {
		reply := request(t, natsConnection, tc.payload)
		assert.Empty(t, reply.RequestID, tc.name)
		assert.Contains(t, reply.Error, tc.want, tc.name)
	}

	assert.Empty(t, enqueuer.snapshot())
}

func TestNewNatsWorker_SubjectRequired(t *testing.T) {
	t.Parallel()

	_, err := worker.NewNatsWorker(nil, "", &mockEnqueuer{mu: sync.Mutex{}, outcome: nil, requests: nil}, nil)
	require.ErrorIs(t, err, worker.ErrSubjectEmpty)
}
