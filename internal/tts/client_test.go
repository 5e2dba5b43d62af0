package tts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAPIKey  = "test-api-key"
	testVoiceID = "21m00Tcm4TlvDq8ikWAM"
	testText    = "Hello, world!"
	testAudio   = "OggS-mock-audio"
)

func TestHTTPClient_GenerateSpeech_Success(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
		assert.Equal(t, http.MethodPost, request.Method)
		assert.Equal(t, apiTextToSpeech+testVoiceID, request.URL.Path)
		assert.Equal(t, "opus_48000_64", request.URL.Query().Get(queryOutputFormat))
		assert.Equal(t, testAPIKey, request.Header.Get(headerAPIKey))
		assert.Equal(t, contentTypeJSON, request.Header.Get(headerContentType))

		var req SpeechRequest

		assert.NoError(t, json.NewDecoder(request.Body).Decode(&req))
		assert.Equal(t, testText, req.Text)
		assert.Equal(t, "eleven_monolingual_v1", req.ModelID)
		assert.InEpsilon(t, 0.5, req.VoiceSettings.Stability, 0.001)
		assert.InEpsilon(t, 0.75, req.VoiceSettings.SimilarityBoost, 0.001)

		responseWriter.Header().Set(headerContentType, "audio/ogg")
		responseWriter.WriteHeader(http.StatusOK)
		_, _ = responseWriter.Write([]byte(testAudio))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, testAPIKey, 10*time.Second)

	audio, err := client.GenerateSpeech(context.Background(), testVoiceID, "opus_48000_64", SpeechRequest{
		Text:          testText,
		ModelID:       "eleven_monolingual_v1",
		VoiceSettings: VoiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
	})
	require.NoError(t, err)
	assert.Equal(t, []byte(testAudio), audio)
}

func TestHTTPClient_GenerateSpeech_ValidatesInput(t *testing.T) {
	t.Parallel()

	client := NewHTTPClient("http://127.0.0.1:1", testAPIKey, time.Second)

	_, err := client.GenerateSpeech(context.Background(), testVoiceID, "", SpeechRequest{})
	require.ErrorIs(t, err, ErrTextEmpty)

	_, err = client.GenerateSpeech(context.Background(), "", "", SpeechRequest{Text: testText})
	require.ErrorIs(t, err, ErrVoiceIDEmpty)
}

func TestHTTPClient_GenerateSpeech_StructuredError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, _ *http.Request) {
		responseWriter.Header().Set(headerContentType, contentTypeJSON)
		responseWriter.WriteHeader(http.StatusUnauthorized)
		_, _ = responseWriter.Write([]byte(`{"detail":{"status":"invalid_api_key","message":"Invalid API key"}}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, "wrong", 10*time.Second)

	_, err := client.GenerateSpeech(context.Background(), testVoiceID, "", SpeechRequest{Text: testText})
	require.Error(t, err)

	var apiErr *APIError

	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "invalid_api_key: Invalid API key", apiErr.Message)
}

func TestHTTPClient_GenerateSpeech_StringDetailAndRawBody(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		body     string
		contains string
	}{
		{name: "string detail", body: `{"detail":"voice not found"}`, contains: "voice not found"},
		{name: "raw body", body: `upstream exploded`, contains: "upstream exploded"},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			server := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, _ *http.Request) {
				responseWriter.WriteHeader(http.StatusBadRequest)
				_, _ = responseWriter.Write([]byte(testCase.body))
			}))
			defer server.Close()

			client := NewHTTPClient(server.URL, testAPIKey, 10*time.Second)

			_, err := client.GenerateSpeech(context.Background(), testVoiceID, "", SpeechRequest{Text: testText})
			require.Error(t, err)
			assert.Contains(t, err.Error(), testCase.contains)
		})
	}
}

func TestHTTPClient_GenerateSpeech_EmptyAudio(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, _ *http.Request) {
		responseWriter.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, testAPIKey, 10*time.Second)

	_, err := client.GenerateSpeech(context.Background(), testVoiceID, "", SpeechRequest{Text: testText})
	require.ErrorIs(t, err, ErrEmptyAudio)
}

func TestHTTPClient_ListVoices(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
		assert.Equal(t, http.MethodGet, request.Method)
		assert.Equal(t, apiVoices, request.URL.Path)
		assert.Equal(t, testAPIKey, request.Header.Get(headerAPIKey))

		responseWriter.Header().Set(headerContentType, contentTypeJSON)
		_, _ = responseWriter.Write([]byte(`{"voices":[
			{"voice_id":"21m00Tcm4TlvDq8ikWAM","name":"Rachel","category":"premade"},
			{"voice_id":"AZnzlk1XvdvUeBnXmlld","name":"Domi"}
		]}`))
	}))
	defer server.Close()

	client := NewHTTPClient(server.URL, testAPIKey, 10*time.Second)

	voices, err := client.ListVoices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Voice{
		{VoiceID: "21m00Tcm4TlvDq8ikWAM", Name: "Rachel"},
		{VoiceID: "AZnzlk1XvdvUeBnXmlld", Name: "Domi"},
	}, voices)
}

func TestHTTPClient_Unreachable(t *testing.T) {
	t.Parallel()

	client := NewHTTPClient("http://127.0.0.1:1", testAPIKey, time.Second)

	_, err := client.ListVoices(context.Background())
	require.Error(t, err)

	var apiErr *APIError

	assert.False(t, errors.As(err, &apiErr), "transport failures are not API errors")
}

func TestExtensionFor(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ".mp3", extensionFor(""))
	assert.Equal(t, ".mp3", extensionFor("mp3_44100_128"))
	assert.Equal(t, ".ogg", extensionFor("opus_48000_64"))
	assert.Equal(t, ".pcm", extensionFor("pcm_48000"))
}
