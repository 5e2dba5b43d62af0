// Package tts provides the speech synthesis client.
//
// HTTPClient speaks the ElevenLabs REST API: it lists the voices available to the
// account and converts text to audio bytes for a given voice. Synthesizer layers the
// per-user voice choice and per-request audio storage on top of it.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// API endpoints and paths.
const (
	apiVoices       = "/v1/voices"
	apiTextToSpeech = "/v1/text-to-speech/"
)

// HTTP headers and query parameters.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	headerAPIKey      = "xi-api-key"
	contentTypeJSON   = "application/json"
	acceptAudio       = "audio/*"
	queryOutputFormat = "output_format"
)

// Error messages.
const (
	errFmtServiceError       = "synthesis service error (%s): %s"
	errFmtServiceNonOKStatus = "synthesis service returned non-OK status: %s, body: %s"
	maxErrorBodyBytes        = 4096
)

var (
	// ErrTextEmpty indicates that there is nothing to synthesize.
	ErrTextEmpty = errors.New("text cannot be empty")
	// ErrVoiceIDEmpty indicates that no voice was selected.
	ErrVoiceIDEmpty = errors.New("voice id cannot be empty")
	// ErrEmptyAudio indicates that the service answered without audio.
	ErrEmptyAudio = errors.New("received empty audio data")
)

// HTTPClient represents a client for the ElevenLabs REST API.
type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// VoiceSettings tunes the delivery of a synthesized voice.
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// SpeechRequest is the JSON payload of a text-to-speech call.
type SpeechRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id"`
	VoiceSettings VoiceSettings `json:"voice_settings"`
}

// Voice is one entry of the account's voice library.
type Voice struct {
	VoiceID string `json:"voice_id"`
	Name    string `json:"name"`
}

type voicesResponse struct {
	Voices []Voice `json:"voices"`
}

// APIError is a non-success answer from the service.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf(errFmtServiceError, e.Status, e.Message)
}

// NewHTTPClient creates a client. The baseURL includes the scheme
// (e.g. "https://api.elevenlabs.io"); timeout applies to every request.
func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// ListVoices returns the voices available to the account.
func (c *HTTPClient) ListVoices(ctx context.Context) ([]Voice, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiVoices, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create voices request: %w", err)
	}

	httpReq.Header.Set(headerAPIKey, c.apiKey)
	httpReq.Header.Set(headerAccept, contentTypeJSON)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send voices request to %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	var voices voicesResponse

	err = json.NewDecoder(resp.Body).Decode(&voices)
	if err != nil {
		return nil, fmt.Errorf("failed to decode voices response: %w", err)
	}

	return voices.Voices, nil
}

// GenerateSpeech converts req.Text to audio with the given voice and returns the raw
// bytes in outputFormat (the service default when empty).
func (c *HTTPClient) GenerateSpeech(
	ctx context.Context,
	voiceID, outputFormat string,
	req SpeechRequest,
) ([]byte, error) {
	if req.Text == "" {
		return nil, ErrTextEmpty
	}

	if voiceID == "" {
		return nil, ErrVoiceIDEmpty
	}

	requestBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := c.baseURL + apiTextToSpeech + url.PathEscape(voiceID)
	if outputFormat != "" {
		endpoint += "?" + url.Values{queryOutputFormat: {outputFormat}}.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set(headerContentType, contentTypeJSON)
	httpReq.Header.Set(headerAccept, acceptAudio)
	httpReq.Header.Set(headerAPIKey, c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to synthesis service at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(resp)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio data: %w", err)
	}

	if len(audioData) == 0 {
		return nil, ErrEmptyAudio
	}

	return audioData, nil
}

// parseErrorResponse decodes the service's error body. ElevenLabs reports
// {"detail": {"status": ..., "message": ...}} or {"detail": "..."}; anything else is
// returned raw so the diagnostic is not lost.
func parseErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Message:    "",
	}

	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}

	err := json.Unmarshal(body, &envelope)
	if err == nil && len(envelope.Detail) > 0 {
		var detail struct {
			Status  string `json:"status"`
			Message string `json:"message"`
		}

		var text string

		switch {
		case json.Unmarshal(envelope.Detail, &detail) == nil && detail.Message != "":
			apiErr.Message = detail.Message
			if detail.Status != "" {
				apiErr.Message = detail.Status + ": " + detail.Message
			}
		case json.Unmarshal(envelope.Detail, &text) == nil:
			apiErr.Message = text
		}
	}

	if apiErr.Message == "" {
		apiErr.Message = fmt.Sprintf(errFmtServiceNonOKStatus, resp.Status, string(body))
	}

	return apiErr
}
