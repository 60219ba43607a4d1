package providers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"
)

const whisperEndpoint = "https://api.openai.com/v1/audio/transcriptions"

// WhisperTranscriber calls the OpenAI speech-to-text API. The API key
// is read from OPENAI_API_KEY (loaded from .env by the config layer).
type WhisperTranscriber struct {
	apiKey string
	model  string
	client *http.Client
}

func NewWhisperTranscriber() (*WhisperTranscriber, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	return &WhisperTranscriber{
		apiKey: apiKey,
		model:  "whisper-1",
		client: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (w *WhisperTranscriber) Name() string { return "whisper" }

func (w *WhisperTranscriber) Transcribe(ctx context.Context, audio []byte, sourceLang string) (string, float64, error) {
	var requestBody bytes.Buffer
	writer := multipart.NewWriter(&requestBody)

	fileWriter, err := writer.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(audio); err != nil {
		return "", 0, fmt.Errorf("failed to write audio data: %w", err)
	}

	writer.WriteField("model", w.model)
	writer.WriteField("language", sourceLang)
	writer.WriteField("response_format", "text")
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, whisperEndpoint, &requestBody)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+w.apiKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := w.client.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", 0, fmt.Errorf("API error %d: %s", resp.StatusCode, string(body))
	}

	transcript, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read response: %w", err)
	}

	// The plain-text response format carries no confidence score.
	return string(bytes.TrimSpace(transcript)), 1.0, nil
}
