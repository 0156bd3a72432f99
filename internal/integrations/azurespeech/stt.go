package azurespeech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// recognitionResponse is the simple-format result of short audio recognition.
type recognitionResponse struct {
	RecognitionStatus string `json:"RecognitionStatus"`
	DisplayText       string `json:"DisplayText"`
}

// Statuses meaning the audio was received but held no recognisable speech.
var noSpeechStatuses = map[string]bool{
	"NoMatch":               true,
	"InitialSilenceTimeout": true,
	"BabbleTimeout":         true,
}

// Transcribe uploads a WAV clip and returns the display text. A clip without
// speech yields an empty string and no error.
func (c *Client) Transcribe(ctx context.Context, wav []byte) (string, error) {
	if len(wav) == 0 {
		return "", errors.New("azurespeech: audio must not be empty")
	}
	key, err := c.token.Resolve(ctx)
	if err != nil {
		return "", fmt.Errorf("azurespeech: resolve key: %w", err)
	}

	u, err := url.Parse(c.sttURL)
	if err != nil {
		return "", fmt.Errorf("azurespeech: parse stt url: %w", err)
	}
	q := u.Query()
	q.Set("language", c.language)
	q.Set("profanity", "raw")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(wav))
	if err != nil {
		return "", fmt.Errorf("azurespeech: create stt request: %w", err)
	}
	req.Header.Set(subscriptionHeader, key)
	req.Header.Set("Content-Type", "audio/wav")
	req.Header.Set("Accept", "application/json")

	raw, err := c.do(req, 1<<20)
	if err != nil {
		return "", fmt.Errorf("azurespeech: stt request failed: %w", err)
	}

	var payload recognitionResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("azurespeech: decode stt response: %w", err)
	}
	switch {
	case payload.RecognitionStatus == "Success":
		return payload.DisplayText, nil
	case noSpeechStatuses[payload.RecognitionStatus]:
		return "", nil
	default:
		return "", fmt.Errorf("azurespeech: recognition status %q", payload.RecognitionStatus)
	}
}
