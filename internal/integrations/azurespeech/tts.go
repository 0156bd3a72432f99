package azurespeech

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Synthesize renders text as raw 24 kHz 16-bit mono PCM.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("azurespeech: text must not be empty")
	}
	key, err := c.token.Resolve(ctx)
	if err != nil {
		return nil, fmt.Errorf("azurespeech: resolve key: %w", err)
	}

	ssml, err := c.ssml(text)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.ttsURL, strings.NewReader(ssml))
	if err != nil {
		return nil, fmt.Errorf("azurespeech: create tts request: %w", err)
	}
	req.Header.Set(subscriptionHeader, key)
	req.Header.Set("Content-Type", "application/ssml+xml")
	req.Header.Set("X-Microsoft-OutputFormat", defaultOutputFormat)
	req.Header.Set("User-Agent", defaultUserAgent)

	pcm, err := c.do(req, 16<<20)
	if err != nil {
		return nil, fmt.Errorf("azurespeech: tts request failed: %w", err)
	}
	if len(pcm) == 0 {
		return nil, errors.New("azurespeech: tts returned no audio")
	}
	return pcm, nil
}

func (c *Client) ssml(text string) (string, error) {
	var body bytes.Buffer
	if err := xml.EscapeText(&body, []byte(strings.TrimSpace(text))); err != nil {
		return "", fmt.Errorf("azurespeech: escape text: %w", err)
	}
	attr := func(s string) string {
		var b bytes.Buffer
		_ = xml.EscapeText(&b, []byte(s))
		return b.String()
	}
	return fmt.Sprintf(
		"<speak version='1.0' xml:lang='%s'><voice name='%s'><prosody rate='%s'>%s</prosody></voice></speak>",
		attr(c.language), attr(c.voice), attr(c.prosodyRate), body.String(),
	), nil
}
