// Package azurespeech talks to the Azure Cognitive Services speech REST
// endpoints: short-form recognition for transcripts and neural TTS for the
// spoken reply.
package azurespeech

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultLanguage     = "th-TH"
	defaultVoice        = "th-TH-PremwadeeNeural"
	defaultProsodyRate  = "-30%"
	defaultOutputFormat = "raw-24khz-16bit-mono-pcm"
	defaultUserAgent    = "voice-turn"
	defaultTimeout      = 15 * time.Second
	subscriptionHeader  = "Ocp-Apim-Subscription-Key"
)

// TokenSource yields the subscription key for each request.
type TokenSource interface {
	Resolve(ctx context.Context) (string, error)
}

// HTTPStatusError captures non-2xx responses from the speech service.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("azurespeech: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client covers both recognition and synthesis for one region.
type Client struct {
	sttURL      string
	ttsURL      string
	httpClient  *http.Client
	token       TokenSource
	language    string
	voice       string
	prosodyRate string
}

type Option func(*Client)

// WithSTTEndpoint overrides the recognition URL derived from the region.
func WithSTTEndpoint(url string) Option {
	return func(c *Client) {
		if url = strings.TrimSpace(url); url != "" {
			c.sttURL = url
		}
	}
}

// WithTTSEndpoint overrides the synthesis URL derived from the region.
func WithTTSEndpoint(url string) Option {
	return func(c *Client) {
		if url = strings.TrimSpace(url); url != "" {
			c.ttsURL = url
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithLanguage(lang string) Option {
	return func(c *Client) {
		if lang = strings.TrimSpace(lang); lang != "" {
			c.language = lang
		}
	}
}

func WithVoice(voice string) Option {
	return func(c *Client) {
		if voice = strings.TrimSpace(voice); voice != "" {
			c.voice = voice
		}
	}
}

// WithProsodyRate sets the SSML prosody rate, e.g. "-30%" or "medium".
func WithProsodyRate(rate string) Option {
	return func(c *Client) {
		if rate = strings.TrimSpace(rate); rate != "" {
			c.prosodyRate = rate
		}
	}
}

// NewClient creates a Client for the given Azure region.
func NewClient(region string, token TokenSource, opts ...Option) (*Client, error) {
	if token == nil {
		return nil, errors.New("azurespeech: token source must not be nil")
	}
	region = strings.TrimSpace(region)
	c := &Client{
		httpClient:  &http.Client{Timeout: defaultTimeout},
		token:       token,
		language:    defaultLanguage,
		voice:       defaultVoice,
		prosodyRate: defaultProsodyRate,
	}
	if region != "" {
		c.sttURL = sttURL(region)
		c.ttsURL = ttsURL(region)
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sttURL == "" || c.ttsURL == "" {
		return nil, errors.New("azurespeech: region or explicit endpoints are required")
	}
	return c, nil
}

func sttURL(region string) string {
	return "https://" + region + ".stt.speech.microsoft.com/speech/recognition/conversation/cognitiveservices/v1"
}

func ttsURL(region string) string {
	return "https://" + region + ".tts.speech.microsoft.com/cognitiveservices/v1"
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: defaultTimeout}
}

func (c *Client) do(req *http.Request, limit int64) ([]byte, error) {
	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        req.URL.String(),
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, limit))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}
