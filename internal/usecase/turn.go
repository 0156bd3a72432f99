package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"voice-turn/internal/audio"
	"voice-turn/internal/domain"
)

// Branches a successful turn can take.
const (
	BranchShort       = "short"
	BranchNoSpeech    = "no_speech"
	BranchTranscribed = "transcribed"
)

// Stage names used for timing.
const (
	stageConfigRead   = "config_read"
	stageSessionRead  = "session_read"
	stageDuration     = "duration"
	stageSTT          = "stt"
	stageChat         = "chat"
	stageSessionWrite = "session_write"
	stageTTS          = "tts"
	stageAudio        = "audio_processing"
	stageTotal        = "total"
)

type SessionStore interface {
	GetUserConfig(ctx context.Context, userID string) (domain.UserConfig, error)
	GetHistory(ctx context.Context, userID string) (domain.History, error)
	PutHistory(ctx context.Context, userID string, h domain.History) error
}

type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

type LLMClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
}

type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

type AssetLoader interface {
	Load(ctx context.Context, name string) ([]byte, error)
}

type AudioEncoder interface {
	Encode(pcm []byte) ([]byte, error)
}

// MetricsRecorder receives stage timings and turn outcomes.
type MetricsRecorder interface {
	ObserveStage(stage string, d time.Duration)
	CountTurn(outcome string)
}

type nopRecorder struct{}

func (nopRecorder) ObserveStage(string, time.Duration) {}
func (nopRecorder) CountTurn(string)                   {}

// Deps are the collaborators a TurnService calls.
type Deps struct {
	Store       SessionStore
	Transcriber Transcriber
	LLM         LLMClient
	Synthesizer SpeechSynthesizer
	Assets      AssetLoader
	Encoder     AudioEncoder
}

// Settings are the process-wide defaults of a turn. Per-user values in
// domain.UserConfig take precedence where present.
type Settings struct {
	ChatModel     string
	DefaultPrompt string
	FallbackReply string
	FallbackAsset string

	InputFormat    audio.Format
	ShortThreshold float64 // seconds

	AmplifyFactor    float64
	TrimSilence      bool
	SilenceThreshold int

	ActiveMessageLimit int
	DailyRateLimit     int
}

// DefaultSettings returns the stock values. ChatModel is left empty and must
// be set by the caller.
func DefaultSettings() Settings {
	return Settings{
		DefaultPrompt:      "You are Buddy, a friendly voice companion. Reply in Thai with one or two short spoken sentences.",
		FallbackReply:      "อะไรนะ บั้ดดี้ขออีกที",
		FallbackAsset:      "say_again.mp3",
		InputFormat:        audio.Mono16(15000),
		ShortThreshold:     0.4,
		AmplifyFactor:      12,
		SilenceThreshold:   500,
		ActiveMessageLimit: 10,
		DailyRateLimit:     100,
	}
}

type Option func(*TurnService)

func WithLogger(l *slog.Logger) Option {
	return func(s *TurnService) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithRecorder(r MetricsRecorder) Option {
	return func(s *TurnService) {
		if r != nil {
			s.metrics = r
		}
	}
}

// WithClock replaces the clock used for message timestamps and the daily
// quota.
func WithClock(now func() time.Time) Option {
	return func(s *TurnService) {
		if now != nil {
			s.now = now
		}
	}
}

type TurnService struct {
	deps     Deps
	settings Settings
	logger   *slog.Logger
	metrics  MetricsRecorder
	now      func() time.Time
}

type TurnInput struct {
	UserID        string
	Audio         []byte
	CorrelationID string
}

type TurnOutput struct {
	Audio      []byte
	Branch     string
	Transcript string
	Reply      string
}

func NewTurnService(deps Deps, settings Settings, opts ...Option) (*TurnService, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("usecase: session store must not be nil")
	case deps.Transcriber == nil:
		return nil, errors.New("usecase: transcriber must not be nil")
	case deps.LLM == nil:
		return nil, errors.New("usecase: llm client must not be nil")
	case deps.Synthesizer == nil:
		return nil, errors.New("usecase: speech synthesizer must not be nil")
	case deps.Assets == nil:
		return nil, errors.New("usecase: asset loader must not be nil")
	case deps.Encoder == nil:
		return nil, errors.New("usecase: audio encoder must not be nil")
	}
	if strings.TrimSpace(settings.ChatModel) == "" {
		return nil, errors.New("usecase: chat model must not be empty")
	}
	if strings.TrimSpace(settings.FallbackAsset) == "" {
		return nil, errors.New("usecase: fallback asset must not be empty")
	}
	if err := settings.InputFormat.Validate(); err != nil {
		return nil, fmt.Errorf("usecase: input format: %w", err)
	}

	s := &TurnService{
		deps:     deps,
		settings: settings,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics:  nopRecorder{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ProcessTurn runs one audio turn for a user and returns the MP3 reply, or
// the fallback clip when nothing intelligible was said.
func (s *TurnService) ProcessTurn(ctx context.Context, in TurnInput) (out TurnOutput, err error) {
	started := time.Now()
	corrID := strings.TrimSpace(in.CorrelationID)
	if corrID == "" {
		corrID = newUUID()
	}
	log := s.logger.With("user_id", in.UserID, "correlation_id", corrID)

	defer func() {
		if r := recover(); r != nil {
			log.Error("turn panicked", "panic", r)
			out = TurnOutput{}
			err = newError(ErrorInternal, "panic", fmt.Errorf("%v", r))
		}
		outcome := out.Branch
		if err != nil {
			outcome = string(CodeOf(err))
			log.Error("turn failed", "err", err)
		}
		s.metrics.CountTurn(outcome)
		s.observe(log, stageTotal, started)
	}()

	return s.process(ctx, log, in)
}

func (s *TurnService) process(ctx context.Context, log *slog.Logger, in TurnInput) (TurnOutput, error) {
	userID := strings.TrimSpace(in.UserID)
	if userID == "" {
		return TurnOutput{}, newError(ErrorInvalidInput, "missing_user_id", nil)
	}
	if len(in.Audio) == 0 {
		return TurnOutput{}, newError(ErrorInvalidInput, "empty_audio", nil)
	}

	t := time.Now()
	cfg, err := s.deps.Store.GetUserConfig(ctx, userID)
	s.observe(log, stageConfigRead, t)
	if err != nil {
		return TurnOutput{}, newError(ErrorInternal, "config_read_error", err)
	}
	if cfg.Whitelist != nil && !*cfg.Whitelist {
		return TurnOutput{}, newError(ErrorNotWhitelisted, "not_whitelisted", nil)
	}

	t = time.Now()
	history, err := s.deps.Store.GetHistory(ctx, userID)
	s.observe(log, stageSessionRead, t)
	if err != nil {
		return TurnOutput{}, newError(ErrorInternal, "history_read_error", err)
	}

	quota := resolveInt(cfg.DailyRateLimit, s.settings.DailyRateLimit)
	if dailyLimitReached(history.Messages, s.now(), quota) {
		return TurnOutput{}, newError(ErrorRateLimited, "daily_quota_exceeded", nil)
	}

	t = time.Now()
	duration := audio.Duration(len(in.Audio), s.settings.InputFormat)
	s.observe(log, stageDuration, t)

	branch := BranchShort
	transcript := ""
	if duration >= s.settings.ShortThreshold {
		branch = BranchTranscribed
		wav, err := audio.EncodeWAV(in.Audio, s.settings.InputFormat)
		if err != nil {
			return TurnOutput{}, newError(ErrorInternal, "wav_encode_error", err)
		}
		t = time.Now()
		transcript, err = s.deps.Transcriber.Transcribe(ctx, wav)
		s.observe(log, stageSTT, t)
		if err != nil {
			logUpstream(log, "transcription failed", err)
			return TurnOutput{}, newError(ErrorUpstream, "transcription_error", err)
		}
		transcript = strings.TrimSpace(transcript)
		if transcript == "" {
			return s.noSpeech(ctx, log, userID, history)
		}
	}
	log.Info("turn routed", "branch", branch, "duration_s", duration, "transcript", transcript)

	window := windowMessages(history.Messages, resolveInt(cfg.ActiveMessageLimit, s.settings.ActiveMessageLimit))
	prompt := buildPromptMessages(resolvePrompt(cfg, s.settings.DefaultPrompt), window, transcript)
	userAt := s.now()

	t = time.Now()
	reply, err := s.deps.LLM.Chat(ctx, s.settings.ChatModel, prompt)
	s.observe(log, stageChat, t)
	if err != nil {
		logUpstream(log, "chat failed", err)
		return TurnOutput{}, newError(ErrorUpstream, "chat_error", err)
	}
	reply = strings.TrimSpace(reply)

	if err := s.commit(ctx, log, userID, history, transcript, userAt, reply); err != nil {
		return TurnOutput{}, err
	}

	t = time.Now()
	pcm, err := s.deps.Synthesizer.Synthesize(ctx, reply)
	s.observe(log, stageTTS, t)
	if err != nil {
		logUpstream(log, "synthesis failed", err)
		return TurnOutput{}, newError(ErrorUpstream, "synthesis_error", err)
	}

	t = time.Now()
	mp3, err := s.postProcess(pcm)
	s.observe(log, stageAudio, t)
	if err != nil {
		return TurnOutput{}, newError(ErrorInternal, "audio_encode_error", err)
	}

	return TurnOutput{Audio: mp3, Branch: branch, Transcript: transcript, Reply: reply}, nil
}

// noSpeech records an empty user turn answered by the fallback reply and
// returns the pre-recorded clip. No reply or synthesis call is made.
func (s *TurnService) noSpeech(ctx context.Context, log *slog.Logger, userID string, history domain.History) (TurnOutput, error) {
	log.Info("turn routed", "branch", BranchNoSpeech)
	if err := s.commit(ctx, log, userID, history, "", s.now(), s.settings.FallbackReply); err != nil {
		return TurnOutput{}, err
	}
	clip, err := s.deps.Assets.Load(ctx, s.settings.FallbackAsset)
	if err != nil {
		return TurnOutput{}, newError(ErrorInternal, "fallback_asset_error", err)
	}
	return TurnOutput{Audio: clip, Branch: BranchNoSpeech, Reply: s.settings.FallbackReply}, nil
}

// commit appends one user/assistant pair to the full history and writes it
// back in a single conditional put.
func (s *TurnService) commit(ctx context.Context, log *slog.Logger, userID string, history domain.History, utterance string, userAt time.Time, reply string) error {
	msgs := make([]domain.Message, 0, len(history.Messages)+2)
	msgs = append(msgs, history.Messages...)
	msgs = append(msgs,
		domain.Message{Role: domain.RoleUser, Content: utterance, Timestamp: userAt},
		domain.Message{Role: domain.RoleAssistant, Content: reply, Timestamp: s.now()},
	)

	t := time.Now()
	err := s.deps.Store.PutHistory(ctx, userID, domain.History{Messages: msgs, Version: history.Version})
	s.observe(log, stageSessionWrite, t)
	if errors.Is(err, domain.ErrHistoryConflict) {
		return newError(ErrorInternal, "history_conflict", err)
	}
	if err != nil {
		return newError(ErrorInternal, "history_write_error", err)
	}
	return nil
}

func (s *TurnService) postProcess(pcm []byte) ([]byte, error) {
	out := audio.Amplify(pcm, s.settings.AmplifyFactor)
	if s.settings.TrimSilence {
		out = audio.TrimSilence(out, s.settings.SilenceThreshold)
	}
	return s.deps.Encoder.Encode(out)
}

func (s *TurnService) observe(log *slog.Logger, stage string, since time.Time) {
	d := time.Since(since)
	s.metrics.ObserveStage(stage, d)
	log.Debug("stage timing", "stage", stage, "elapsed_ms", d.Milliseconds())
}

func logUpstream(log *slog.Logger, msg string, err error) {
	if status, ok := upstreamStatusCode(err); ok {
		log.Warn(msg, "upstream_status", status)
	}
}

var newUUID = func() string {
	return uuid.NewString()
}
