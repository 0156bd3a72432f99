package usecase

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"voice-turn/internal/audio"
	"voice-turn/internal/domain"
	"voice-turn/internal/integrations/openai"
)

type fakeStore struct {
	cfg     domain.UserConfig
	history domain.History
	cfgErr  error
	getErr  error
	putErr  error

	calls []string
	puts  []domain.History
}

func (f *fakeStore) GetUserConfig(_ context.Context, _ string) (domain.UserConfig, error) {
	f.calls = append(f.calls, "GetUserConfig")
	return f.cfg, f.cfgErr
}

func (f *fakeStore) GetHistory(_ context.Context, _ string) (domain.History, error) {
	f.calls = append(f.calls, "GetHistory")
	return f.history, f.getErr
}

func (f *fakeStore) PutHistory(_ context.Context, _ string, h domain.History) error {
	f.calls = append(f.calls, "PutHistory")
	f.puts = append(f.puts, h)
	return f.putErr
}

type fakeTranscriber struct {
	text    string
	err     error
	calls   int
	lastWAV []byte
}

func (f *fakeTranscriber) Transcribe(_ context.Context, wav []byte) (string, error) {
	f.calls++
	f.lastWAV = wav
	return f.text, f.err
}

type fakeLLM struct {
	reply     string
	err       error
	panicWith any
	calls     int
	lastModel string
	lastMsgs  []domain.ChatMessage
}

func (f *fakeLLM) Chat(_ context.Context, model string, msgs []domain.ChatMessage) (string, error) {
	f.calls++
	f.lastModel = model
	f.lastMsgs = msgs
	if f.panicWith != nil {
		panic(f.panicWith)
	}
	return f.reply, f.err
}

type fakeSynth struct {
	pcm      []byte
	err      error
	calls    int
	lastText string
}

func (f *fakeSynth) Synthesize(_ context.Context, text string) ([]byte, error) {
	f.calls++
	f.lastText = text
	return f.pcm, f.err
}

type fakeAssets struct {
	data     []byte
	err      error
	calls    int
	lastName string
}

func (f *fakeAssets) Load(_ context.Context, name string) ([]byte, error) {
	f.calls++
	f.lastName = name
	return f.data, f.err
}

type fakeEncoder struct {
	err     error
	calls   int
	lastPCM []byte
}

func (f *fakeEncoder) Encode(pcm []byte) ([]byte, error) {
	f.calls++
	f.lastPCM = pcm
	if f.err != nil {
		return nil, f.err
	}
	return []byte("mp3-bytes"), nil
}

type fakeRecorder struct {
	stages   []string
	outcomes []string
}

func (f *fakeRecorder) ObserveStage(stage string, _ time.Duration) { f.stages = append(f.stages, stage) }
func (f *fakeRecorder) CountTurn(outcome string)                   { f.outcomes = append(f.outcomes, outcome) }

type fixture struct {
	store    *fakeStore
	stt      *fakeTranscriber
	llm      *fakeLLM
	tts      *fakeSynth
	assets   *fakeAssets
	encoder  *fakeEncoder
	recorder *fakeRecorder
	settings Settings
}

// 2026-03-10 12:00 in UTC+7.
var testNow = time.Date(2026, 3, 10, 5, 0, 0, 0, time.UTC)

func newFixture() *fixture {
	settings := DefaultSettings()
	settings.ChatModel = "llama-test"
	return &fixture{
		store:    &fakeStore{},
		stt:      &fakeTranscriber{text: "สวัสดี"},
		llm:      &fakeLLM{reply: "  hello back  "},
		tts:      &fakeSynth{pcm: pcm(100, -100, 0)},
		assets:   &fakeAssets{data: []byte("say-again-mp3")},
		encoder:  &fakeEncoder{},
		recorder: &fakeRecorder{},
		settings: settings,
	}
}

func (f *fixture) service(t *testing.T) *TurnService {
	t.Helper()
	svc, err := NewTurnService(Deps{
		Store:       f.store,
		Transcriber: f.stt,
		LLM:         f.llm,
		Synthesizer: f.tts,
		Assets:      f.assets,
		Encoder:     f.encoder,
	}, f.settings, WithRecorder(f.recorder), WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	return svc
}

func pcm(samples ...int16) []byte {
	b := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(b[2*i:], uint16(s))
	}
	return b
}

// 0.6 s at 15 kHz mono 16-bit.
var longAudio = make([]byte, 18000)

// 0.1 s.
var shortAudio = make([]byte, 3000)

func conversation(n int, ts time.Time) []domain.Message {
	msgs := make([]domain.Message, n)
	for i := range msgs {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		msgs[i] = domain.Message{Role: role, Content: fmt.Sprintf("m%d", i), Timestamp: ts}
	}
	return msgs
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }
func boolPtr(v bool) *bool    { return &v }

func expectTurnError(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, code, ucErr.Code)
	require.Equal(t, reason, ucErr.Reason)
}

func TestNewTurnService_ValidatesDependencies(t *testing.T) {
	f := newFixture()
	full := Deps{Store: f.store, Transcriber: f.stt, LLM: f.llm, Synthesizer: f.tts, Assets: f.assets, Encoder: f.encoder}

	for name, mutate := range map[string]func(*Deps){
		"store":       func(d *Deps) { d.Store = nil },
		"transcriber": func(d *Deps) { d.Transcriber = nil },
		"llm":         func(d *Deps) { d.LLM = nil },
		"synthesizer": func(d *Deps) { d.Synthesizer = nil },
		"assets":      func(d *Deps) { d.Assets = nil },
		"encoder":     func(d *Deps) { d.Encoder = nil },
	} {
		d := full
		mutate(&d)
		_, err := NewTurnService(d, f.settings)
		require.Error(t, err, name)
	}

	s := f.settings
	s.ChatModel = " "
	_, err := NewTurnService(full, s)
	require.Error(t, err)

	s = f.settings
	s.FallbackAsset = ""
	_, err = NewTurnService(full, s)
	require.Error(t, err)

	s = f.settings
	s.InputFormat = audio.Format{}
	_, err = NewTurnService(full, s)
	require.Error(t, err)
}

func TestProcessTurn_Transcribed(t *testing.T) {
	f := newFixture()
	earlier := testNow.Add(-time.Hour)
	f.store.history = domain.History{Messages: conversation(2, earlier), Version: 3}
	svc := f.service(t)

	out, err := svc.ProcessTurn(context.Background(), TurnInput{UserID: "u1", Audio: longAudio})
	require.NoError(t, err)
	require.Equal(t, BranchTranscribed, out.Branch)
	require.Equal(t, "สวัสดี", out.Transcript)
	require.Equal(t, "hello back", out.Reply)
	require.Equal(t, []byte("mp3-bytes"), out.Audio)

	require.Equal(t, 1, f.stt.calls)
	require.Len(t, f.stt.lastWAV, 44+len(longAudio))
	require.Equal(t, "RIFF", string(f.stt.lastWAV[:4]))

	require.Equal(t, "llama-test", f.llm.lastModel)
	require.Equal(t, []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: f.settings.DefaultPrompt},
		{Role: domain.RoleUser, Content: "m0"},
		{Role: domain.RoleAssistant, Content: "m1"},
		{Role: domain.RoleUser, Content: "สวัสดี"},
	}, f.llm.lastMsgs)

	require.Equal(t, "hello back", f.tts.lastText)
	require.Equal(t, []int16{1200, -1200, 0}, audio.Samples(f.encoder.lastPCM))

	require.Equal(t, []string{"GetUserConfig", "GetHistory", "PutHistory"}, f.store.calls)
	saved := f.store.puts[0]
	require.Equal(t, int64(3), saved.Version)
	require.Len(t, saved.Messages, 4)
	require.Equal(t, domain.Message{Role: domain.RoleUser, Content: "สวัสดี", Timestamp: testNow}, saved.Messages[2])
	require.Equal(t, domain.Message{Role: domain.RoleAssistant, Content: "hello back", Timestamp: testNow}, saved.Messages[3])

	require.Equal(t, []string{BranchTranscribed}, f.recorder.outcomes)
	require.Contains(t, f.recorder.stages, "stt")
	require.Contains(t, f.recorder.stages, "total")
}

func TestProcessTurn_ShortUtteranceSkipsTranscription(t *testing.T) {
	f := newFixture()
	svc := f.service(t)

	out, err := svc.ProcessTurn(context.Background(), TurnInput{UserID: "u1", Audio: shortAudio})
	require.NoError(t, err)
	require.Equal(t, BranchShort, out.Branch)
	require.Zero(t, f.stt.calls)
	require.Equal(t, 1, f.llm.calls)
	require.Equal(t, domain.ChatMessage{Role: domain.RoleUser, Content: ""}, f.llm.lastMsgs[len(f.llm.lastMsgs)-1])
	require.Equal(t, 1, f.tts.calls)

	saved := f.store.puts[0].Messages
	require.Len(t, saved, 2)
	require.Equal(t, domain.RoleUser, saved[0].Role)
	require.Empty(t, saved[0].Content)
	require.Equal(t, domain.RoleAssistant, saved[1].Role)
}

func TestProcessTurn_ThresholdIsInclusive(t *testing.T) {
	f := newFixture()
	svc := f.service(t)

	// exactly 0.4 s
	_, err := svc.ProcessTurn(context.Background(), TurnInput{UserID: "u1", Audio: make([]byte, 12000)})
	require.NoError(t, err)
	require.Equal(t, 1, f.stt.calls)
}

func TestProcessTurn_EmptyTranscriptPlaysFallback(t *testing.T) {
	f := newFixture()
	f.stt.text = "   "
	f.store.history = domain.History{Messages: conversation(4, testNow), Version: 9}
	svc := f.service(t)

	out, err := svc.ProcessTurn(context.Background(), TurnInput{UserID: "u1", Audio: longAudio})
	require.NoError(t, err)
	require.Equal(t, BranchNoSpeech, out.Branch)
	require.Equal(t, []byte("say-again-mp3"), out.Audio)
	require.Equal(t, "say_again.mp3", f.assets.lastName)

	require.Zero(t, f.llm.calls)
	require.Zero(t, f.tts.calls)
	require.Zero(t, f.encoder.calls)

	require.Len(t, f.store.puts, 1)
	saved := f.store.puts[0]
	require.Equal(t, int64(9), saved.Version)
	require.Len(t, saved.Messages, 6)
	require.Equal(t, domain.Message{Role: domain.RoleUser, Content: "", Timestamp: testNow}, saved.Messages[4])
	require.Equal(t, domain.Message{Role: domain.RoleAssistant, Content: f.settings.FallbackReply, Timestamp: testNow}, saved.Messages[5])
	require.Equal(t, []string{BranchNoSpeech}, f.recorder.outcomes)
}

func TestProcessTurn_WindowsHistory(t *testing.T) {
	f := newFixture()
	f.stt.text = "hi"
	f.store.cfg = domain.UserConfig{ActiveMessageLimit: intPtr(10)}
	f.store.history = domain.History{Messages: conversation(30, testNow.Add(-48*time.Hour))}
	svc := f.service(t)

	_, err := svc.ProcessTurn(context.Background(), TurnInput{UserID: "u1", Audio: longAudio})
	require.NoError(t, err)

	msgs := f.llm.lastMsgs
	require.Len(t, msgs, 22)
	require.Equal(t, domain.RoleSystem, msgs[0].Role)
	require.Equal(t, "m10", msgs[1].Content)
	require.Equal(t, "m29", msgs[20].Content)
	require.Equal(t, domain.ChatMessage{Role: domain.RoleUser, Content: "hi"}, msgs[21])
	for _, m := range msgs[1:] {
		require.NotEqual(t, domain.RoleSystem, m.Role)
	}

	require.Len(t, f.store.puts[0].Messages, 32)
}

func TestProcessTurn_WindowSizes(t *testing.T) {
	cases := []struct {
		name  string
		limit *int
		want  int
	}{
		{name: "default ten pairs", limit: nil, want: 20 + 2},
		{name: "unlimited", limit: intPtr(-1), want: 30 + 2},
		{name: "other negative is unlimited", limit: intPtr(-5), want: 30 + 2},
		{name: "zero", limit: intPtr(0), want: 2},
		{name: "larger than history", limit: intPtr(40), want: 30 + 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			f.store.cfg = domain.UserConfig{ActiveMessageLimit: tc.limit}
			f.store.history = domain.History{Messages: conversation(30, testNow.Add(-48*time.Hour))}
			svc := f.service(t)

			_, err := svc.ProcessTurn(context.Background(), TurnInput{UserID: "u1", Audio: longAudio})
			require.NoError(t, err)
			require.Len(t, f.llm.lastMsgs, tc.want)
			require.Len(t, f.store.puts[0].Messages, 32)
		})
	}
}

func TestProcessTurn_UserPromptOverride(t *testing.T) {
	f := newFixture()
	f.store.cfg = domain.UserConfig{SystemPrompt: strPtr("You are a pirate.")}
	svc := f.service(t)

	_, err := svc.ProcessTurn(context.Background(), TurnInput{UserID: "u1", Audio: longAudio})
	require.NoError(t, err)
	require.Equal(t, domain.ChatMessage{Role: domain.RoleSystem, Content: "You are a pirate."}, f.llm.lastMsgs[0])
}

func TestProcessTurn_NotWhitelisted(t *testing.T) {
	f := newFixture()
	f.store.cfg = domain.UserConfig{Whitelist: boolPtr(false)}
	svc := f.service(t)

	_, err := svc.ProcessTurn(context.Background(), TurnInput{UserID: "u1", Audio: longAudio})
	expectTurnError(t, err, ErrorNotWhitelisted, "not_whitelisted")
	require.Equal(t, []string{"GetUserConfig"}, f.store.calls)
	require.Zero(t, f.stt.calls+f.llm.calls+f.tts.calls+f.assets.calls+f.encoder.calls)
	require.Equal(t, []string{string(ErrorNotWhitelisted)}, f.recorder.outcomes)
}

func TestProcessTurn_WhitelistTrueProceeds(t *testing.T) {
	f := newFixture()
	f.store.cfg = domain.UserConfig{Whitelist: boolPtr(true)}
	svc := f.service(t)

	_, err := svc.ProcessTurn(context.Background(), TurnInput{UserID: "u1", Audio: longAudio})
	require.NoError(t, err)
}

func TestProcessTurn_DailyQuota(t *testing.T) {
	f := newFixture()
	f.store.cfg = domain.UserConfig{DailyRateLimit: intPtr(2)}
	f.store.history = domain.History{Messages: conversation(4, testNow.Add(-time.Minute))}
	svc := f.service(t)

	_, err := svc.ProcessTurn(context.Background(), TurnInput{UserID: "u1", Audio: longAudio})
	expectTurnError(t, err, ErrorRateLimited, "daily_quota_exceeded")
	require.Equal(t, []string{"GetUserConfig", "GetHistory"}, f.store.calls)
	require.Zero(t, f.stt.calls+f.llm.calls+f.tts.calls+f.assets.calls+f.encoder.calls)
}

func TestProcessTurn_DailyQuotaIgnoresYesterday(t *testing.T) {
	f := newFixture()
	f.store.cfg = domain.UserConfig{DailyRateLimit: intPtr(2)}
	f.store.history = domain.History{Messages: conversation(10, testNow.Add(-24*time.Hour))}
	svc := f.service(t)

	_, err := svc.ProcessTurn(context.Background(), TurnInput{UserID: "u1", Audio: longAudio})
	require.NoError(t, err)
}

func TestProcessTurn_InvalidInput(t *testing.T) {
	f := newFixture()
	svc := f.service(t)

	_, err := svc.ProcessTurn(context.Background(), TurnInput{UserID: "u1"})
	expectTurnError(t, err, ErrorInvalidInput, "empty_audio")

	_, err = svc.ProcessTurn(context.Background(), TurnInput{UserID: "  ", Audio: longAudio})
	expectTurnError(t, err, ErrorInvalidInput, "missing_user_id")
	require.Empty(t, f.store.calls)
}

func TestProcessTurn_StoreErrors(t *testing.T) {
	f := newFixture()
	f.store.cfgErr = errors.New("dynamodb down")
	_, err := f.service(t).ProcessTurn(context.Background(), TurnInput{UserID: "u1", Audio: longAudio})
	expectTurnError(t, err, ErrorInternal, "config_read_error")

	f = newFixture()
	f.store.getErr = errors.New("dynamodb down")
	_, err = f.service(t).ProcessTurn(context.Background(), TurnInput{UserID: "u1", Audio: longAudio})
	expectTurnError(t, err, ErrorInternal, "history_read_error")

	f = newFixture()
	f.store.putErr = errors.New("throttled")
	_, err = f.service(t).ProcessTurn(context.Background(), TurnInput{UserID: "u1", Audio: longAudio})
	expectTurnError(t, err, ErrorInternal, "history_write_error")
	require.Zero(t, f.tts.calls)

	f = newFixture()
	f.store.putErr = fmt.Errorf("%w: conditional check failed", domain.ErrHistoryConflict)
	_, err = f.service(t).ProcessTurn(context.Background(), TurnInput{UserID: "u1", Audio: longAudio})
	expectTurnError(t, err, ErrorInternal, "history_conflict")
	require.ErrorIs(t, err, domain.ErrHistoryConflict)
}

func TestProcessTurn_UpstreamErrors(t *testing.T) {
	sttErr := errors.New("stt unavailable")
	f := newFixture()
	f.stt.err = sttErr
	_, err := f.service(t).ProcessTurn(context.Background(), TurnInput{UserID: "u1", Audio: longAudio})
	expectTurnError(t, err, ErrorUpstream, "transcription_error")
	require.ErrorIs(t, err, sttErr)
	require.Zero(t, f.llm.calls)
	require.Empty(t, f.store.puts)

	f = newFixture()
	f.llm.err = &openai.HTTPStatusError{StatusCode: http.StatusTooManyRequests}
	_, err = f.service(t).ProcessTurn(context.Background(), TurnInput{UserID: "u1", Audio: longAudio})
	expectTurnError(t, err, ErrorUpstream, "chat_error")
	require.Empty(t, f.store.puts)
	require.Zero(t, f.tts.calls)
}

func TestProcessTurn_SynthesisFailureKeepsCommittedHistory(t *testing.T) {
	f := newFixture()
	f.tts.err = errors.New("tts 503")
	_, err := f.service(t).ProcessTurn(context.Background(), TurnInput{UserID: "u1", Audio: longAudio})
	expectTurnError(t, err, ErrorUpstream, "synthesis_error")
	require.Len(t, f.store.puts, 1)
	require.Len(t, f.store.puts[0].Messages, 2)
	require.Zero(t, f.encoder.calls)
}

func TestProcessTurn_EncodeAndAssetErrors(t *testing.T) {
	f := newFixture()
	f.encoder.err = errors.New("encoder broke")
	_, err := f.service(t).ProcessTurn(context.Background(), TurnInput{UserID: "u1", Audio: longAudio})
	expectTurnError(t, err, ErrorInternal, "audio_encode_error")

	f = newFixture()
	f.stt.text = ""
	f.assets.err = errors.New("no such file")
	_, err = f.service(t).ProcessTurn(context.Background(), TurnInput{UserID: "u1", Audio: longAudio})
	expectTurnError(t, err, ErrorInternal, "fallback_asset_error")
	require.Len(t, f.store.puts, 1)
}

func TestProcessTurn_RecoversPanic(t *testing.T) {
	f := newFixture()
	f.llm.panicWith = "nil map write"
	out, err := f.service(t).ProcessTurn(context.Background(), TurnInput{UserID: "u1", Audio: longAudio})
	expectTurnError(t, err, ErrorInternal, "panic")
	require.Empty(t, out.Audio)
	require.Equal(t, []string{string(ErrorInternal)}, f.recorder.outcomes)
}

func TestProcessTurn_TrimsSilenceWhenEnabled(t *testing.T) {
	f := newFixture()
	f.settings.TrimSilence = true
	f.settings.SilenceThreshold = 100
	f.tts.pcm = pcm(0, 1, 50, -50, 2, 0)
	_, err := f.service(t).ProcessTurn(context.Background(), TurnInput{UserID: "u1", Audio: longAudio})
	require.NoError(t, err)
	require.Equal(t, []int16{600, -600}, audio.Samples(f.encoder.lastPCM))
}

func TestCodeOf(t *testing.T) {
	require.Equal(t, ErrorRateLimited, CodeOf(newError(ErrorRateLimited, "x", nil)))
	require.Equal(t, ErrorUpstream, CodeOf(fmt.Errorf("wrapped: %w", newError(ErrorUpstream, "x", nil))))
	require.Equal(t, ErrorInternal, CodeOf(errors.New("plain")))
}
