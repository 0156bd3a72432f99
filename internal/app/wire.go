// Package app wires configuration, AWS clients and providers into a ready
// TurnService. Both entry points share it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"voice-turn/internal/assets"
	"voice-turn/internal/audio"
	"voice-turn/internal/config"
	"voice-turn/internal/integrations/azurespeech"
	"voice-turn/internal/integrations/openai"
	"voice-turn/internal/integrations/paramstore"
	"voice-turn/internal/metrics"
	"voice-turn/internal/repository"
	"voice-turn/internal/usecase"
)

// Components is everything an entry point needs to serve turns.
type Components struct {
	Service  *usecase.TurnService
	Metrics  *metrics.Metrics
	Registry *prometheus.Registry
}

// tokenSource matches the key contract of both provider clients.
type tokenSource interface {
	Resolve(ctx context.Context) (string, error)
}

// NewLogger builds the process logger from the logging configuration.
func NewLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// Build creates the AWS clients, provider adapters and the TurnService.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Components, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	dynamoClient := awsdynamodb.NewFromConfig(awsCfg, func(o *awsdynamodb.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
		}
	})
	store, err := repository.New(dynamoClient, cfg.Storage.MessagesTable, cfg.Storage.PromptsTable)
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}

	var params *paramstore.Client
	resolve := func(static, name string) (tokenSource, error) {
		if static != "" {
			return paramstore.StaticToken(static), nil
		}
		if params == nil {
			if params, err = paramstore.New(awsssm.NewFromConfig(awsCfg)); err != nil {
				return nil, err
			}
		}
		return paramstore.NewToken(params, name)
	}

	speechKey, err := resolve(cfg.Params.SpeechKey, cfg.Params.SpeechKeyParam())
	if err != nil {
		return nil, fmt.Errorf("create speech key source: %w", err)
	}
	chatToken, err := resolve(cfg.Params.ChatToken, cfg.Params.ChatTokenParam())
	if err != nil {
		return nil, fmt.Errorf("create chat token source: %w", err)
	}

	speech, err := azurespeech.NewClient(cfg.Speech.Region, speechKey,
		azurespeech.WithLanguage(cfg.Speech.Language),
		azurespeech.WithVoice(cfg.Speech.Voice),
		azurespeech.WithProsodyRate(cfg.Speech.ProsodyRate),
		azurespeech.WithSTTEndpoint(cfg.Speech.STTEndpoint),
		azurespeech.WithTTSEndpoint(cfg.Speech.TTSEndpoint),
		azurespeech.WithHTTPClient(&http.Client{Timeout: cfg.Speech.GetTimeoutDuration()}),
	)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}

	chat, err := openai.NewClient(chatToken,
		openai.WithBaseURL(cfg.Chat.BaseURL),
		openai.WithMaxTokens(cfg.Chat.MaxTokens),
		openai.WithHTTPClient(&http.Client{Timeout: cfg.Chat.GetTimeoutDuration()}),
	)
	if err != nil {
		return nil, fmt.Errorf("create chat client: %w", err)
	}

	loader, err := assets.NewLoader(cfg.Assets.Dir)
	if err != nil {
		return nil, fmt.Errorf("create asset loader: %w", err)
	}
	checkFallback(ctx, loader, cfg.Assets.Fallback, logger)

	encoder, err := audio.NewMP3Encoder(cfg.Audio.OutputSampleRate)
	if err != nil {
		return nil, fmt.Errorf("create mp3 encoder: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(reg)

	svc, err := usecase.NewTurnService(usecase.Deps{
		Store:       store,
		Transcriber: speech,
		LLM:         chat,
		Synthesizer: speech,
		Assets:      loader,
		Encoder:     encoder,
	}, cfg.TurnSettings(), usecase.WithLogger(logger), usecase.WithRecorder(m))
	if err != nil {
		return nil, fmt.Errorf("create turn service: %w", err)
	}

	return &Components{Service: svc, Metrics: m, Registry: reg}, nil
}

// checkFallback loads and probes the fallback clip so a missing or broken
// file shows up at startup rather than on the first silent turn.
func checkFallback(ctx context.Context, loader *assets.Loader, name string, logger *slog.Logger) {
	b, err := loader.Load(ctx, name)
	if err != nil {
		logger.Warn("fallback asset unavailable", "asset", name, "err", err)
		return
	}
	info, err := assets.Probe(b)
	if err != nil {
		logger.Warn("fallback asset is not a decodable mp3", "asset", name, "err", err)
		return
	}
	logger.Info("fallback asset loaded", "asset", name, "sample_rate", info.SampleRate, "duration", info.Duration.String())
}
