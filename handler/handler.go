package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"voice-turn/internal/usecase"
)

type TurnProcessor interface {
	ProcessTurn(ctx context.Context, in usecase.TurnInput) (usecase.TurnOutput, error)
}

type Handler struct {
	uc     TurnProcessor
	logger *slog.Logger
}

type Option func(*Handler)

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

func NewHandler(uc TurnProcessor, opts ...Option) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: turn processor must not be nil")
	}
	h := &Handler{uc: uc, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Handle serves one API Gateway proxy event. Errors are always reported in
// the response; the returned error is reserved for the Lambda runtime.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := CorrelationID(headerValue(req.Headers, CorrelationHeader))

	started := time.Now()
	body := []byte(req.Body)
	if req.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(req.Body)
		if err != nil {
			return errorResponse(corrID, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_body_encoding", Err: errBad64}), nil
		}
		body = decoded
	}
	in, err := DecodeTurnRequest(body)
	h.logger.Debug("stage timing", "stage", "body_decode", "elapsed_ms", time.Since(started).Milliseconds(), "correlation_id", corrID)
	if err != nil {
		return errorResponse(corrID, err), nil
	}
	in.CorrelationID = corrID

	out, err := h.uc.ProcessTurn(ctx, in)
	if err != nil {
		return errorResponse(corrID, err), nil
	}

	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers: map[string]string{
			"Content-Type":    "audio/mpeg",
			CorrelationHeader: corrID,
		},
		Body:            base64.StdEncoding.EncodeToString(out.Audio),
		IsBase64Encoded: true,
	}, nil
}

func errorResponse(corrID string, err error) events.APIGatewayProxyResponse {
	status, body := MapError(err)
	b, _ := json.Marshal(body)
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			CorrelationHeader: corrID,
		},
		Body: string(b),
	}
}
