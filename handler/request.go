package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"voice-turn/internal/usecase"
)

const (
	// CorrelationHeader is echoed on every response.
	CorrelationHeader = "X-Correlation-Id"
	// DefaultUserID is used when the request names no user.
	DefaultUserID = "default_user"
)

type turnRequest struct {
	UserID    string  `json:"user_id"`
	AudioData *string `json:"audio_data"`
}

// ErrorResponse is the JSON body of every failed turn.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

const (
	reasonMissingAudio = "missing_audio"
	msgNoAudio         = "No audio data found in the request."
)

var (
	errNoAudio = errors.New("audio_data is missing")
	errBadJSON = errors.New("request body is not valid JSON")
	errBad64   = errors.New("audio_data is not valid base64")
)

// DecodeTurnRequest parses a {"user_id", "audio_data"} body. audio_data is
// standard base64; a missing user_id falls back to DefaultUserID.
func DecodeTurnRequest(body []byte) (usecase.TurnInput, error) {
	var req turnRequest
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			return usecase.TurnInput{}, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "malformed_body", Err: errBadJSON}
		}
	}
	if req.AudioData == nil || strings.TrimSpace(*req.AudioData) == "" {
		return usecase.TurnInput{}, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: reasonMissingAudio, Err: errNoAudio}
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(*req.AudioData))
	if err != nil {
		return usecase.TurnInput{}, &usecase.Error{Code: usecase.ErrorInvalidInput, Reason: "invalid_base64", Err: errBad64}
	}

	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = DefaultUserID
	}
	return usecase.TurnInput{UserID: userID, Audio: raw}, nil
}

// MapError converts a turn error into an HTTP status and response body.
func MapError(err error) (int, ErrorResponse) {
	var ucErr *usecase.Error
	if !errors.As(err, &ucErr) {
		return http.StatusInternalServerError, ErrorResponse{
			Error:   string(usecase.ErrorInternal),
			Message: "Error: " + err.Error(),
		}
	}

	detail := ucErr.Reason
	if ucErr.Err != nil {
		detail = ucErr.Err.Error()
	}

	resp := ErrorResponse{Error: string(ucErr.Code)}
	switch ucErr.Code {
	case usecase.ErrorInvalidInput:
		resp.Message = "Error: " + detail
		if ucErr.Reason == reasonMissingAudio {
			resp.Message = msgNoAudio
		}
		return http.StatusBadRequest, resp
	case usecase.ErrorNotWhitelisted:
		resp.Message = "Error: user is not whitelisted."
		return http.StatusBadRequest, resp
	case usecase.ErrorRateLimited:
		resp.Message = "Rate limit reached."
		return http.StatusTooManyRequests, resp
	case usecase.ErrorUpstream:
		resp.Message = "Error processing audio: " + detail
		return http.StatusInternalServerError, resp
	default:
		resp.Error = string(usecase.ErrorInternal)
		resp.Message = "Error: " + detail
		return http.StatusInternalServerError, resp
	}
}

// CorrelationID returns the request's correlation id, or a new one.
func CorrelationID(value string) string {
	if v := strings.TrimSpace(value); v != "" {
		return v
	}
	return newUUID()
}

func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

var newUUID = func() string {
	return uuid.NewString()
}
