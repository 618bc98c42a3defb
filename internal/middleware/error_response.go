package middleware

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/threadpulse/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
func WriteErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, http.StatusInternalServerError, model.NewInternalError())
}

// StatusForError はAPIErrorに対応するHTTPステータスコードを返す。
func StatusForError(apiErr *model.APIError) int {
	switch {
	case apiErr.IsValidation():
		return http.StatusBadRequest
	case apiErr.IsNotFound():
		return http.StatusNotFound
	case apiErr.Code == model.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case apiErr.Code == model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// WriteError はサービス層のエラーを統一フォーマットで書き込む。
// APIError以外のエラーと5xxになるエラーは原因をログに記録し、一般的なメッセージを返す。
func WriteError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		logger.Error("unexpected error", slog.String("error", err.Error()))
		WriteInternalServerError(w)
		return
	}

	status := StatusForError(apiErr)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed",
			slog.String("code", apiErr.Code),
			slog.String("error", err.Error()),
		)
	}
	WriteErrorResponse(w, status, apiErr)
}
