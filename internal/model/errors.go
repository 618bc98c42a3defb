package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
// Errにはストア障害など内部の原因エラーを保持し、レスポンスには含めない。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, thread, search, system
	Action   string // ユーザー向け対処方法
	Err      error  // 原因エラー（任意）
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap は原因エラーを返す。
func (e *APIError) Unwrap() error {
	return e.Err
}

// エラーカテゴリ
const (
	CategoryAuth       = "auth"
	CategoryValidation = "validation"
	CategoryThread     = "thread"
	CategorySearch     = "search"
	CategorySystem     = "system"
)

// 定義済みエラーコード
const (
	ErrCodeThreadNotFound          = "THREAD_NOT_FOUND"
	ErrCodeSavedSearchNotFound     = "SAVED_SEARCH_NOT_FOUND"
	ErrCodeInvalidDays             = "INVALID_DAYS"
	ErrCodeInvalidTimeRange        = "INVALID_TIME_RANGE"
	ErrCodeInvalidGranularity      = "INVALID_GRANULARITY"
	ErrCodeInvalidLimit            = "INVALID_LIMIT"
	ErrCodeInvalidActivityType     = "INVALID_ACTIVITY_TYPE"
	ErrCodeInvalidQuery            = "INVALID_QUERY"
	ErrCodeUnsupportedExportFormat = "UNSUPPORTED_EXPORT_FORMAT"
	ErrCodeDatabase                = "DATABASE_ERROR"
	ErrCodeUnauthorized            = "UNAUTHORIZED"
	ErrCodeRateLimited             = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal                = "INTERNAL_ERROR"
	ErrCodeInvalidRequest          = "INVALID_REQUEST"
)

// IsNotFound はNotFound系のエラーコードかどうかを返す。
func (e *APIError) IsNotFound() bool {
	switch e.Code {
	case ErrCodeThreadNotFound, ErrCodeSavedSearchNotFound:
		return true
	}
	return false
}

// IsValidation はValidation系のエラーかどうかを返す。
func (e *APIError) IsValidation() bool {
	return e.Category == CategoryValidation
}

// NewThreadNotFoundError はスレッド未検出エラーを生成する。
func NewThreadNotFoundError(threadID string) *APIError {
	return &APIError{
		Code:     ErrCodeThreadNotFound,
		Message:  fmt.Sprintf("Thread not found: %s", threadID),
		Category: CategoryThread,
		Action:   "Check the thread ID.",
	}
}

// NewSavedSearchNotFoundError は保存検索未検出エラーを生成する。
func NewSavedSearchNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeSavedSearchNotFound,
		Message:  fmt.Sprintf("Saved search not found: %s", id),
		Category: CategorySearch,
		Action:   "Reload the saved search list.",
	}
}

// NewInvalidDaysError は日数パラメータの範囲外エラーを生成する。
func NewInvalidDaysError(days int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidDays,
		Message:  fmt.Sprintf("Days must be between %d and %d: %d", MinDays, MaxDays, days),
		Category: CategoryValidation,
		Action:   "Specify days in the range 1 to 365.",
	}
}

// NewInvalidTimeRangeError は集計期間トークンの不正エラーを生成する。
func NewInvalidTimeRangeError(token string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidTimeRange,
		Message:  fmt.Sprintf("Invalid time range: %s", token),
		Category: CategoryValidation,
		Action:   "Specify one of day, week or month.",
	}
}

// NewInvalidGranularityError はバケット粒度の不正エラーを生成する。
func NewInvalidGranularityError(g string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidGranularity,
		Message:  fmt.Sprintf("Invalid granularity: %s", g),
		Category: CategoryValidation,
		Action:   "Specify one of hour, day or month.",
	}
}

// NewInvalidLimitError は件数パラメータの範囲外エラーを生成する。
func NewInvalidLimitError(limit, max int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidLimit,
		Message:  fmt.Sprintf("Limit must be between 1 and %d: %d", max, limit),
		Category: CategoryValidation,
		Action:   fmt.Sprintf("Specify a limit between 1 and %d.", max),
	}
}

// NewInvalidActivityTypeError は未知のアクティビティ種別エラーを生成する。
func NewInvalidActivityTypeError(t string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidActivityType,
		Message:  fmt.Sprintf("Invalid activity type: %s", t),
		Category: CategoryValidation,
		Action:   "Specify one of message_created, reaction_added, content_edited, view or comment.",
	}
}

// NewInvalidQueryError は検索クエリの不正エラーを生成する。
func NewInvalidQueryError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidQuery,
		Message:  fmt.Sprintf("Invalid search query: %s", reason),
		Category: CategoryValidation,
		Action:   "Enter a search query of 1 to 200 characters.",
	}
}

// NewUnsupportedExportFormatError は未対応のエクスポート形式エラーを生成する。
func NewUnsupportedExportFormatError(format string) *APIError {
	return &APIError{
		Code:     ErrCodeUnsupportedExportFormat,
		Message:  "Unsupported export format",
		Category: CategoryValidation,
		Action:   fmt.Sprintf("Specify csv, json or pdf instead of %q.", format),
	}
}

// NewDatabaseError はストア障害をラップするエラーを生成する。
// opには失敗した操作名を指定する。詳細はログのみに記録される。
func NewDatabaseError(op string, err error) *APIError {
	return &APIError{
		Code:     ErrCodeDatabase,
		Message:  fmt.Sprintf("Database operation failed: %s", op),
		Category: CategorySystem,
		Action:   "Please wait and try again.",
		Err:      err,
	}
}

// NewUnauthorizedError はユーザー識別ヘッダーの欠落・不正エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "User identity is missing or invalid",
		Category: CategoryAuth,
		Action:   "Sign in again.",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests",
		Category: CategorySystem,
		Action:   "Please wait and retry after the specified time.",
	}
}

// NewInternalError は分類できない内部エラーを生成する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "An internal error occurred",
		Category: CategorySystem,
		Action:   "Please wait and try again.",
	}
}

// NewInvalidRequestError はリクエスト本文の不正エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("Invalid request: %s", reason),
		Category: CategoryValidation,
		Action:   "Check the request body.",
	}
}
