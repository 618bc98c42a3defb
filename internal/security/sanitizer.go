// Package security はアプリケーションのセキュリティ機能を提供する。
//
// Sanitizer はユーザー入力由来の文字列からHTMLを除去し、
// エクスポートファイルや検索クエリにマークアップやスクリプトが混入するのを防ぐ。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer は文字列サニタイズのインターフェース。
type Sanitizer interface {
	// Sanitize はHTMLタグを除去したプレーンテキストを返す。
	// script, styleなどの要素は中身ごと除去する。
	// 空文字列の入力には空文字列を返す。同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// textSanitizer はSanitizerの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type textSanitizer struct {
	policy *bluemonday.Policy
}

var _ Sanitizer = (*textSanitizer)(nil)

// NewTextSanitizer はすべてのタグを除去するSanitizerを生成する。
func NewTextSanitizer() Sanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去し、bluemondayがエスケープした文字参照を元の文字に戻す。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}

// SanitizeValue はmap・スライスを再帰的にたどり、含まれる文字列をすべてサニタイズした複製を返す。
// 文字列以外のスカラー値はそのまま返す。
func SanitizeValue(s Sanitizer, v any) any {
	switch val := v.(type) {
	case string:
		return s.Sanitize(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[s.Sanitize(k)] = SanitizeValue(s, inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = SanitizeValue(s, inner)
		}
		return out
	default:
		return v
	}
}
