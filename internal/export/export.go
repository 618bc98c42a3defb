// Package export はアクティビティ記録をcsv・json・pdfのファイル形式に変換する。
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/threadpulse/internal/model"
	"github.com/hitoshi/threadpulse/internal/security"
)

// Format はエクスポート形式。
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatPDF  Format = "pdf"
)

// csvHeader はCSVのヘッダー行。
var csvHeader = []string{"createdAt", "type", "threadTitle", "userName", "userEmail", "details"}

// ParseFormat はトークンをFormatに変換する。大文字小文字は区別しない。
// 未対応の形式は"Unsupported export format"のValidationエラーを返す。
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatJSON, FormatPDF:
		return f, nil
	default:
		return "", model.NewUnsupportedExportFormatError(s)
	}
}

// ContentType は形式に対応するMIMEタイプを返す。
func (f Format) ContentType() string {
	switch f {
	case FormatCSV:
		return "text/csv; charset=utf-8"
	case FormatJSON:
		return "application/json"
	case FormatPDF:
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

// Extension はファイル名に使う拡張子を返す。
func (f Format) Extension() string {
	return "." + string(f)
}

// Record はエクスポート1行分のフラットな表現。
type Record struct {
	CreatedAt   string `json:"createdAt"`
	Type        string `json:"type"`
	ThreadTitle string `json:"threadTitle"`
	UserName    string `json:"userName"`
	UserEmail   string `json:"userEmail"`
	Details     string `json:"details"`
}

// Formatter はアクティビティ記録をバイト列に変換する。
type Formatter struct {
	sanitizer security.Sanitizer
}

// NewFormatter はFormatterを生成する。sanitizerはユーザー入力由来の文字列からHTMLを除去する。
func NewFormatter(sanitizer security.Sanitizer) *Formatter {
	if sanitizer == nil {
		sanitizer = security.NewTextSanitizer()
	}
	return &Formatter{sanitizer: sanitizer}
}

// Format はrowsを指定形式でシリアライズする。
func (f *Formatter) Format(rows []model.ActivityExportRow, format string) ([]byte, error) {
	ft, err := ParseFormat(format)
	if err != nil {
		return nil, err
	}

	records := f.flatten(rows)
	switch ft {
	case FormatCSV:
		return writeCSV(records)
	case FormatJSON:
		return writeJSON(records)
	default:
		return writePDF(records)
	}
}

// flatten はエクスポート行をサニタイズ済みのRecordに変換する。
func (f *Formatter) flatten(rows []model.ActivityExportRow) []Record {
	records := make([]Record, 0, len(rows))
	for _, r := range rows {
		records = append(records, Record{
			CreatedAt:   r.CreatedAt.UTC().Format(time.RFC3339),
			Type:        string(model.NormalizeActivityType(string(r.Type))),
			ThreadTitle: f.sanitizer.Sanitize(r.ThreadTitle),
			UserName:    f.sanitizer.Sanitize(r.UserName),
			UserEmail:   f.sanitizer.Sanitize(r.UserEmail),
			Details:     f.details(r.Metadata),
		})
	}
	return records
}

// details はメタデータをHTML除去済みのコンパクトなJSON文字列にする。メタデータが空の場合は空文字列。
func (f *Formatter) details(metadata map[string]any) string {
	if len(metadata) == 0 {
		return ""
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(security.SanitizeValue(f.sanitizer, metadata)); err != nil {
		return ""
	}
	return strings.TrimRight(buf.String(), "\n")
}

func writeCSV(records []Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("CSVヘッダーの書き込みに失敗しました: %w", err)
	}
	for _, r := range records {
		if err := w.Write([]string{r.CreatedAt, r.Type, r.ThreadTitle, r.UserName, r.UserEmail, r.Details}); err != nil {
			return nil, fmt.Errorf("CSV行の書き込みに失敗しました: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("CSVの書き込みに失敗しました: %w", err)
	}
	return buf.Bytes(), nil
}

func writeJSON(records []Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		return nil, fmt.Errorf("JSONのエンコードに失敗しました: %w", err)
	}
	return buf.Bytes(), nil
}
