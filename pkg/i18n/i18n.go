// Package i18n holds the operator-facing CLI messages in English and Korean.
package i18n

import (
	"reflect"
	"sync"
)

// Language type
type Language string

const (
	LangEN Language = "en"
	LangKO Language = "ko"
)

// Messages holds all translatable strings
type Messages struct {
	Starting           string
	ConfigLoadFailed   string
	InstrumentsLoaded  string
	UsingDBPath        string
	DBInitFailed       string
	DBMigrationsFailed string
	GatewayConnected   string
	SessionStarting    string
	SessionEnded       string
	WaitingForOpen     string
	ShuttingDown       string
	APIServerError     string
	ReportWritten      string
	ReportNoTrades     string
}

var (
	mu          sync.RWMutex
	currentLang Language = LangEN
	messages    *Messages
)

var messagesEN = Messages{
	Starting:           "auto-trading core starting",
	ConfigLoadFailed:   "failed to load config: %v",
	InstrumentsLoaded:  "loaded %d target instruments",
	UsingDBPath:        "using database at %s",
	DBInitFailed:       "failed to open database: %v",
	DBMigrationsFailed: "failed to apply migrations: %v",
	GatewayConnected:   "gateway %s connected",
	SessionStarting:    "trading session starting",
	SessionEnded:       "trading session ended: %v",
	WaitingForOpen:     "waiting %s for the market to open",
	ShuttingDown:       "shutting down",
	APIServerError:     "status API error: %v",
	ReportWritten:      "report written: %s",
	ReportNoTrades:     "no trades recorded on %s",
}

var messagesKO = Messages{
	Starting:           "자동매매 코어 시작",
	ConfigLoadFailed:   "설정 로드 실패: %v",
	InstrumentsLoaded:  "감시 종목 %d개 로드",
	UsingDBPath:        "데이터베이스 경로: %s",
	DBInitFailed:       "데이터베이스 열기 실패: %v",
	DBMigrationsFailed: "마이그레이션 실패: %v",
	GatewayConnected:   "게이트웨이 %s 연결됨",
	SessionStarting:    "매매 세션 시작",
	SessionEnded:       "매매 세션 종료: %v",
	WaitingForOpen:     "장 시작까지 %s 대기",
	ShuttingDown:       "종료 중",
	APIServerError:     "상태 API 오류: %v",
	ReportWritten:      "리포트 저장 완료: %s",
	ReportNoTrades:     "%s 매매 기록 없음",
}

func init() {
	messages = &messagesEN
}

// SetLanguage sets the current language
func SetLanguage(lang Language) {
	mu.Lock()
	defer mu.Unlock()

	currentLang = lang
	switch lang {
	case LangKO:
		messages = &messagesKO
	default:
		currentLang = LangEN
		messages = &messagesEN
	}
}

// GetLanguage returns the current language
func GetLanguage() Language {
	mu.RLock()
	defer mu.RUnlock()
	return currentLang
}

// M returns the current messages
func M() *Messages {
	mu.RLock()
	defer mu.RUnlock()
	return messages
}

// Get returns specific message by key dynamically using reflection
func Get(key string) string {
	v := reflect.ValueOf(M()).Elem()
	f := v.FieldByName(key)
	if f.IsValid() && f.Kind() == reflect.String {
		return f.String()
	}
	return key
}
