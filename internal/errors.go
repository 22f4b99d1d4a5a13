package internal

import (
	"errors"
	"fmt"
)

// 錯誤碼
const (
	// ErrCodeUnknownGameType 工廠不認得的遊戲類型
	ErrCodeUnknownGameType = "UNKNOWN_GAME_TYPE"
	// ErrCodeInvalidState 在錯誤的生命週期階段呼叫操作
	ErrCodeInvalidState = "INVALID_STATE"
	// ErrCodeNotInitialized 缺少必要的依賴
	ErrCodeNotInitialized = "NOT_INITIALIZED"
	// ErrCodeSetupFailed 回合 Setup 失敗
	ErrCodeSetupFailed = "SETUP_FAILED"
	// ErrCodeInvalidConfig 設定檔內容錯誤
	ErrCodeInvalidConfig = "INVALID_CONFIG"
)

// ServerError 伺服器端的設定與使用錯誤
//
// 這類錯誤來自接線錯誤（未知遊戲類型、缺少依賴），不會重試。
type ServerError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error 實現 error 介面
func (e *ServerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 實現 errors.Unwrap
func (e *ServerError) Unwrap() error {
	return e.Err
}

// Is 以錯誤碼比對
func (e *ServerError) Is(target error) bool {
	t, ok := target.(*ServerError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewServerError 創建伺服器錯誤
func NewServerError(code, message string) *ServerError {
	return &ServerError{Code: code, Message: message}
}

// WrapServerError 包裝底層錯誤
func WrapServerError(err error, code, message string) *ServerError {
	return &ServerError{Code: code, Message: message, Err: err}
}

// 預定義錯誤，供 errors.Is 比對
var (
	ErrUnknownGameType = NewServerError(ErrCodeUnknownGameType, "未知的遊戲類型")
	ErrInvalidState    = NewServerError(ErrCodeInvalidState, "狀態錯誤")
	ErrNotInitialized  = NewServerError(ErrCodeNotInitialized, "尚未初始化")
	ErrSetupFailed     = NewServerError(ErrCodeSetupFailed, "回合設置失敗")
	ErrInvalidConfig   = NewServerError(ErrCodeInvalidConfig, "設定無效")
)

func hasCode(err error, code string) bool {
	var se *ServerError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// IsUnknownGameType 檢查是否為未知遊戲類型錯誤
func IsUnknownGameType(err error) bool {
	return hasCode(err, ErrCodeUnknownGameType)
}

// IsInvalidState 檢查是否為狀態錯誤
func IsInvalidState(err error) bool {
	return hasCode(err, ErrCodeInvalidState)
}

// IsSetupFailed 檢查是否為 Setup 失敗
func IsSetupFailed(err error) bool {
	return hasCode(err, ErrCodeSetupFailed)
}
