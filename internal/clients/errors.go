package clients

import (
	"errors"
	"fmt"
)

// ErrEmptyResponse — успешный HTTP-статус, но тела нет, оно не разбирается
// или data=null.
var ErrEmptyResponse = errors.New("empty response")

// StatusError — сервер ответил не-2xx.
// Code/Message заполняются, если тело оказалось конвертом API.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server error: %d", e.StatusCode)
}

// BusinessError — конверт с success=false.
type BusinessError struct {
	Code    string
	Message string
}

func (e *BusinessError) Error() string {
	if e.Message == "" {
		return "request failed: " + e.Code
	}

	return e.Message
}
