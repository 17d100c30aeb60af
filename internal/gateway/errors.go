package gateway

import (
	"encoding/json"
	"fmt"
)

// AuthError возвращается при неудачной аутентификации на шлюзе
// (неверные credentials, сетевая ошибка, невалидный ответ).
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("qpay authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// GatewayError возвращается, когда шлюз отклоняет запрос.
// Payload содержит тело ответа провайдера — оно пробрасывается
// в HTTP-ответ merchant API как есть.
type GatewayError struct {
	Op         string
	StatusCode int
	Payload    json.RawMessage
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("qpay %s: status %d: %s", e.Op, e.StatusCode, string(e.Payload))
}
