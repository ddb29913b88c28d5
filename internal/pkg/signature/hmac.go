// internal/pkg/signature/hmac.go
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sign 计算 HMAC-SHA256 签名，返回小写十六进制字符串。
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify 以常量时间比较期望签名和收到的签名。
func Verify(secret string, payload []byte, received string) bool {
	if secret == "" || received == "" {
		return false
	}
	expected := Sign(secret, payload)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(strings.TrimSpace(received))))
}

// PaymentPayload 是支付回调签名的原文: "<gatewayOrderId>|<gatewayPaymentId>"。
func PaymentPayload(gatewayOrderID, gatewayPaymentID string) []byte {
	return []byte(gatewayOrderID + "|" + gatewayPaymentID)
}
