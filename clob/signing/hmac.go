package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// BuildPolyHmacSignature 构建 L2 请求签名：
// HMAC-SHA256(secret, timestamp + method + path [+ body])，结果 base64url 编码（保留 = 填充）。
func BuildPolyHmacSignature(secret string, timestamp int64, method, requestPath string, body *string) (string, error) {
	message := strconv.FormatInt(timestamp, 10) + method + requestPath
	if body != nil {
		message += *body
	}

	key, err := decodeSecret(secret)
	if err != nil {
		return "", fmt.Errorf("解码 secret 失败: %w", err)
	}

	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return base64.URLEncoding.EncodeToString(mac.Sum(nil)), nil
}

// decodeSecret 解出 HMAC 密钥。凭证接口下发的 secret 是 base64url；
// 从环境变量走一圈可能混进空白或引号，先映射回标准字母表并丢掉杂字符再解码。
func decodeSecret(secret string) ([]byte, error) {
	std := strings.Map(func(r rune) rune {
		switch {
		case r == '-':
			return '+'
		case r == '_':
			return '/'
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9',
			r == '+', r == '/', r == '=':
			return r
		}
		return -1
	}, secret)
	return base64.StdEncoding.DecodeString(std)
}
