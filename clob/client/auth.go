package client

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/betbot/bucketmm/clob/signing"
	"github.com/betbot/bucketmm/clob/types"
	"github.com/ethereum/go-ethereum/common"
)

// AuthConfig 认证配置
type AuthConfig struct {
	PrivateKey *ecdsa.PrivateKey
	ChainID    types.Chain
	Creds      *types.ApiKeyCreds
}

// CanL2Auth 检查是否可以进行 L2 认证
func (c *Client) CanL2Auth() error {
	if c.authConfig == nil || c.authConfig.Creds == nil {
		return fmt.Errorf("L2 认证不可用: API 凭证未配置")
	}
	return nil
}

// CanL1Auth 检查是否可以进行 L1 认证
func (c *Client) CanL1Auth() error {
	if c.authConfig == nil || c.authConfig.PrivateKey == nil {
		return fmt.Errorf("L1 认证不可用: 私钥未配置")
	}
	return nil
}

// GetAddress 获取账号地址（从私钥计算）
func (c *Client) GetAddress() (common.Address, error) {
	if c.authConfig == nil || c.authConfig.PrivateKey == nil {
		return common.Address{}, fmt.Errorf("私钥未配置，无法获取地址")
	}
	return signing.GetAddressFromPrivateKey(c.authConfig.PrivateKey), nil
}

// l1HeaderMap 将 L1 认证头转换为请求头 map
func l1HeaderMap(h *types.L1PolyHeader) map[string]string {
	return map[string]string{
		"POLY_ADDRESS":   h.PolyAddress,
		"POLY_SIGNATURE": h.PolySignature,
		"POLY_TIMESTAMP": h.PolyTimestamp,
		"POLY_NONCE":     h.PolyNonce,
	}
}

// l2HeaderMap 将 L2 认证头转换为请求头 map
func l2HeaderMap(h *types.L2PolyHeader) map[string]string {
	return map[string]string{
		"POLY_ADDRESS":    h.PolyAddress,
		"POLY_SIGNATURE":  h.PolySignature,
		"POLY_TIMESTAMP":  h.PolyTimestamp,
		"POLY_API_KEY":    h.PolyAPIKey,
		"POLY_PASSPHRASE": h.PolyPassphrase,
	}
}

// createL2HeaderMap 为指定请求构建 L2 认证头 map
func (c *Client) createL2HeaderMap(method, requestPath string, body *string) (map[string]string, error) {
	headers, err := signing.CreateL2Headers(
		c.authConfig.PrivateKey,
		c.authConfig.Creds,
		&types.L2HeaderArgs{
			Method:      method,
			RequestPath: requestPath,
			Body:        body,
		},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("创建 L2 认证头失败: %w", err)
	}
	return l2HeaderMap(headers), nil
}
