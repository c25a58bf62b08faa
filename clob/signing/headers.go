package signing

import (
	"crypto/ecdsa"
	"fmt"
	"strconv"
	"time"

	"github.com/betbot/bucketmm/clob/types"
)

// CreateL1Headers 创建 L1 认证头（EIP712 签名验证）
func CreateL1Headers(
	privateKey *ecdsa.PrivateKey,
	chainID types.Chain,
	nonce *int64,
	timestamp *int64,
) (*types.L1PolyHeader, error) {
	ts := time.Now().Unix()
	if timestamp != nil {
		ts = *timestamp
	}

	n := int64(0)
	if nonce != nil {
		n = *nonce
	}

	sig, err := BuildClobEip712Signature(privateKey, chainID, ts, n)
	if err != nil {
		return nil, fmt.Errorf("构建 EIP712 签名失败: %w", err)
	}

	address := GetAddressFromPrivateKey(privateKey)

	return &types.L1PolyHeader{
		PolyAddress:   address.Hex(),
		PolySignature: sig,
		PolyTimestamp: strconv.FormatInt(ts, 10),
		PolyNonce:     strconv.FormatInt(n, 10),
	}, nil
}

// CreateL2Headers 创建 L2 认证头（API 密钥验证）
func CreateL2Headers(
	privateKey *ecdsa.PrivateKey,
	creds *types.ApiKeyCreds,
	l2HeaderArgs *types.L2HeaderArgs,
	timestamp *int64,
) (*types.L2PolyHeader, error) {
	ts := time.Now().Unix()
	if timestamp != nil {
		ts = *timestamp
	}

	address := GetAddressFromPrivateKey(privateKey)

	sig, err := BuildPolyHmacSignature(
		creds.Secret,
		ts,
		l2HeaderArgs.Method,
		l2HeaderArgs.RequestPath,
		l2HeaderArgs.Body,
	)
	if err != nil {
		return nil, fmt.Errorf("构建 HMAC 签名失败: %w", err)
	}

	return &types.L2PolyHeader{
		PolyAddress:    address.Hex(),
		PolySignature:  sig,
		PolyTimestamp:  strconv.FormatInt(ts, 10),
		PolyAPIKey:     creds.Key,
		PolyPassphrase: creds.Passphrase,
	}, nil
}
