package config

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/betbot/bucketmm/pkg/secretstore"
)

// ResolvePrivateKey 解析签名私钥，按优先级尝试：
//  1. api.private_key（PRIVATE_KEY 环境变量已在加载时合并进来）
//  2. secretstore 中 api.key_ref 引用的条目
//  3. api.mnemonic 派生（路径 m/44'/60'/0'/0/0）
//
// store 可以为 nil，此时跳过第 2 步。
func (c *Config) ResolvePrivateKey(store *secretstore.Store) (*ecdsa.PrivateKey, error) {
	if hexKey := c.API.PrivateKey; hexKey != "" {
		return parsePrivateKeyHex(hexKey)
	}

	if c.API.KeyRef != "" {
		if store == nil {
			return nil, fmt.Errorf("api.key_ref 已配置但 secretstore 未打开")
		}
		hexKey, found, err := store.GetString(c.API.KeyRef)
		if err != nil {
			return nil, fmt.Errorf("读取 secretstore 条目 %q 失败: %w", c.API.KeyRef, err)
		}
		if !found {
			return nil, fmt.Errorf("secretstore 中不存在条目 %q", c.API.KeyRef)
		}
		return parsePrivateKeyHex(hexKey)
	}

	if c.API.Mnemonic != "" {
		wallet, err := secretstore.DeriveWallet(c.API.Mnemonic, secretstore.DefaultDerivationPath)
		if err != nil {
			return nil, fmt.Errorf("从助记词派生私钥失败: %w", err)
		}
		return parsePrivateKeyHex(wallet.PrivateKeyHex)
	}

	return nil, fmt.Errorf("未配置签名私钥（PRIVATE_KEY 环境变量 / api.private_key / api.key_ref / api.mnemonic 均为空）")
}

func parsePrivateKeyHex(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("私钥格式无效: %w", err)
	}
	return key, nil
}
