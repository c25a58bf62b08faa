package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/betbot/bucketmm/clob/signing"
	"github.com/betbot/bucketmm/pkg/secretstore"
)

func main() {
	var (
		dbPath    = flag.String("badger", getenv("BUCKETMM_SECRETS_PATH", "data/secrets"), "badger secrets db path")
		secretKey = flag.String("secret-key", getenv("BUCKETMM_SECRETS_KEY", ""), "badger encryption key (32 bytes base64/hex)")
		ref       = flag.String("ref", "wallet/private_key", "key name inside badger (config api.key_ref)")
		mnemonic  = flag.Bool("mnemonic", false, "read a mnemonic instead of a private key hex")
		force     = flag.Bool("force", false, "overwrite existing entry")
	)
	flag.Parse()

	keyBytes, err := secretstore.ParseKey(*secretKey)
	if err != nil {
		fatal(err)
	}
	if keyBytes == nil {
		fatal(fmt.Errorf("secret key is required: set BUCKETMM_SECRETS_KEY or pass -secret-key"))
	}

	var hexKey string
	if *mnemonic {
		fmt.Fprintln(os.Stderr, "请输入助记词（12/15/18/21/24 个单词），输入完成后回车：")
		w, err := secretstore.DeriveWallet(readLine(), "")
		if err != nil {
			fatal(err)
		}
		hexKey = w.PrivateKeyHex
	} else {
		fmt.Fprintln(os.Stderr, "请输入私钥（hex，带不带 0x 前缀都行），输入完成后回车：")
		hexKey = strings.TrimSpace(readLine())
	}
	if hexKey == "" {
		fatal(errors.New("input is empty"))
	}

	// 入库前先验证，坏钥匙不落盘
	pk, err := signing.PrivateKeyFromHex(hexKey)
	if err != nil {
		fatal(fmt.Errorf("invalid private key: %w", err))
	}
	addr := signing.GetAddressFromPrivateKey(pk).Hex()

	ss, err := secretstore.Open(secretstore.OpenOptions{
		Path:          *dbPath,
		EncryptionKey: keyBytes,
		ReadOnly:      false,
	})
	if err != nil {
		fatal(err)
	}
	defer ss.Close()

	if !*force {
		if _, found, err := ss.GetString(*ref); err != nil {
			fatal(err)
		} else if found {
			fatal(fmt.Errorf("entry already exists: %s (use -force to overwrite)", *ref))
		}
	}

	if err := ss.SetString(*ref, hexKey); err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stderr, "已写入 %s（地址 %s），配置里设 api.key_ref: %q\n", *ref, addr, *ref)
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func readLine() string {
	br := bufio.NewReader(os.Stdin)
	s, _ := br.ReadString('\n')
	return strings.TrimSpace(s)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}
