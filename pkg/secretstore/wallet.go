package secretstore

import (
	"fmt"
	"strings"

	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"
)

// DefaultDerivationPath is the standard Ethereum account #0 path.
const DefaultDerivationPath = "m/44'/60'/0'/0/0"

type DerivedWallet struct {
	PrivateKeyHex string // no 0x prefix
	Address       string // lowercase 0x address
}

// DeriveWallet derives a signing key from a BIP-39 mnemonic.
// An empty derivationPath means DefaultDerivationPath.
func DeriveWallet(mnemonic string, derivationPath string) (*DerivedWallet, error) {
	mnemonic = strings.TrimSpace(mnemonic)
	derivationPath = strings.TrimSpace(derivationPath)
	if mnemonic == "" {
		return nil, fmt.Errorf("mnemonic is required")
	}
	if derivationPath == "" {
		derivationPath = DefaultDerivationPath
	}

	w, err := hdwallet.NewFromMnemonic(mnemonic)
	if err != nil {
		return nil, fmt.Errorf("invalid mnemonic: %w", err)
	}

	path, err := hdwallet.ParseDerivationPath(derivationPath)
	if err != nil {
		return nil, fmt.Errorf("invalid derivation path: %w", err)
	}

	acct, err := w.Derive(path, false)
	if err != nil {
		return nil, fmt.Errorf("derive failed: %w", err)
	}

	pk, err := w.PrivateKeyHex(acct)
	if err != nil {
		return nil, fmt.Errorf("private key failed: %w", err)
	}

	return &DerivedWallet{
		PrivateKeyHex: pk,
		Address:       strings.ToLower(acct.Address.Hex()),
	}, nil
}
