// Package crypto provides wallet key management, EIP-712 order signing,
// and HMAC request authentication for the Polymarket CLOB API.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// kdfIterations is the OWASP-recommended minimum for PBKDF2-HMAC-SHA256.
	kdfIterations = 480_000
	kdfSaltLen    = 16
	kdfKeyLen     = 32 // AES-256

	keyFileVersion = 1
	keyFileKDF     = "pbkdf2-sha256"
	keyFileCipher  = "aes-256-gcm"
)

// keyFile is the on-disk format for an encrypted wallet key. Salt, nonce and
// ciphertext are base64 standard encoded. The kdf and cipher fields name the
// primitives so a reader can reject files it does not understand.
type keyFile struct {
	Version    int    `json:"version"`
	KDF        string `json:"kdf"`
	Cipher     string `json:"cipher"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeyConfig names the possible sources of the wallet private key, filled in
// from the wallet section of the config file.
type KeyConfig struct {
	// RawPrivateKey holds the key as hex, 0x prefix optional. When set it
	// wins over the encrypted file.
	RawPrivateKey string

	// EncryptedKeyPath points at a JSON file written by EncryptKey, opened
	// with KeyPassword.
	EncryptedKeyPath string
	KeyPassword      string
}

// LoadKey resolves the private key from cfg, returning it as bare hex. With
// no source configured the call fails rather than starting without trading
// capability.
func LoadKey(cfg KeyConfig) (string, error) {
	switch {
	case cfg.RawPrivateKey != "":
		return normalizeKeyHex(cfg.RawPrivateKey)
	case cfg.EncryptedKeyPath != "":
		data, err := os.ReadFile(cfg.EncryptedKeyPath)
		if err != nil {
			return "", fmt.Errorf("crypto: read key file %s: %w", cfg.EncryptedKeyPath, err)
		}
		return DecryptKey(data, cfg.KeyPassword)
	}
	return "", errors.New("crypto: no key source set, need raw_private_key or encrypted_key_path")
}

// EncryptKey seals a hex private key under a password, deriving the AES key
// with PBKDF2-HMAC-SHA256 and sealing with AES-256-GCM. The returned JSON is
// what EncryptedKeyPath should point at.
func EncryptKey(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: empty password")
	}

	keyHex, err := normalizeKeyHex(privateKeyHex)
	if err != nil {
		return nil, err
	}
	keyBytes, _ := hex.DecodeString(keyHex)
	if len(keyBytes) != 32 {
		return nil, fmt.Errorf("crypto: key is %d bytes, want 32", len(keyBytes))
	}

	salt := make([]byte, kdfSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: salt: %w", err)
	}

	gcm, err := gcmFor(password, salt)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: nonce: %w", err)
	}

	out := keyFile{
		Version:    keyFileVersion,
		KDF:        keyFileKDF,
		Cipher:     keyFileCipher,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, keyBytes, nil)),
	}
	return json.MarshalIndent(out, "", "  ")
}

// DecryptKey opens a blob written by EncryptKey and returns the key as bare
// hex.
func DecryptKey(encrypted []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: empty password")
	}

	var kf keyFile
	if err := json.Unmarshal(encrypted, &kf); err != nil {
		return "", fmt.Errorf("crypto: malformed key file: %w", err)
	}
	if kf.Version != keyFileVersion {
		return "", fmt.Errorf("crypto: unsupported key file version %d", kf.Version)
	}
	if kf.KDF != "" && kf.KDF != keyFileKDF {
		return "", fmt.Errorf("crypto: unsupported kdf %q", kf.KDF)
	}
	if kf.Cipher != "" && kf.Cipher != keyFileCipher {
		return "", fmt.Errorf("crypto: unsupported cipher %q", kf.Cipher)
	}

	salt, err := b64Field("salt", kf.Salt)
	if err != nil {
		return "", err
	}
	nonce, err := b64Field("nonce", kf.Nonce)
	if err != nil {
		return "", err
	}
	sealed, err := b64Field("ciphertext", kf.Ciphertext)
	if err != nil {
		return "", err
	}

	gcm, err := gcmFor(password, salt)
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: cannot decrypt key, check password: %w", err)
	}

	return hex.EncodeToString(plaintext), nil
}

// gcmFor derives the AES key from the password and salt and returns a ready
// AEAD.
func gcmFor(password string, salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(password), salt, kdfIterations, kdfKeyLen, sha256.New)
	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("crypto: aes: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: gcm: %w", err)
	}
	return gcm, nil
}

// normalizeKeyHex strips an optional 0x prefix and validates the hex encoding.
func normalizeKeyHex(s string) (string, error) {
	k := strings.TrimPrefix(s, "0x")
	if _, err := hex.DecodeString(k); err != nil {
		return "", fmt.Errorf("crypto: private key is not valid hex: %w", err)
	}
	return k, nil
}

// b64Field decodes a base64 standard encoded key file field.
func b64Field(field, v string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("crypto: decoding %s: %w", field, err)
	}
	return b, nil
}
