// Package crypto manages the operator signing key used by the on-chain
// asset backend. Keys are stored encrypted at rest with a password-derived
// AES-256-GCM cipher.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// pbkdf2Iterations is the OWASP-recommended minimum for HMAC-SHA256.
	pbkdf2Iterations = 480_000
	saltLen          = 16
	aesKeyLen        = 32
	// keyfileVersion is the encrypted keyfile JSON schema version.
	keyfileVersion = 1
)

// keyfile is the on-disk format for an encrypted operator key. All binary
// fields are base64 standard encoding.
type keyfile struct {
	Version    int    `json:"version"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeySource carries the information LoadOperatorKey needs to resolve the
// operator's private key. Populate from config.
type KeySource struct {
	// RawHex is the hex-encoded private key, with or without 0x prefix.
	// Takes precedence over the encrypted file when set.
	RawHex string

	// EncryptedPath points to a JSON keyfile produced by EncryptKeyfile.
	EncryptedPath string

	// Password decrypts the file at EncryptedPath.
	Password string
}

func deriveAESKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, aesKeyLen, sha256.New)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: creating GCM: %w", err)
	}
	return gcm, nil
}

// EncryptKeyfile encrypts a hex-encoded private key with a password using
// PBKDF2-HMAC-SHA256 derivation and AES-256-GCM, returning the keyfile JSON
// suitable for writing to disk.
func EncryptKeyfile(privateKeyHex, password string) ([]byte, error) {
	if password == "" {
		return nil, errors.New("crypto: password must not be empty")
	}

	keyBytes, err := hex.DecodeString(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key hex: %w", err)
	}
	if len(keyBytes) != 32 {
		return nil, fmt.Errorf("crypto: expected 32-byte key, got %d bytes", len(keyBytes))
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto: generating salt: %w", err)
	}

	gcm, err := newGCM(deriveAESKey(password, salt))
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto: generating nonce: %w", err)
	}

	out := keyfile{
		Version:    keyfileVersion,
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(gcm.Seal(nil, nonce, keyBytes, nil)),
	}
	return json.MarshalIndent(out, "", "  ")
}

// DecryptKeyfile decrypts a keyfile produced by EncryptKeyfile, returning
// the hex-encoded private key without 0x prefix.
func DecryptKeyfile(data []byte, password string) (string, error) {
	if password == "" {
		return "", errors.New("crypto: password must not be empty")
	}

	var stored keyfile
	if err := json.Unmarshal(data, &stored); err != nil {
		return "", fmt.Errorf("crypto: parsing keyfile JSON: %w", err)
	}
	if stored.Version != keyfileVersion {
		return "", fmt.Errorf("crypto: unsupported keyfile version %d", stored.Version)
	}

	salt, err := base64.StdEncoding.DecodeString(stored.Salt)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding salt: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(stored.Nonce)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(stored.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("crypto: decoding ciphertext: %w", err)
	}

	gcm, err := newGCM(deriveAESKey(password, salt))
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("crypto: decryption failed (wrong password?): %w", err)
	}
	return hex.EncodeToString(plaintext), nil
}

// LoadOperatorKey resolves the operator signing key and its address.
//
// Resolution order:
//  1. RawHex, when set.
//  2. EncryptedPath decrypted with Password.
func LoadOperatorKey(src KeySource) (*ecdsa.PrivateKey, common.Address, error) {
	var keyHex string

	switch {
	case src.RawHex != "":
		keyHex = strings.TrimPrefix(src.RawHex, "0x")
	case src.EncryptedPath != "":
		data, err := os.ReadFile(src.EncryptedPath)
		if err != nil {
			return nil, common.Address{}, fmt.Errorf("crypto: reading keyfile: %w", err)
		}
		keyHex, err = DecryptKeyfile(data, src.Password)
		if err != nil {
			return nil, common.Address{}, err
		}
	default:
		return nil, common.Address{}, errors.New("crypto: no operator key source configured")
	}

	key, err := ethcrypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("crypto: parsing operator key: %w", err)
	}
	return key, ethcrypto.PubkeyToAddress(key.PublicKey), nil
}
