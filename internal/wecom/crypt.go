// Package wecom implements the WeCom callback envelope: the SHA-1 signature
// scheme and the AES-256-CBC message encryption shared by smart-bot and
// enterprise-app callbacks.
package wecom

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
)

// padBlockSize is the PKCS#7 block size mandated by the WeCom protocol.
// It is 32 even though the AES block size is 16.
const padBlockSize = 32

var (
	// ErrInvalidSignature is returned when a callback signature does not match.
	ErrInvalidSignature = errors.New("invalid signature")
	// ErrInvalidAESKey is returned when the EncodingAESKey does not decode to 32 bytes.
	ErrInvalidAESKey = errors.New("invalid aes key length")
	// ErrReceiveIDMismatch is returned when the decrypted receive id differs
	// from the configured one.
	ErrReceiveIDMismatch = errors.New("receive id mismatch")
)

// Crypt holds the callback token, AES key, and expected receive id for one
// channel configuration. The receive id is the corp id for enterprise apps
// and empty for smart bots.
type Crypt struct {
	token     string
	aesKey    []byte
	receiveID string
}

// NewCrypt decodes the EncodingAESKey and builds a Crypt. The key must decode
// to exactly 32 bytes; anything else fails with ErrInvalidAESKey before any
// request is handled.
func NewCrypt(token, encodingAESKey, receiveID string) (*Crypt, error) {
	key, err := decodeAESKey(encodingAESKey)
	if err != nil {
		return nil, err
	}
	return &Crypt{
		token:     token,
		aesKey:    key,
		receiveID: receiveID,
	}, nil
}

// CalcSignature computes the WeCom callback signature: the four inputs sorted
// lexicographically, joined, SHA-1 hashed, hex encoded.
func CalcSignature(token, timestamp, nonce, data string) string {
	parts := []string{token, timestamp, nonce, data}
	sort.Strings(parts)
	sum := sha1.Sum([]byte(strings.Join(parts, "")))
	return hex.EncodeToString(sum[:])
}

// ValidateSignature reports whether msgSignature matches the expected value.
// Comparison is case-insensitive.
func (c *Crypt) ValidateSignature(msgSignature, timestamp, nonce, data string) bool {
	return strings.EqualFold(CalcSignature(c.token, timestamp, nonce, data), msgSignature)
}

// VerifyURL handles the GET echo verification performed when a callback URL
// is registered. It validates the signature and returns the decrypted echostr
// plaintext. Query parsing can turn '+' into spaces, so a failed check is
// retried against the unescaped value.
func (c *Crypt) VerifyURL(msgSignature, timestamp, nonce, echoStr string) (string, error) {
	if !c.ValidateSignature(msgSignature, timestamp, nonce, echoStr) {
		decoded, err := url.QueryUnescape(echoStr)
		if err != nil {
			return "", fmt.Errorf("decode echostr: %w", err)
		}
		if !c.ValidateSignature(msgSignature, timestamp, nonce, decoded) {
			return "", ErrInvalidSignature
		}
	}
	plain, err := c.Decrypt(echoStr)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// DecryptVerified validates the signature over the ciphertext and then
// decrypts it.
func (c *Crypt) DecryptVerified(msgSignature, timestamp, nonce, encrypted string) ([]byte, error) {
	if !c.ValidateSignature(msgSignature, timestamp, nonce, encrypted) {
		return nil, ErrInvalidSignature
	}
	return c.Decrypt(encrypted)
}

// Encrypt wraps plaintext into the WeCom cipher envelope:
// random(16) || len(4, big-endian) || plaintext || receiveID, padded to a
// 32-byte boundary, AES-256-CBC encrypted with IV = key[:16], base64 encoded.
func (c *Crypt) Encrypt(plain []byte) (string, error) {
	block, err := aes.NewCipher(c.aesKey)
	if err != nil {
		return "", err
	}

	random := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, random); err != nil {
		return "", err
	}

	buf := make([]byte, 0, 16+4+len(plain)+len(c.receiveID))
	buf = append(buf, random...)
	lenBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(lenBytes, uint32(len(plain)))
	buf = append(buf, lenBytes...)
	buf = append(buf, plain...)
	buf = append(buf, []byte(c.receiveID)...)
	buf = pkcs7Pad(buf, padBlockSize)

	iv := c.aesKey[:block.BlockSize()]
	mode := cipher.NewCBCEncrypter(block, iv)
	cipherData := make([]byte, len(buf))
	mode.CryptBlocks(cipherData, buf)

	return base64.StdEncoding.EncodeToString(cipherData), nil
}

// Decrypt reverses Encrypt. When both the decrypted receive id and the
// configured one are non-empty and differ, it fails with ErrReceiveIDMismatch.
func (c *Crypt) Decrypt(cipherText string) ([]byte, error) {
	cipherData, err := base64.StdEncoding.DecodeString(cipherText)
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}

	block, err := aes.NewCipher(c.aesKey)
	if err != nil {
		return nil, err
	}
	if len(cipherData) == 0 || len(cipherData)%block.BlockSize() != 0 {
		return nil, errors.New("invalid ciphertext length")
	}

	// Protocol: IV is the first 16 bytes of the AES key.
	iv := c.aesKey[:block.BlockSize()]
	mode := cipher.NewCBCDecrypter(block, iv)
	plain := make([]byte, len(cipherData))
	mode.CryptBlocks(plain, cipherData)

	plain = pkcs7Unpad(plain, padBlockSize)
	if len(plain) < 20 {
		return nil, errors.New("plaintext too short")
	}

	content := plain[16:]
	msgLen := binary.BigEndian.Uint32(content[:4])
	if int(msgLen) > len(content[4:]) {
		return nil, errors.New("invalid message length")
	}
	msg := content[4 : 4+msgLen]

	receiveID := string(content[4+msgLen:])
	if c.receiveID != "" && receiveID != "" && receiveID != c.receiveID {
		return nil, fmt.Errorf("%w: got %q", ErrReceiveIDMismatch, receiveID)
	}

	return msg, nil
}

// decodeAESKey converts the 43-character base64 EncodingAESKey into the raw
// 32-byte AES key. The configured value omits base64 padding.
func decodeAESKey(encodingKey string) ([]byte, error) {
	if len(encodingKey) == 0 {
		return nil, ErrInvalidAESKey
	}
	padding := (4 - len(encodingKey)%4) % 4
	key, err := base64.StdEncoding.DecodeString(encodingKey + strings.Repeat("=", padding))
	if err != nil {
		return nil, fmt.Errorf("decode aes key: %w", err)
	}
	if len(key) != 32 {
		return nil, ErrInvalidAESKey
	}
	return key, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	pad := make([]byte, padLen)
	for i := range pad {
		pad[i] = byte(padLen)
	}
	return append(data, pad...)
}

// pkcs7Unpad strips PKCS#7 padding. A pad byte outside [1, blockSize] is
// treated as zero padding instead of an error, matching the reference
// protocol behavior for malformed peers.
func pkcs7Unpad(data []byte, blockSize int) []byte {
	if len(data) == 0 {
		return data
	}
	padLen := int(data[len(data)-1])
	if padLen < 1 || padLen > blockSize || padLen > len(data) {
		padLen = 0
	}
	return data[:len(data)-padLen]
}
