package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"unicode/utf8"

	"golang.org/x/crypto/sha3"
)

// KeySize is the AES-256 key length in bytes.
const KeySize = 32

// GenerateKey returns a fresh random AES-256 key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}

// DeriveKey derives a per-iteration key from a seed. Deterministic, so
// seeded runs are reproducible.
func DeriveKey(seed []byte, iteration uint64) []byte {
	h := sha3.New256()
	h.Write(seed)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], iteration)
	h.Write(buf[:])
	return h.Sum(nil)
}

// Encrypt encrypts a short string under key with AES-256-CBC and a fresh
// random IV. The result is base64(iv || ciphertext).
func Encrypt(key []byte, plaintext string) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	padded := pad([]byte(plaintext))
	out := make([]byte, aes.BlockSize+len(padded))
	copy(out, iv)
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out[aes.BlockSize:], padded)

	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. It never fails loudly: any structural problem
// (malformed base64, bad length, bad padding, non-UTF8 output) yields
// ok=false. Decrypting under the wrong key is only expected to fail this
// way, not guaranteed; a wrong key can still produce an unrelated but
// well-formed string. The codec is not authenticated encryption.
func Decrypt(key []byte, encoded string) (string, bool) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", false
	}
	if len(raw) < 2*aes.BlockSize || len(raw)%aes.BlockSize != 0 {
		return "", false
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", false
	}

	iv, ct := raw[:aes.BlockSize], raw[aes.BlockSize:]
	pt := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(pt, ct)

	unpadded, ok := unpad(pt)
	if !ok {
		return "", false
	}
	if !utf8.Valid(unpadded) {
		return "", false
	}
	return string(unpadded), true
}

// pad applies PKCS7 padding to a full AES block.
func pad(data []byte) []byte {
	n := aes.BlockSize - len(data)%aes.BlockSize
	out := make([]byte, len(data)+n)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(n)
	}
	return out
}

func unpad(data []byte) ([]byte, bool) {
	if len(data) == 0 {
		return nil, false
	}
	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, false
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, false
		}
	}
	return data[:len(data)-n], true
}
