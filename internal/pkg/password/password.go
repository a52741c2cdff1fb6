package password

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/pbkdf2"
)

const (
	Iterations = 100000
	SaltSize   = 16
	KeySize    = 32
)

var ErrMalformedHash = errors.New("malformed password hash")

// Hash 返回 hex(salt) + hex(pbkdf2-sha256)
func Hash(plain string) (string, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	return encode(salt, plain), nil
}

func encode(salt []byte, plain string) string {
	key := pbkdf2.Key([]byte(plain), salt, Iterations, KeySize, sha256.New)
	return hex.EncodeToString(salt) + hex.EncodeToString(key)
}

// Verify 用存储的盐重新计算并做常量时间比较
func Verify(stored, plain string) bool {
	salt, want, err := decode(stored)
	if err != nil {
		return false
	}
	got := pbkdf2.Key([]byte(plain), salt, Iterations, KeySize, sha256.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}

func decode(stored string) (salt, key []byte, err error) {
	if len(stored) != 2*(SaltSize+KeySize) {
		return nil, nil, ErrMalformedHash
	}
	raw, err := hex.DecodeString(stored)
	if err != nil {
		return nil, nil, ErrMalformedHash
	}
	return raw[:SaltSize], raw[SaltSize:], nil
}
