// Package afdconfig handles the Job Descriptor's (spec §3.4) typed
// Options and their merge with host/directory-level defaults.
//
// Obscure/Reveal follow the teacher's fs/config/obscure convention
// exactly: this is reversible obfuscation to keep a password out of
// plain sight in a config dump, not a security boundary (config files
// here are equally trusted, or untrusted, either way).
package afdconfig

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"strings"
)

// cryptKey is the same fixed, publicly-known key the teacher uses: it
// buys "not grep-able in a config file", nothing more.
var cryptKey = []byte{
	0x9c, 0x93, 0x5b, 0x48, 0x73, 0x0a, 0x55, 0x4d,
	0x6b, 0xfd, 0x7c, 0x63, 0xc8, 0x86, 0xa9, 0x2b,
	0xd3, 0x90, 0x19, 0x8e, 0xb8, 0x12, 0x8a, 0xfb,
	0xf4, 0xde, 0x16, 0x2b, 0x8b, 0x95, 0xf6, 0x38,
}

var cryptRand io.Reader = rand.Reader

// Obscure obfuscates a plaintext password for storage in a job
// descriptor config file.
func Obscure(x string) (string, error) {
	block, err := aes.NewCipher(cryptKey)
	if err != nil {
		return "", errors.New("afdconfig: failed to create cipher: " + err.Error())
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(cryptRand, iv); err != nil {
		return "", errors.New("afdconfig: failed to read iv: " + err.Error())
	}
	buf := []byte(x)
	stream := cipher.NewCTR(block, iv)
	stream.XORKeyStream(buf, buf)
	result := append(iv, buf...)
	return base64.RawURLEncoding.EncodeToString(result), nil
}

// MustObscure is like Obscure but panics on error (used for built-in
// defaults where the error path is unreachable).
func MustObscure(x string) string {
	out, err := Obscure(x)
	if err != nil {
		panic(err)
	}
	return out
}

// Reveal reverses Obscure.
func Reveal(x string) (string, error) {
	ciphertext, err := base64.RawURLEncoding.DecodeString(x)
	if err != nil {
		return "", errors.New("afdconfig: base64 decode failed when revealing password - see https://rclone.org/docs/#obscure : " + err.Error())
	}
	block, err := aes.NewCipher(cryptKey)
	if err != nil {
		return "", errors.New("afdconfig: failed to create cipher: " + err.Error())
	}
	if len(ciphertext) < aes.BlockSize {
		return "", errors.New("afdconfig: input too short when revealing password - is it obscured?")
	}
	buf := ciphertext[aes.BlockSize:]
	iv := ciphertext[:aes.BlockSize]
	stream := cipher.NewCTR(block, iv)
	stream.XORKeyStream(buf, buf)
	return string(buf), nil
}

// MustReveal is like Reveal but panics on error.
func MustReveal(x string) string {
	out, err := Reveal(x)
	if err != nil {
		panic(err)
	}
	return out
}

// IsObscured heuristically reports whether x looks like an
// already-obscured value (used to avoid double-obscuring on config
// reload).
func IsObscured(x string) bool {
	if x == "" {
		return false
	}
	_, err := Reveal(x)
	return err == nil && !strings.ContainsAny(x, " \t")
}
