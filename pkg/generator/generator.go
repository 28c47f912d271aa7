package generator

import (
	"crypto/rand"
	"errors"
)

const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// maxByte is the largest multiple of len(alphabet) below 256. Bytes at or
// above it are rejected so every symbol is equally likely.
const maxByte = 256 - 256%len(alphabet)

var ErrLength = errors.New("id length must be positive")

// GenerateRandomID returns length symbols drawn uniformly from alphabet.
func GenerateRandomID(length int) (string, error) {
	if length <= 0 {
		return "", ErrLength
	}

	result := make([]byte, 0, length)
	buf := make([]byte, length+length/4)
	for len(result) < length {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if int(b) >= maxByte {
				continue
			}
			result = append(result, alphabet[int(b)%len(alphabet)])
			if len(result) == length {
				break
			}
		}
	}
	return string(result), nil
}
