package engine

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
)

// ByteGenerator streams HMAC-SHA256 bytes for a (server, client, nonce)
// triple. Rounds are 32 bytes each; the round counter is part of the message
// so the stream is unbounded and reproducible from any cursor.
type ByteGenerator struct {
	serverSeed   string
	clientSeed   string
	nonce        uint64
	currentRound uint64
	currentPos   int
	buffer       [32]byte
}

// NewByteGenerator creates a generator positioned at cursor.
func NewByteGenerator(serverSeed, clientSeed string, nonce uint64, cursor uint64) *ByteGenerator {
	bg := &ByteGenerator{
		serverSeed:   serverSeed,
		clientSeed:   clientSeed,
		nonce:        nonce,
		currentRound: cursor / 32,
		currentPos:   int(cursor % 32),
	}
	bg.generateRound()
	return bg
}

// Next returns the next byte from the stream.
func (bg *ByteGenerator) Next() byte {
	if bg.currentPos >= 32 {
		bg.currentRound++
		bg.currentPos = 0
		bg.generateRound()
	}

	b := bg.buffer[bg.currentPos]
	bg.currentPos++
	return b
}

func (bg *ByteGenerator) generateRound() {
	h := hmac.New(sha256.New, []byte(bg.serverSeed))
	message := fmt.Sprintf("%s:%d:%d", bg.clientSeed, bg.nonce, bg.currentRound)
	h.Write([]byte(message))
	copy(bg.buffer[:], h.Sum(nil))
}

// digitCeiling is the largest multiple of 9 that fits in a byte; bytes at
// or above it are skipped so every digit 1-9 is equally likely.
const digitCeiling = 252

// NextDigit returns a uniformly distributed digit in 1..9.
func (bg *ByteGenerator) NextDigit() byte {
	for {
		b := bg.Next()
		if b < digitCeiling {
			return '1' + b%9
		}
	}
}

// SeedValue produces a seven digit seed whose every digit is 1-9, so the
// value always derives to a valid outcome for a nine symbol strip.
func SeedValue(serverSeed, clientSeed string, nonce uint64) string {
	bg := NewByteGenerator(serverSeed, clientSeed, nonce, 0)
	var digits [seedWidth]byte
	for i := range digits {
		digits[i] = bg.NextDigit()
	}
	return string(digits[:])
}
