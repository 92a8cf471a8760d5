package game

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
)

// GenerateSeed creates a cryptographically secure random seed.
func GenerateSeed() string {
	b := make([]byte, 32)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// Commitment is the SHA-256 hash of a seed, published before the round runs.
func Commitment(seed string) string {
	h := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(h[:])
}

// UniformDraw derives the round's uniform r in [0,1) from
// HMAC-SHA256(serverSeed, clientSeed:nonce). Deterministic, so anyone holding
// the revealed server seed can recompute the crash point.
func UniformDraw(serverSeed, clientSeed string, nonce int) float64 {
	mac := hmac.New(sha256.New, []byte(serverSeed))
	fmt.Fprintf(mac, "%s:%d", clientSeed, nonce)
	sum := mac.Sum(nil)
	return float64(binary.BigEndian.Uint64(sum[:8])) / maxUint64Float
}

// VerifyRound recomputes the crash point for the given seeds and checks it
// against the claimed value, tolerating float rounding.
func VerifyRound(gen *Generator, serverSeed, clientSeed string, nonce int, claimedCrash float64) bool {
	if gen == nil {
		gen = NewGenerator(nil, nil)
	}
	got := gen.FromUniform(UniformDraw(serverSeed, clientSeed, nonce))
	return math.Abs(got-claimedCrash) < 0.01
}
