package record

import (
	"crypto/rand"
	"math/big"
)

const (
	idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	idLength   = 7
)

// NewID returns a short random base36 token suitable for session,
// participant and ping identifiers.
func NewID() string {
	b := make([]byte, idLength)
	max := big.NewInt(int64(len(idAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("record: crypto/rand unavailable: " + err.Error())
		}
		b[i] = idAlphabet[n.Int64()]
	}
	return string(b)
}
