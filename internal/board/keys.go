package board

import "crypto/rand"

const (
	boardKeyAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	boardKeyLength   = 7

	// Largest multiple of len(boardKeyAlphabet) below 256. Bytes at or above
	// this bound are discarded so every alphabet index is equally likely.
	boardKeyByteBound = 252
)

// KeyProvider issues fresh board key tokens. Purely generative: nothing is
// reserved, a board comes into being with its first note.
type KeyProvider interface {
	NewKey() (string, error)
}

type randomKeyProvider struct{}

// NewRandomKeyProvider constructs a KeyProvider issuing short base36 tokens.
func NewRandomKeyProvider() KeyProvider {
	return &randomKeyProvider{}
}

func (p *randomKeyProvider) NewKey() (string, error) {
	token := make([]byte, 0, boardKeyLength)
	buffer := make([]byte, boardKeyLength)
	for len(token) < boardKeyLength {
		if _, err := rand.Read(buffer); err != nil {
			return "", err
		}
		for _, value := range buffer {
			if len(token) == boardKeyLength {
				break
			}
			if int(value) >= boardKeyByteBound {
				continue
			}
			token = append(token, boardKeyAlphabet[int(value)%len(boardKeyAlphabet)])
		}
	}
	return string(token), nil
}
