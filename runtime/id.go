package runtime

import (
	"crypto/rand"
)

// taskIDAlphabet is the character set task ids draw from.
const taskIDAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// generateTaskID returns a fresh 10-character task identifier.
func generateTaskID() (string, error) {
	buf := make([]byte, 10)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	id := make([]byte, 10)
	for i, b := range buf {
		id[i] = taskIDAlphabet[int(b)%len(taskIDAlphabet)]
	}
	return string(id), nil
}
