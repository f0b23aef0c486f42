package idgen

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"
)

// randomAlphabet is the upper-alphanumeric set used for the message id's
// disambiguating suffix.
const randomAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// MessageID builds an id of the form <TYPE>-<base36 epoch ms>-<3 random
// upper-alphanumeric>, e.g. "CONTRACT-lj2f9k3-7QZ" (§3).
func MessageID(msgType string, at time.Time) (string, error) {
	ts := EncodeBase36Int(at.UnixMilli())
	suffix, err := randomSuffix(3)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s-%s-%s", strings.ToUpper(msgType), ts, suffix), nil
}

func randomSuffix(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("idgen: read random suffix: %w", err)
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = randomAlphabet[int(b)%len(randomAlphabet)]
	}
	return string(out), nil
}

// ThreadID derives a thread id from the id of its originating message (§3 I7).
func ThreadID(messageID string) string {
	return messageID + "-thread"
}
