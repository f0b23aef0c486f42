package idgen

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMessageIDFormat(t *testing.T) {
	id, err := MessageID("contract", time.Now())
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^CONTRACT-[0-9a-z]+-[A-Z0-9]{3}$`), id)
}

func TestMessageIDUnique(t *testing.T) {
	now := time.Now()
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		id, err := MessageID("q", now)
		require.NoError(t, err)
		seen[id] = true
	}
	require.Greater(t, len(seen), 1, "random suffix should produce distinct ids")
}

func TestThreadID(t *testing.T) {
	require.Equal(t, "CONTRACT-abc-XYZ-thread", ThreadID("CONTRACT-abc-XYZ"))
}

func TestEncodeBase36KnownValues(t *testing.T) {
	require.Equal(t, "000", EncodeBase36([]byte{0}, 3))
	require.Equal(t, "1", EncodeBase36Int(1))
	require.Equal(t, "0", EncodeBase36Int(0))
	require.Equal(t, "10", EncodeBase36Int(36))
}
