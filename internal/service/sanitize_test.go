package service

import (
	"math/rand"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRNG() *rand.Rand {
	return rand.New(rand.NewSource(1))
}

func TestSanitizeTrims(t *testing.T) {
	assert.Equal(t, "hello", sanitizeContent("  hello  ", false, testRNG()))
}

func TestSanitizeRewritesShareToken(t *testing.T) {
	content := "check this https://youtu.be/abc?si=OldToken12345678 out"
	out := sanitizeContent(content, false, testRNG())

	assert.NotContains(t, out, "OldToken12345678")

	m := regexp.MustCompile(`\?si=([A-Za-z0-9_-]+)`).FindStringSubmatch(out)
	require.Len(t, m, 2)
	assert.Len(t, m[1], 16)
}

func TestSanitizeRewritesEveryToken(t *testing.T) {
	content := "a https://youtu.be/x?si=AAAAAAAAAAAAAAAA b https://youtu.be/y?t=5&si=BBBBBBBBBBBBBBBB"
	out := sanitizeContent(content, false, testRNG())

	assert.NotContains(t, out, "AAAAAAAAAAAAAAAA")
	assert.NotContains(t, out, "BBBBBBBBBBBBBBBB")
	// URL structure survives the rewrite.
	assert.Contains(t, out, "https://youtu.be/x?si=")
	assert.Contains(t, out, "&si=")
}

func TestSanitizeAppendsThreeEmojis(t *testing.T) {
	out := sanitizeContent("great video", true, testRNG())

	require.True(t, strings.HasPrefix(out, "great video "))
	suffix := strings.TrimPrefix(out, "great video ")

	count := 0
	for _, emoji := range commentEmojis {
		count += strings.Count(suffix, emoji)
	}
	assert.Equal(t, 3, count)
}

func TestSanitizeNoEmojisWhenDisabled(t *testing.T) {
	out := sanitizeContent("great video", false, testRNG())
	assert.Equal(t, "great video", out)
}

func TestScheduleLockTTL(t *testing.T) {
	// 0.9 of the interval, clamped to [10s, 1h].
	assert.Equal(t, "1m48s", scheduleLockTTL(2*60*1000).String())
	assert.Equal(t, "10s", scheduleLockTTL(1000).String())
	assert.Equal(t, "1h0m0s", scheduleLockTTL(24*60*60*1000).String())
}
