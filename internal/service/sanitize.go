package service

import (
	"math/rand"
	"regexp"
	"strings"
)

// commentEmojis is the fixed set three random emojis are drawn from when a
// schedule asks for them.
var commentEmojis = []string{"🔥", "👍", "😍", "🎉", "💯", "👏", "😂", "❤️", "🙌", "✨"}

// siParamPattern matches the tracking token in shared short-form URLs.
var siParamPattern = regexp.MustCompile(`([?&]si=)[A-Za-z0-9_-]+`)

const siTokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789_-"

// sanitizeContent prepares text for posting: trims, rewrites any ?si=
// share token to a fresh random one so repeated posts never carry the same
// literal URL, and optionally appends three random emojis.
func sanitizeContent(content string, includeEmojis bool, rng *rand.Rand) string {
	text := strings.TrimSpace(content)

	text = siParamPattern.ReplaceAllStringFunc(text, func(match string) string {
		prefix := siParamPattern.FindStringSubmatch(match)[1]
		return prefix + randomSIToken(rng)
	})

	if includeEmojis {
		picks := make([]string, 3)
		for i := range picks {
			picks[i] = commentEmojis[rng.Intn(len(commentEmojis))]
		}
		text = text + " " + strings.Join(picks, "")
	}

	return text
}

func randomSIToken(rng *rand.Rand) string {
	var b strings.Builder
	for i := 0; i < 16; i++ {
		b.WriteByte(siTokenAlphabet[rng.Intn(len(siTokenAlphabet))])
	}
	return b.String()
}
