package agent

import (
	"math"
	"strings"
	"unicode"
)

// TokenEstimator approximates the token count of a text. Implementations
// may fail (for example, a remote tokeniser); callers fall back to a
// character-ratio estimate and report the degradation as an event.
type TokenEstimator func(text string) (int, error)

// HeuristicTokens is the default estimator: each word contributes
// roughly one token per four characters, and CJK-style scripts count
// closer to one token per rune. It never fails.
func HeuristicTokens(text string) (int, error) {
	total := 0
	for _, word := range strings.Fields(text) {
		wide := 0
		narrow := 0
		for _, r := range word {
			if unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r) {
				wide++
			} else {
				narrow++
			}
		}
		total += wide
		if narrow > 0 {
			total += (narrow + 3) / 4
		}
	}
	return total, nil
}

// fallbackTokens is the coarse estimate used when the configured
// estimator fails: roughly 2.5 characters per token.
func fallbackTokens(text string) int {
	return int(math.Ceil(float64(len(text)) / 2.5))
}
