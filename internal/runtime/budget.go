package runtime

import "regexp"

// tokenPattern approximates a BPE tokenizer: runs of letters, digits and underscores
// count as one token, every other non-space rune as one token.
var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]+|[^\p{L}\p{N}_\s]`)

// truncateTokens keeps the most recent max tokens of text.
func truncateTokens(text string, max int) string {
	if max <= 0 {
		return text
	}
	locs := tokenPattern.FindAllStringIndex(text, -1)
	if len(locs) <= max {
		return text
	}
	return text[locs[len(locs)-max][0]:]
}
