package approval

import "strings"

// Covers implements the allow-list covering rule: stored pattern A
// covers requested pattern B iff A equals B, or A's base tokens are a
// proper prefix of B's tokens. Comparison is per token, so "git *"
// covers "git push *" and "git status *" but "npm *" never covers
// "npx *" — there is no cross-command prefix collision. Covering is
// asymmetric: "git push *" does not cover "git *".
func Covers(stored, requested string) bool {
	stored = strings.TrimSpace(stored)
	requested = strings.TrimSpace(requested)
	if stored == "" || requested == "" {
		return false
	}
	if stored == requested {
		return true
	}

	storedBase := baseTokens(stored)
	requestedBase := baseTokens(requested)
	if len(storedBase) == 0 {
		return false
	}

	// A bare pattern (no trailing wildcard) only covers exact matches,
	// which the equality check above already handled.
	if !hasWildcard(stored) {
		return false
	}

	if len(storedBase) > len(requestedBase) {
		return false
	}
	for i, token := range storedBase {
		if requestedBase[i] != token {
			return false
		}
	}
	return true
}

// CoversCommand reports whether a stored pattern covers a concrete
// command line, by deriving the command's token list directly.
func CoversCommand(stored, command string) bool {
	command = strings.TrimSpace(command)
	if command == "" {
		return false
	}
	if !hasWildcard(stored) {
		return strings.Join(SplitCommand(stored), " ") == strings.Join(SplitCommand(command), " ")
	}

	storedBase := baseTokens(stored)
	commandTokens := SplitCommand(command)
	if len(storedBase) == 0 || len(storedBase) > len(commandTokens) {
		return false
	}
	for i, token := range storedBase {
		if commandTokens[i] != token {
			return false
		}
	}
	return true
}

// baseTokens returns a pattern's tokens with a trailing "*" stripped.
func baseTokens(pattern string) []string {
	tokens := SplitCommand(pattern)
	if len(tokens) > 0 && tokens[len(tokens)-1] == "*" {
		tokens = tokens[:len(tokens)-1]
	}
	return tokens
}

func hasWildcard(pattern string) bool {
	tokens := SplitCommand(pattern)
	return len(tokens) > 0 && tokens[len(tokens)-1] == "*"
}
