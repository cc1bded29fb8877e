package approval

import (
	"strings"
	"unicode"
)

// dangerousHeads lists command heads that never receive pattern
// suggestions and always prompt explicitly, regardless of allow-list
// entries. Matching is on the base name of the first token.
var dangerousHeads = map[string]struct{}{
	"rm":       {},
	"rmdir":    {},
	"sudo":     {},
	"su":       {},
	"dd":       {},
	"kill":     {},
	"killall":  {},
	"pkill":    {},
	"mkfs":     {},
	"fdisk":    {},
	"shutdown": {},
	"reboot":   {},
	"halt":     {},
	"poweroff": {},
	"chmod":    {},
	"chown":    {},
	"mount":    {},
	"umount":   {},
	"passwd":   {},
	"truncate": {},
	"shred":    {},
}

// unsafeMetachars are shell constructs that defeat pattern analysis: a
// command containing them gets no pattern suggestion because the covered
// prefix says nothing about what actually runs.
var unsafeMetachars = []string{";", "&&", "||", "|", "`", "$(", ">", "<", "&"}

// SplitCommand tokenizes a shell command, honoring single and double
// quotes. Runs of whitespace collapse; quotes group but are stripped.
func SplitCommand(cmd string) []string {
	var tokens []string
	var current strings.Builder
	var quote rune

	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	for _, r := range cmd {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
		case unicode.IsSpace(r):
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return tokens
}

// CommandHead returns the base name of a command's first token, with any
// directory prefix stripped so "/usr/bin/sudo" classifies as "sudo".
func CommandHead(cmd string) string {
	tokens := SplitCommand(cmd)
	if len(tokens) == 0 {
		return ""
	}
	head := tokens[0]
	if idx := strings.LastIndex(head, "/"); idx >= 0 {
		head = head[idx+1:]
	}
	return head
}

// IsDangerousCommand reports whether the command's head is in the
// always-prompt set.
func IsDangerousCommand(cmd string) bool {
	head := CommandHead(cmd)
	if head == "" {
		return false
	}
	_, ok := dangerousHeads[head]
	return ok
}

// IsDangerousPattern reports whether an allow-list pattern's head is in
// the always-prompt set. Stored entries for dangerous heads never cover
// anything.
func IsDangerousPattern(pattern string) bool {
	return IsDangerousCommand(pattern)
}

func containsUnsafeMetachar(cmd string) bool {
	for _, m := range unsafeMetachars {
		if strings.Contains(cmd, m) {
			return true
		}
	}
	return false
}

// SuggestPattern derives an allow-list pattern key from a shell command,
// e.g. "git push origin main" yields "git push *". It returns ok=false
// for dangerous heads, commands with shell metacharacters, and empty
// input; such calls must always prompt explicitly and offer no
// "always allow" shortcut.
func SuggestPattern(cmd string) (string, bool) {
	tokens := SplitCommand(cmd)
	if len(tokens) == 0 {
		return "", false
	}
	if IsDangerousCommand(cmd) || containsUnsafeMetachar(cmd) {
		return "", false
	}

	head := tokens[0]
	if idx := strings.LastIndex(head, "/"); idx >= 0 {
		head = head[idx+1:]
	}

	// Include one subcommand token when present: "git push origin" is
	// keyed "git push *", a bare "ls" is keyed "ls *".
	if len(tokens) >= 2 && isSubcommandToken(tokens[1]) {
		return head + " " + tokens[1] + " *", true
	}
	return head + " *", true
}

// isSubcommandToken reports whether a token looks like a subcommand
// rather than a flag, path, or variable argument.
func isSubcommandToken(token string) bool {
	if token == "" || strings.HasPrefix(token, "-") {
		return false
	}
	for _, r := range token {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
			return false
		}
	}
	return true
}
