package analyzer

import (
	"path/filepath"
	"strings"
)

// access is what a command line does to paths
type access struct {
	reads   []string
	writes  []string
	creates []string
}

// inferShell extracts file accesses from a command. A single-element
// command is a shell line and is lexed; a longer one is an argv.
func inferShell(cmd []string) access {
	if len(cmd) == 1 {
		var acc access
		for _, simple := range splitCommands(lex(cmd[0])) {
			inferSimple(simple, &acc)
		}
		return acc
	}
	var acc access
	inferSimple(cmd, &acc)
	return acc
}

var separators = map[string]bool{"&&": true, "||": true, ";": true, "|": true, "&": true}

func splitCommands(tokens []string) [][]string {
	var out [][]string
	var cur []string
	for _, tok := range tokens {
		if separators[tok] {
			if len(cur) > 0 {
				out = append(out, cur)
			}
			cur = nil
			continue
		}
		cur = append(cur, tok)
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

// inferSimple handles one simple command: redirections, then the
// touch/mkdir/cat family
func inferSimple(tokens []string, acc *access) {
	var words []string
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		op, rest := redirection(tok)
		if op == "" {
			words = append(words, tok)
			continue
		}
		if op == "&" {
			continue
		}
		target := rest
		if target == "" && i+1 < len(tokens) {
			i++
			target = tokens[i]
		}
		if !concrete(target) || device(target) {
			continue
		}
		if op == "<" {
			acc.reads = append(acc.reads, target)
		} else {
			acc.writes = append(acc.writes, target)
		}
	}

	// skip leading VAR=value assignments
	for len(words) > 0 && isAssignment(words[0]) {
		words = words[1:]
	}
	if len(words) == 0 {
		return
	}

	name := filepath.Base(words[0])
	for _, arg := range words[1:] {
		if strings.HasPrefix(arg, "-") || !concrete(arg) || device(arg) {
			continue
		}
		switch name {
		case "touch":
			acc.writes = append(acc.writes, arg)
		case "mkdir":
			acc.creates = append(acc.creates, arg)
		case "cat":
			acc.reads = append(acc.reads, arg)
		}
	}
}

// redirection recognises >, >>, <, 2>, &> and their glued forms (>out)
func redirection(tok string) (op, rest string) {
	t := tok
	if strings.HasPrefix(t, "&>") {
		t = t[1:]
	} else if len(t) > 1 && t[0] >= '0' && t[0] <= '9' && (t[1] == '>' || t[1] == '<') {
		t = t[1:]
	}
	switch {
	case strings.HasPrefix(t, ">>"):
		return ">>", t[2:]
	case strings.HasPrefix(t, ">&"):
		// fd duplication, not a file
		return "&", ""
	case strings.HasPrefix(t, ">"):
		return ">", t[1:]
	case strings.HasPrefix(t, "<"):
		return "<", t[1:]
	}
	return "", ""
}

func isAssignment(word string) bool {
	eq := strings.IndexByte(word, '=')
	if eq <= 0 {
		return false
	}
	for _, r := range word[:eq] {
		if !(r == '_' || r >= 'A' && r <= 'Z' || r >= 'a' && r <= 'z' || r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// concrete rejects words whose path is only known at run time
func concrete(word string) bool {
	return word != "" && !strings.ContainsAny(word, "$*?[`~")
}

// device matches /dev/null, /dev/stdout, /dev/fd/N and the like, which
// are shared by every process and never order steps
func device(word string) bool {
	return strings.HasPrefix(filepath.Clean(word), "/dev/")
}

// lex splits a shell line into words and operators, honouring quotes
func lex(line string) []string {
	var tokens []string
	var cur strings.Builder
	inWord := false
	flush := func() {
		if inWord {
			tokens = append(tokens, cur.String())
			cur.Reset()
			inWord = false
		}
	}

	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case c == '\'' || c == '"':
			inWord = true
			j := strings.IndexByte(line[i+1:], c)
			if j < 0 {
				cur.WriteString(line[i+1:])
				i = len(line)
				break
			}
			cur.WriteString(line[i+1 : i+1+j])
			i += j + 1
		case c == '\\' && i+1 < len(line):
			inWord = true
			i++
			cur.WriteByte(line[i])
		case c == ' ' || c == '\t' || c == '\n':
			flush()
		case c == ';' || c == '|' || c == '&':
			// &> and >& are redirections, handled with the word
			if c == '&' && i+1 < len(line) && line[i+1] == '>' {
				flush()
				inWord = true
				cur.WriteByte(c)
				continue
			}
			if c == '&' && inWord && strings.HasSuffix(cur.String(), ">") {
				cur.WriteByte(c)
				continue
			}
			flush()
			if i+1 < len(line) && line[i+1] == c && c != ';' {
				tokens = append(tokens, string([]byte{c, c}))
				i++
			} else {
				tokens = append(tokens, string(c))
			}
		case c == '>' || c == '<':
			// a redirection starts a new word unless it follows a bare fd number
			if inWord && !isFD(cur.String()) {
				flush()
			}
			inWord = true
			cur.WriteByte(c)
			if c == '>' && i+1 < len(line) && line[i+1] == '>' {
				cur.WriteByte('>')
				i++
			}
			// the operator stands alone so the target is the next word
			if i+1 < len(line) && (line[i+1] == ' ' || line[i+1] == '\t') {
				flush()
			}
		default:
			inWord = true
			cur.WriteByte(c)
		}
	}
	flush()
	return tokens
}

func isFD(s string) bool {
	if s == "&" {
		return true
	}
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
