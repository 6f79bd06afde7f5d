package telegram

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"dmrelay/internal/relay"
)

var errUsage = errors.New("usage: /dm <user-id> [message...] [--count N]")

// parseDMArgs parses the /dm command payload into target, count and the
// message text. The count flag may appear anywhere; the remaining
// positional tokens after the target form the message.
func parseDMArgs(payload string) (target int64, count int, text string, err error) {
	pos, flags, bools := parseFlags(tokenizeCommandLine(payload), map[string]bool{"count": true})
	if len(pos) < 1 {
		return 0, 0, "", errUsage
	}

	target, err = strconv.ParseInt(pos[0], 10, 64)
	if err != nil || target <= 0 {
		return 0, 0, "", errUsage
	}

	count = 1
	if raw, ok := flags["count"]; ok {
		count, err = strconv.Atoi(raw)
		if err != nil {
			return 0, 0, "", fmt.Errorf("invalid count %q", raw)
		}
	} else if bools["count"] {
		return 0, 0, "", errors.New("--count needs a value")
	}

	// Bounds are enforced by relay.Request.Validate; only parse here.
	text = strings.Join(pos[1:], " ")
	if text == "" {
		text = relay.DefaultText
	}
	return target, count, text, nil
}

// tokenizeCommandLine splits command text into tokens while supporting quotes.
// Example: `123 "hello there" --count=3`
func tokenizeCommandLine(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		buf   strings.Builder
		inQ   bool
		qChar byte
		esc   bool
	)
	flush := func() {
		if buf.Len() > 0 {
			out = append(out, buf.String())
			buf.Reset()
		}
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if esc {
			buf.WriteByte(ch)
			esc = false
			continue
		}
		if ch == '\\' {
			esc = true
			continue
		}
		if inQ {
			if ch == qChar {
				inQ = false
				continue
			}
			buf.WriteByte(ch)
			continue
		}
		switch ch {
		case '"', '\'':
			inQ = true
			qChar = ch
		case ' ', '\t', '\n', '\r':
			flush()
		default:
			buf.WriteByte(ch)
		}
	}
	flush()
	return out
}

// parseFlags splits raw args into positionals and the known flags.
//
// Supported: --k=v, --k v, --flag (bool). A "--" token whose key is not in
// known stays positional, so message text may contain double dashes.
func parseFlags(args []string, known map[string]bool) (pos []string, flags map[string]string, bools map[string]bool) {
	flags = map[string]string{}
	bools = map[string]bool{}
	for i := 0; i < len(args); i++ {
		a := args[i]
		if strings.HasPrefix(a, "--") && len(a) > 2 {
			key := strings.TrimPrefix(a, "--")
			val, hasVal := "", false
			if eq := strings.IndexByte(key, '='); eq >= 0 {
				key, val, hasVal = key[:eq], key[eq+1:], true
			}
			if known[key] {
				switch {
				case hasVal:
					flags[key] = val
				case i+1 < len(args) && !strings.HasPrefix(args[i+1], "-"):
					// value in next token
					flags[key] = args[i+1]
					i++
				default:
					bools[key] = true
				}
				continue
			}
		}
		pos = append(pos, a)
	}
	return pos, flags, bools
}
