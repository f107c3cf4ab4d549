package bot

import "strings"

// Payload is a parsed callback payload. The convention is colon-delimited
// "menu:action:args...", e.g. "account:select:alice" or
// "2fa:confirm:alice:ab12cd".
type Payload struct {
	Menu   string
	Action string
	Args   []string
}

// ParsePayload splits raw callback data. telebot prefixes data produced by
// its markup helpers with "\f"; tolerate it either way.
func ParsePayload(data string) Payload {
	data = strings.TrimPrefix(data, "\f")

	parts := strings.Split(data, ":")
	p := Payload{Menu: parts[0]}
	if len(parts) > 1 {
		p.Action = parts[1]
	}
	if len(parts) > 2 {
		p.Args = parts[2:]
	}
	return p
}

func (p Payload) Arg(i int) string {
	if i >= 0 && i < len(p.Args) {
		return p.Args[i]
	}
	return ""
}

// parseCommand splits a leading-slash message into command name and args,
// stripping an optional "@botname" suffix. Returns ok=false for ordinary
// text.
func parseCommand(text, botName string) (string, []string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}

	fields := strings.Fields(text)
	name := strings.TrimPrefix(fields[0], "/")

	if at := strings.IndexByte(name, '@'); at >= 0 {
		target := name[at+1:]
		name = name[:at]
		if botName != "" && !strings.EqualFold(target, botName) {
			return "", nil, false
		}
	}
	if name == "" {
		return "", nil, false
	}

	var args []string
	if len(fields) > 1 {
		args = fields[1:]
	}
	return strings.ToLower(name), args, true
}
