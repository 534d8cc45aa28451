package directive

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// pending tracks a directive marker waiting for its TOML fence.
type pending struct {
	kind Kind
	line int
}

// fence describes an opening code fence line.
type fence struct {
	ticks    int
	language string
}

// ParseDocument scans the full text of one document and returns the ordered
// directive records found plus warnings for every malformed block. It never
// returns an error: malformed input degrades to a warning, the offending
// block is skipped, and scanning continues.
func ParseDocument(docID, contents string) ([]Record, []Warning) {
	lines := strings.Split(contents, "\n")
	var records []Record
	var warnings []Warning
	var open *pending

	warn := func(line int, format string, args ...any) {
		warnings = append(warnings, Warning{DocID: docID, Line: line, Reason: fmt.Sprintf(format, args...)})
	}

	idx := 0
	for idx < len(lines) {
		trimmed := strings.TrimSpace(lines[idx])

		if kind, ok := parseMarkerLine(trimmed); ok {
			if open != nil {
				warn(open.line, "missing toml block after %s", open.kind.label())
			}
			open = &pending{kind: kind, line: idx + 1}
			idx++
			continue
		}

		if f, ok := parseFenceLine(trimmed); ok {
			fenceLine := idx + 1
			idx++
			var body []string
			closed := false
			for idx < len(lines) {
				if isFenceClose(lines[idx], f.ticks) {
					closed = true
					idx++
					break
				}
				body = append(body, lines[idx])
				idx++
			}

			if open != nil {
				directive := *open
				open = nil
				switch {
				case !closed:
					warn(directive.line, "unterminated toml block after %s", directive.kind.label())
				case !strings.EqualFold(f.language, "toml"):
					warn(directive.line, "expected toml block after %s", directive.kind.label())
				default:
					blockText := strings.Join(body, "\n")
					if rec, w, ok := parseBlock(docID, fenceLine, directive.kind, blockText); ok {
						records = append(records, rec)
					} else {
						warnings = append(warnings, w)
					}
				}
			}
			continue
		}

		idx++
	}

	if open != nil {
		warn(open.line, "missing toml block after %s", open.kind.label())
	}

	return records, warnings
}

// parseMarkerLine recognizes a directive marker on a line of its own.
func parseMarkerLine(line string) (Kind, bool) {
	switch line {
	case "/user":
		return KindUser, true
	case "/subscription":
		return KindSubscription, true
	case "/notify":
		return KindNotify, true
	default:
		return 0, false
	}
}

// parseFenceLine recognizes the opening of a fenced code block: three or
// more backticks, optionally followed by a language tag.
func parseFenceLine(line string) (fence, bool) {
	ticks := 0
	for ticks < len(line) && line[ticks] == '`' {
		ticks++
	}
	if ticks < 3 {
		return fence{}, false
	}
	rest := strings.TrimSpace(line[ticks:])
	language := ""
	if rest != "" {
		language = strings.Fields(rest)[0]
	}
	return fence{ticks: ticks, language: language}, true
}

// isFenceClose reports whether line closes a fence opened with the given
// number of backticks.
func isFenceClose(line string, ticks int) bool {
	trimmed := strings.TrimSpace(line)
	if len(trimmed) < ticks {
		return false
	}
	for i := range ticks {
		if trimmed[i] != '`' {
			return false
		}
	}
	return strings.TrimSpace(trimmed[ticks:]) == ""
}

// parseBlock decodes one TOML block into a Record.
func parseBlock(docID string, line int, kind Kind, blockText string) (Record, Warning, bool) {
	badBlock := func(format string, args ...any) (Record, Warning, bool) {
		return Record{}, Warning{DocID: docID, Line: line, Reason: fmt.Sprintf(format, args...)}, false
	}

	switch kind {
	case KindUser:
		var raw struct {
			Name        string `toml:"name"`
			DisplayName string `toml:"display_name"`
		}
		if err := toml.Unmarshal([]byte(blockText), &raw); err != nil {
			return badBlock("invalid toml for /user block: %v", err)
		}
		name := strings.TrimSpace(raw.Name)
		if name == "" {
			return badBlock("invalid /user block: name is required")
		}
		return Record{
			Kind: KindUser,
			Line: line,
			User: User{Name: name, DisplayName: strings.TrimSpace(raw.DisplayName)},
		}, Warning{}, true

	case KindSubscription:
		var raw Subscription
		if err := toml.Unmarshal([]byte(blockText), &raw); err != nil {
			return badBlock("invalid toml for /subscription block: %v", err)
		}
		sub := Subscription{
			User:     strings.TrimSpace(raw.User),
			Endpoint: strings.TrimSpace(raw.Endpoint),
			P256dh:   strings.TrimSpace(raw.P256dh),
			Auth:     strings.TrimSpace(raw.Auth),
		}
		switch {
		case sub.User == "":
			return badBlock("invalid /subscription block: user is required")
		case sub.Endpoint == "":
			return badBlock("invalid /subscription block: endpoint is required")
		case sub.P256dh == "":
			return badBlock("invalid /subscription block: p256dh is required")
		case sub.Auth == "":
			return badBlock("invalid /subscription block: auth is required")
		}
		return Record{Kind: KindSubscription, Line: line, Subscription: sub}, Warning{}, true

	case KindNotify:
		var raw struct {
			To      toml.Primitive `toml:"to"`
			At      string         `toml:"at"`
			Message string         `toml:"message"`
		}
		meta, err := toml.Decode(blockText, &raw)
		if err != nil {
			return badBlock("invalid toml for /notify block: %v", err)
		}
		if !meta.IsDefined("to") {
			return badBlock("invalid /notify block: to is required")
		}
		to, err := normalizeRecipients(meta, raw.To)
		if err != nil {
			return badBlock("invalid /notify block: %v", err)
		}
		if strings.TrimSpace(raw.At) == "" {
			return badBlock("invalid /notify block: at is required")
		}
		at, err := time.Parse(time.RFC3339, strings.TrimSpace(raw.At))
		if err != nil {
			return badBlock("invalid /notify block: at must be RFC3339 (%v)", err)
		}
		if !meta.IsDefined("message") {
			return badBlock("invalid /notify block: message is required")
		}
		return Record{
			Kind: KindNotify,
			Line: line,
			Notification: Notification{
				To:      to,
				At:      at.UTC(),
				Message: raw.Message,
				DocID:   docID,
				ID:      IdentityOf(blockText),
			},
		}, Warning{}, true
	}
	return badBlock("unknown directive kind")
}

// normalizeRecipients accepts either a single string or a list of strings for
// the "to" field and normalizes it to a sorted, deduplicated set.
func normalizeRecipients(meta toml.MetaData, prim toml.Primitive) ([]string, error) {
	var raw []string
	var one string
	if err := meta.PrimitiveDecode(prim, &one); err == nil {
		raw = []string{one}
	} else if err := meta.PrimitiveDecode(prim, &raw); err != nil {
		return nil, fmt.Errorf("to must be a string or a list of strings")
	}

	seen := make(map[string]struct{}, len(raw))
	var to []string
	for _, name := range raw {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		to = append(to, name)
	}
	if len(to) == 0 {
		return nil, fmt.Errorf("to must include at least one user")
	}
	sort.Strings(to)
	return to, nil
}
