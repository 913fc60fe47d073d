package filter

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// ParseLine parses a single filter-rule line (spec.md §4.3 "Rule parsing").
// Blank lines and comment lines (leading '#') return (nil, nil).
func ParseLine(line string) (*Rule, error) {
	line = strings.TrimRight(line, "\r\n")
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return nil, nil
	}

	action, rest, err := parseAction(line)
	if err != nil {
		return nil, err
	}
	rest = strings.TrimPrefix(rest, " ")

	r := &Rule{Action: action}

	switch action {
	case ActionClear:
		return r, nil
	case ActionMerge, ActionDirMerge:
		modifiers, file := splitModifiers(rest)
		r.MergeFile = file
		for _, m := range modifiers {
			switch m {
			case '-':
				// exclude-only merge; not recorded in Flags, so the merged
				// rules keep their own signs
			case '+':
				// include-only merge; not recorded in Flags, so the merged
				// rules keep their own signs
			case 'n':
				// don't inherit
			case 'w':
				r.Flags.WordSplit = true
			case 'C':
				r.Flags.PerDirFromSrc = true
			case 'e':
				r.Flags.Inherit = true
			}
		}
		return r, nil
	}

	pattern := rest
	if strings.HasPrefix(pattern, "!") {
		r.Flags.Negate = true
		pattern = pattern[1:]
	}
	if strings.HasPrefix(pattern, "/") {
		r.Flags.Anchored = true
	}
	if strings.HasSuffix(pattern, "/") {
		r.Flags.DirOnly = true
	}
	r.Pattern = pattern
	return r, nil
}

func splitModifiers(rest string) (modifiers []byte, file string) {
	// ": merge-file" or ":C" or ":e merge-file"
	i := 0
	for i < len(rest) && rest[i] != ' ' && rest[i] != '\t' {
		modifiers = append(modifiers, rest[i])
		i++
	}
	file = strings.TrimSpace(rest[i:])
	return modifiers, file
}

func parseAction(line string) (Action, string, error) {
	switch {
	case strings.HasPrefix(line, "+"):
		return ActionInclude, line[1:], nil
	case strings.HasPrefix(line, "-"):
		return ActionExclude, line[1:], nil
	case strings.HasPrefix(line, "P"):
		return ActionProtect, line[1:], nil
	case strings.HasPrefix(line, "R"):
		return ActionRisk, line[1:], nil
	case strings.HasPrefix(line, "H"):
		return ActionHide, line[1:], nil
	case strings.HasPrefix(line, "S"):
		return ActionShow, line[1:], nil
	case strings.HasPrefix(line, ":"):
		return ActionDirMerge, line[1:], nil
	case strings.HasPrefix(line, "."):
		return ActionMerge, line[1:], nil
	case strings.HasPrefix(line, "!"):
		return ActionClear, line[1:], nil
	case strings.HasPrefix(line, "include "):
		return ActionInclude, line[len("include "):], nil
	case strings.HasPrefix(line, "exclude "):
		return ActionExclude, line[len("exclude "):], nil
	case strings.HasPrefix(line, "merge "):
		return ActionMerge, line[len("merge "):], nil
	case strings.HasPrefix(line, "dir-merge "):
		return ActionDirMerge, line[len("dir-merge "):], nil
	default:
		return 0, "", fmt.Errorf("filter: unrecognized rule: %q", line)
	}
}

// ParseRules parses every line from r into a Rule list, in insertion order
// (spec.md §3 "Rules are kept in a list preserving insertion order").
func ParseRules(r io.Reader) ([]*Rule, error) {
	var rules []*Rule
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		rule, err := ParseLine(sc.Text())
		if err != nil {
			return nil, err
		}
		if rule != nil {
			rules = append(rules, rule)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return rules, nil
}
