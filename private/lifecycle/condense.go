// Copyright (C) 2026 Storj Labs, Inc.
// See LICENSE for copying information.

package lifecycle

import (
	"fmt"
	"path"
	"strings"
)

// condenseStack shortens a goroutine dump for logging. Every frame becomes
// "function file:line", creator frames are dropped and goroutines parked in
// identical stacks are listed once. Input that does not look like a dump is
// returned unchanged.
func condenseStack(buf []byte) []byte {
	type parked struct {
		ids    []string
		state  string
		frames []string
	}

	var order []string
	byStack := map[string]*parked{}

	for _, block := range strings.Split(strings.TrimSpace(string(buf)), "\n\n") {
		lines := strings.Split(block, "\n")
		id, state, ok := parseGoroutineHeader(lines[0])
		if !ok {
			return buf
		}

		var frames []string
		function := ""
	scan:
		for _, line := range lines[1:] {
			switch {
			case strings.HasPrefix(line, "created by "):
				break scan
			case strings.HasPrefix(line, "\t"):
				if function == "" {
					continue
				}
				location := strings.TrimSpace(line)
				if i := strings.IndexByte(location, ' '); i >= 0 {
					location = location[:i]
				}
				frames = append(frames, function+" "+path.Base(location))
				function = ""
			default:
				function = line
				if i := strings.LastIndexByte(function, '('); i > 0 {
					function = function[:i]
				}
			}
		}

		key := state + "\n" + strings.Join(frames, "\n")
		stack, ok := byStack[key]
		if !ok {
			stack = &parked{state: state, frames: frames}
			byStack[key] = stack
			order = append(order, key)
		}
		stack.ids = append(stack.ids, id)
	}

	var out strings.Builder
	for i, key := range order {
		if i > 0 {
			out.WriteByte('\n')
		}
		stack := byStack[key]
		fmt.Fprintf(&out, "goroutine %s [%s]\n", strings.Join(stack.ids, ","), stack.state)
		for _, frame := range stack.frames {
			out.WriteString("\t" + frame + "\n")
		}
	}
	return []byte(out.String())
}

// parseGoroutineHeader parses "goroutine 7 [select, 2 minutes]:".
func parseGoroutineHeader(line string) (id, state string, ok bool) {
	rest, ok := strings.CutPrefix(line, "goroutine ")
	if !ok {
		return "", "", false
	}
	id, rest, ok = strings.Cut(rest, " [")
	if !ok {
		return "", "", false
	}
	state, _, ok = strings.Cut(rest, "]")
	return id, state, ok
}
