package stream

import (
	"fmt"
	"strconv"
	"strings"
)

// gcodeCommand is a parsed G-code line: the command word plus its
// letter or KEY=VALUE parameters.
type gcodeCommand struct {
	Name string
	Args map[string]string
	Raw  string
}

// parseGCodeLine parses a command line. Lines that carry nothing to
// execute (already stripped by the sources, but stages may see
// synthesized content) yield a nil command.
func parseGCodeLine(line string) *gcodeCommand {
	ln := strings.TrimSpace(line)
	if idx := strings.IndexByte(ln, ';'); idx >= 0 {
		ln = strings.TrimSpace(ln[:idx])
	}
	if ln == "" {
		return nil
	}

	fields := strings.Fields(ln)
	name := strings.ToUpper(fields[0])
	args := map[string]string{}
	for _, f := range fields[1:] {
		if strings.Contains(f, "=") {
			kv := strings.SplitN(f, "=", 2)
			k := strings.ToUpper(strings.TrimSpace(kv[0]))
			v := strings.TrimSpace(kv[1])
			if k != "" {
				args[k] = v
			}
			continue
		}
		// Letter-params like "X10.5", "Z-5", "E0".
		if len(f) < 2 {
			continue
		}
		k := strings.ToUpper(f[:1])
		v := strings.TrimSpace(f[1:])
		if k != "" {
			args[k] = v
		}
	}
	return &gcodeCommand{Name: name, Args: args, Raw: line}
}

// floatArg returns a float parameter, with presence indication.
func (c *gcodeCommand) floatArg(key string) (float64, bool, error) {
	v, ok := c.Args[strings.ToUpper(key)]
	if !ok {
		return 0, false, nil
	}
	if v == "" {
		return 0, true, fmt.Errorf("empty arg %s in %q", key, c.Raw)
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, true, fmt.Errorf("bad float %s=%q in %q", key, v, c.Raw)
	}
	return f, true, nil
}

// formatFloat renders a coordinate the way slicers do: fixed notation,
// trailing zeros trimmed, at most 5 decimals.
func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', 5, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimSuffix(s, ".")
	if s == "-0" {
		s = "0"
	}
	return s
}
