package variables

import (
	"strings"
)

// Environment maps variable names to values.
type Environment map[string]string

// Lookup returns the value of name and whether it is set.
func (e Environment) Lookup(name string) (string, bool) {
	v, ok := e[name]
	return v, ok
}

// ParseEnvText parses .env-style content into an Environment.
//
// Blank lines and lines starting with # are skipped, as are lines with no "="
// or an empty key. One matching pair of surrounding quotes is stripped from
// the value; double-quoted values also turn a literal \n into a newline.
// Unquoted values are cut at " #".
func ParseEnvText(content string) Environment {
	env := make(Environment)

	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		idx := strings.Index(line, "=")
		if idx == -1 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		if key == "" {
			continue
		}
		env[key] = parseEnvValue(strings.TrimSpace(line[idx+1:]))
	}

	return env
}

func parseEnvValue(val string) string {
	if len(val) >= 2 {
		first, last := val[0], val[len(val)-1]
		if first == '"' && last == '"' {
			return strings.ReplaceAll(val[1:len(val)-1], `\n`, "\n")
		}
		if first == '\'' && last == '\'' {
			return val[1 : len(val)-1]
		}
	}

	if idx := strings.Index(val, " #"); idx != -1 {
		val = strings.TrimSpace(val[:idx])
	}
	return val
}

// MergeEnvironments merges sources left to right; later sources win per key.
func MergeEnvironments(sources ...Environment) Environment {
	out := make(Environment)
	for _, src := range sources {
		for k, v := range src {
			out[k] = v
		}
	}
	return out
}
