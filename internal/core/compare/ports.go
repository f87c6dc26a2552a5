package compare

import (
	"fmt"
	"strings"

	"github.com/docker/go-connections/nat"

	"github.com/artpar/stacklens/internal/core/compose"
)

// DefaultBindAddress is the bind address of a mapping that names none.
const DefaultBindAddress = "0.0.0.0"

// ExtractHostBinding returns the canonical "IP:hostPort" key of a short-form
// port mapping.
//
// Supported forms are HOST:CONTAINER, IP:HOST:CONTAINER, [IPv6]:HOST:CONTAINER
// and [IPv6]:HOST, where HOST may be a range such as 8000-8010, each with an
// optional protocol suffix. A container-only port, an unbracketed IPv6
// address or an unparseable host port yields ok == false.
func ExtractHostBinding(mapping string) (string, bool) {
	_, spec := nat.SplitProtoPort(strings.TrimSpace(mapping))
	if spec == "" {
		return "", false
	}

	var ip, host string
	if strings.HasPrefix(spec, "[") {
		end := strings.Index(spec, "]")
		if end < 0 || !strings.HasPrefix(spec[end+1:], ":") {
			return "", false
		}
		ip = spec[:end+1]
		host, _, _ = strings.Cut(spec[end+2:], ":")
	} else {
		parts := strings.Split(spec, ":")
		switch len(parts) {
		case 2:
			host = parts[0]
		case 3:
			ip, host = parts[0], parts[1]
		default:
			return "", false
		}
	}

	if !validHostPort(host) {
		return "", false
	}
	if ip == "" {
		ip = DefaultBindAddress
	}
	return ip + ":" + host, true
}

func validHostPort(host string) bool {
	if host == "" {
		return false
	}
	start, end, err := nat.ParsePortRangeToInt(host)
	return err == nil && start > 0 && end >= start
}

// portBindingKey keys a ports entry in short or long form.
func portBindingKey(entry any) (string, bool) {
	switch t := entry.(type) {
	case string:
		return ExtractHostBinding(t)
	case *compose.Mapping:
		published := scalarString(t, "published")
		if !validHostPort(published) {
			return "", false
		}
		ip := scalarString(t, "host_ip")
		switch {
		case ip == "":
			ip = DefaultBindAddress
		case strings.Contains(ip, ":") && !strings.HasPrefix(ip, "["):
			ip = "[" + ip + "]"
		}
		return ip + ":" + published, true
	}
	return "", false
}

// scalarString renders a scalar field as a string.
func scalarString(m *compose.Mapping, key string) string {
	v, ok := m.Get(key)
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case int, float64, bool:
		return fmt.Sprint(t)
	}
	return ""
}
