package diagnostics

import (
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// FileTimeLayout is the timestamp suffix of generated file names.
const FileTimeLayout = "20060102_150405"

// DefaultFileName derives <host>_<YYYYMMDD_hhmmss>.txt. IPv6 hosts are fully
// expanded and their colons replaced with dots.
func DefaultFileName(host string, now time.Time) string {
	h := strings.ReplaceAll(ExpandIPv6(host), ":", ".")
	return fmt.Sprintf("%s_%s.txt", h, now.Format(FileTimeLayout))
}

// ExpandIPv6 returns the zero-filled form of an IPv6 address. Other hosts are
// returned unchanged.
func ExpandIPv6(host string) string {
	h := strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	addr, err := netip.ParseAddr(h)
	if err != nil || !addr.Is6() || addr.Is4In6() {
		return host
	}
	return addr.StringExpanded()
}

// bracketIPv6 wraps an IPv6 literal for use in a URL authority.
func bracketIPv6(host string) string {
	if addr, err := netip.ParseAddr(host); err == nil && addr.Is6() {
		return "[" + host + "]"
	}
	return host
}

// ShareLocation is the reported location of an exported file's directory.
func ShareLocation(s ShareParameters) string {
	p := s.withDefaults()
	switch p.ShareType {
	case ShareHTTP, ShareHTTPS:
		return fmt.Sprintf("%s://%s/%s", p.ShareType, bracketIPv6(p.IPAddress), strings.Trim(p.ShareName, "/"))
	case ShareCIFS:
		name := strings.ReplaceAll(p.ShareName, `\`, "/")
		return fmt.Sprintf("//%s/%s", p.IPAddress, strings.Trim(name, "/"))
	case ShareNFS:
		return fmt.Sprintf("%s:/%s", p.IPAddress, strings.Trim(p.ShareName, "/"))
	default:
		return strings.TrimRight(p.ShareName, "/")
	}
}

// writeLocalFile stores exported content, dropping carriage returns.
func writeLocalFile(dir, name string, body []byte) (string, error) {
	path := filepath.Join(dir, name)
	data := strings.ReplaceAll(string(body), "\r", "")
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		return "", fmt.Errorf("write diagnostics file: %w", err)
	}
	return path, nil
}
