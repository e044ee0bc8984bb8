// Package sharecode converts between IPv4 addresses and the 8-hex-digit codes
// used in share links.
package sharecode

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
)

var codeRe = regexp.MustCompile(`^[0-9a-f]{8}$`)

// Decode turns a code like "c0a80101" into "192.168.1.1".
// Anything that is not exactly 8 lower-case hex digits is treated as absent.
func Decode(code string) (string, bool) {
	if !codeRe.MatchString(code) {
		return "", false
	}
	parts := make([]string, 4)
	for i := 0; i < 4; i++ {
		b, err := strconv.ParseUint(code[i*2:i*2+2], 16, 8)
		if err != nil {
			return "", false
		}
		parts[i] = strconv.FormatUint(b, 10)
	}
	return strings.Join(parts, "."), true
}

// Encode is the inverse of Decode. Only IPv4 (or IPv4-mapped IPv6) addresses
// have a code.
func Encode(ip string) (string, bool) {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return "", false
	}
	v4 := parsed.To4()
	if v4 == nil {
		return "", false
	}
	return fmt.Sprintf("%02x%02x%02x%02x", v4[0], v4[1], v4[2], v4[3]), true
}
