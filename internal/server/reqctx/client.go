package reqctx

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// TrustedProxies are the networks whose forwarding headers are believed.
// The zero value trusts nobody.
type TrustedProxies []*net.IPNet

// ParseTrustedProxies parses CIDR ranges; a bare IP is taken as a single host.
func ParseTrustedProxies(cidrs []string) (TrustedProxies, error) {
	var out TrustedProxies
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if !strings.Contains(c, "/") {
			ip := net.ParseIP(c)
			if ip == nil {
				return nil, fmt.Errorf("invalid trusted proxy %q", c)
			}
			bits := 8 * net.IPv6len
			if ip.To4() != nil {
				ip, bits = ip.To4(), 8*net.IPv4len
			}
			out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", c, err)
		}
		out = append(out, n)
	}
	return out, nil
}

// Contains reports whether ip belongs to one of the trusted networks.
func (t TrustedProxies) Contains(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, n := range t {
		if n.Contains(parsed) {
			return true
		}
	}
	return false
}

// ClientFromRequest extracts the client IP and a coarse operating system
// name from the User-Agent. X-Forwarded-For and X-Real-IP are only honoured
// when the connection itself comes from a trusted proxy, and only when they
// hold a well-formed IP.
func ClientFromRequest(r *http.Request, trusted TrustedProxies) Client {
	return Client{IP: clientIP(r, trusted), OS: ParseOS(r.UserAgent())}
}

func remoteIP(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

func clientIP(r *http.Request, trusted TrustedProxies) string {
	conn := remoteIP(r.RemoteAddr)
	if conn == "" {
		return "Unknown IP"
	}
	if !trusted.Contains(conn) {
		return conn
	}

	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first := strings.TrimSpace(strings.Split(fwd, ",")[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
		return xri
	}
	return conn
}

// order matters: Android and iOS user agents also mention Linux / Mac OS X
var osMarkers = []struct {
	marker string
	name   string
}{
	{"android", "Android"},
	{"iphone", "iOS"},
	{"ipad", "iOS"},
	{"windows", "Windows"},
	{"cros", "ChromeOS"},
	{"macintosh", "Mac"},
	{"mac os x", "Mac"},
	{"linux", "Linux"},
}

// ParseOS maps a User-Agent to Windows, Mac, Linux, iOS, Android, ChromeOS
// or "Unknown OS".
func ParseOS(userAgent string) string {
	ua := strings.ToLower(userAgent)
	for _, m := range osMarkers {
		if strings.Contains(ua, m.marker) {
			return m.name
		}
	}
	return "Unknown OS"
}
