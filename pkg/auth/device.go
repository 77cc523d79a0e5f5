package auth

import (
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/mssola/useragent"
	"github.com/tendant/tourdesk/pkg/domain"
)

// Device classes stored on sessions.
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceBot     = "bot"
	DeviceUnknown = "unknown"
)

// Geo headers set by the edge (Cloudflare, Vercel, or a custom proxy), in order of preference.
var (
	countryHeaders = []string{"CF-IPCountry", "X-Vercel-IP-Country", "X-Geo-Country"}
	cityHeaders    = []string{"CF-IPCity", "X-Vercel-IP-City", "X-Geo-City"}
)

// DeviceFromRequest captures descriptive client metadata for a session.
func DeviceFromRequest(r *http.Request) domain.DeviceMetadata {
	raw := r.UserAgent()
	meta := domain.DeviceMetadata{
		IPAddress: ClientIP(r),
		Country:   firstHeader(r, countryHeaders),
		City:      firstHeader(r, cityHeaders),
		UserAgent: raw,
		Device:    DeviceUnknown,
	}
	if raw == "" {
		return meta
	}

	ua := useragent.New(raw)
	name, version := ua.Browser()
	meta.Browser = strings.TrimSpace(name + " " + majorVersion(version))
	meta.OS = ua.OS()

	switch {
	case ua.Bot():
		meta.Device = DeviceBot
	case ua.Mobile():
		meta.Device = DeviceMobile
	default:
		meta.Device = DeviceDesktop
	}
	return meta
}

// ClientIP extracts the client IP address from the request.
// Checks X-Forwarded-For and X-Real-IP headers before falling back to RemoteAddr.
func ClientIP(r *http.Request) string {
	// Check X-Forwarded-For header (may contain multiple IPs)
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func firstHeader(r *http.Request, names []string) string {
	for _, name := range names {
		v := strings.TrimSpace(r.Header.Get(name))
		if v == "" || v == "XX" {
			continue
		}
		if decoded, err := url.QueryUnescape(v); err == nil {
			return decoded
		}
		return v
	}
	return ""
}

func majorVersion(v string) string {
	major, _, _ := strings.Cut(v, ".")
	return major
}
