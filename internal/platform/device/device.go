// Package device turns user-agent strings into short labels for logs.
package device

import (
	"strings"

	"github.com/mssola/useragent"
)

// ParseUserAgent returns a "Browser on OS" label, or "Unknown Device" for an
// empty user agent.
func ParseUserAgent(userAgent string) string {
	userAgent = strings.TrimSpace(userAgent)
	if userAgent == "" {
		return "Unknown Device"
	}
	ua := useragent.New(userAgent)

	browser, _ := ua.Browser()
	browser = strings.TrimSpace(browser)
	if browser == "" {
		browser = "Unknown Browser"
	}
	os := strings.TrimSpace(ua.OS())
	if os == "" {
		os = strings.TrimSpace(ua.Platform())
	}
	if os == "" {
		os = "Unknown OS"
	}
	return browser + " on " + os
}

// IsMobile reports whether the user agent belongs to a mobile device.
func IsMobile(userAgent string) bool {
	if userAgent == "" {
		return false
	}
	return useragent.New(userAgent).Mobile()
}
