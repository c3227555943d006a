package fingerprint

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
)

// Device classes.
const (
	DeviceDesktop = "desktop"
	DeviceMobile  = "mobile"
	DeviceTablet  = "tablet"
)

// botScoreThreshold is the edge bot-management score at or below which a
// request is treated as automated.
const botScoreThreshold = 30

// uaRule is one step in an ordered fallback chain: the first rule whose
// token appears in the lowercased user agent wins. Order matters: e.g.
// Chrome-on-iOS ("CriOS") must be checked before Safari, and iOS/Android
// before generic Linux.
type uaRule struct {
	token  string
	result string
}

var browserUARules = []uaRule{
	{"edgios", "Edge"},
	{"edga", "Edge"},
	{"edg/", "Edge"},
	{"crios", "Chrome"},
	{"fxios", "Firefox"},
	{"opr/", "Opera"},
	{"opera", "Opera"},
	{"samsungbrowser", "Samsung Internet"},
	{"vivaldi", "Vivaldi"},
	{"firefox", "Firefox"},
	{"chrome", "Chrome"},
	{"safari", "Safari"},
	{"msie", "Internet Explorer"},
	{"trident", "Internet Explorer"},
}

var osUARules = []uaRule{
	{"iphone", "iOS"},
	{"ipad", "iOS"},
	{"ipod", "iOS"},
	{"android", "Android"},
	{"windows", "Windows"},
	{"mac os x", "macOS"},
	{"macintosh", "macOS"},
	{"cros", "ChromeOS"},
	{"linux", "Linux"},
}

// brandPrecedence orders client-hint brands so chromium forks win over the
// generic Chrome/Chromium brands they also advertise.
var brandPrecedence = []struct {
	token  string
	result string
}{
	{"brave", "Brave"},
	{"microsoft edge", "Edge"},
	{"opera", "Opera"},
	{"vivaldi", "Vivaldi"},
	{"samsung internet", "Samsung Internet"},
	{"google chrome", "Chrome"},
	{"chromium", "Chrome"},
	{"firefox", "Firefox"},
	{"safari", "Safari"},
}

var botUARegex = regexp.MustCompile(`(?i)(bot|crawl|spider|slurp|headless|lighthouse|pagespeed|bingpreview|facebookexternalhit|whatsapp|telegram|discordbot|curl|wget|python-requests|python/|go-http-client|httpx|scrapy|phantomjs|pingdom|uptimerobot|monitor)`)

// DeviceType classifies the requesting device. The Sec-CH-UA-Mobile client
// hint wins when present; otherwise user-agent patterns decide, and an empty
// user agent always classifies as desktop.
func DeviceType(h http.Header) string {
	if mobile := h.Get("Sec-CH-UA-Mobile"); mobile != "" {
		if mobile == "?1" {
			return DeviceMobile
		}
		// ?0 still says nothing about tablet vs desktop; fall through.
	}

	ua := strings.ToLower(h.Get("User-Agent"))
	if ua == "" {
		return DeviceDesktop
	}

	for _, token := range []string{"ipad", "tablet", "kindle", "silk", "playbook"} {
		if strings.Contains(ua, token) {
			return DeviceTablet
		}
	}
	// Android without the Mobile token is the tablet form factor.
	if strings.Contains(ua, "android") && !strings.Contains(ua, "mobile") {
		return DeviceTablet
	}
	for _, token := range []string{"mobi", "iphone", "ipod", "android", "blackberry", "windows phone", "opera mini"} {
		if strings.Contains(ua, token) {
			return DeviceMobile
		}
	}
	return DeviceDesktop
}

// Browser identifies the browser, preferring the structured Sec-CH-UA brand
// list and falling back to ordered user-agent substring rules.
func Browser(h http.Header) string {
	if brands := h.Get("Sec-CH-UA"); brands != "" {
		if name := browserFromBrands(brands); name != "" {
			return name
		}
	}

	ua := strings.ToLower(h.Get("User-Agent"))
	for _, rule := range browserUARules {
		if strings.Contains(ua, rule.token) {
			return rule.result
		}
	}
	return "Unknown"
}

// browserFromBrands picks a brand from a Sec-CH-UA header value such as
// `"Brave";v="120", "Chromium";v="120", "Not?A_Brand";v="24"`, skipping
// placeholder brands and applying the fixed precedence order.
func browserFromBrands(header string) string {
	var brands []string
	for _, part := range strings.Split(header, ",") {
		brand, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		brand = strings.Trim(brand, `"`)
		if brand == "" || isPlaceholderBrand(brand) {
			continue
		}
		brands = append(brands, strings.ToLower(brand))
	}

	for _, p := range brandPrecedence {
		for _, b := range brands {
			if b == p.token {
				return p.result
			}
		}
	}
	return ""
}

// isPlaceholderBrand filters GREASE tokens like "Not A;Brand" or "Not?A_Brand".
func isPlaceholderBrand(brand string) bool {
	b := strings.ToLower(brand)
	return strings.Contains(b, "not") && strings.Contains(b, "brand")
}

// OS identifies the operating system, preferring the Sec-CH-UA-Platform
// client hint over user-agent parsing.
func OS(h http.Header) string {
	if platform := strings.Trim(h.Get("Sec-CH-UA-Platform"), `"`); platform != "" {
		return normalizePlatform(platform)
	}

	ua := strings.ToLower(h.Get("User-Agent"))
	for _, rule := range osUARules {
		if strings.Contains(ua, rule.token) {
			return rule.result
		}
	}
	return "Unknown"
}

func normalizePlatform(platform string) string {
	switch strings.ToLower(platform) {
	case "windows":
		return "Windows"
	case "macos", "mac os x":
		return "macOS"
	case "android":
		return "Android"
	case "ios":
		return "iOS"
	case "linux":
		return "Linux"
	case "chrome os", "chromium os", "chromeos":
		return "ChromeOS"
	default:
		return platform
	}
}

// IsBot decides whether the request is automated. An edge-provided
// bot-management score takes priority: a score at or below the threshold or
// an explicit verified-bot flag means bot. Without a score, a user-agent
// keyword pattern decides.
func IsBot(h http.Header) bool {
	if h.Get("X-Verified-Bot") == "true" {
		return true
	}
	if raw := h.Get("X-Bot-Score"); raw != "" {
		if score, err := strconv.Atoi(raw); err == nil {
			return score <= botScoreThreshold
		}
	}
	return botUARegex.MatchString(h.Get("User-Agent"))
}

// Language extracts the primary language tag from Accept-Language.
func Language(h http.Header) string {
	raw := h.Get("Accept-Language")
	if raw == "" {
		return ""
	}
	first, _, _ := strings.Cut(raw, ",")
	lang, _, _ := strings.Cut(strings.TrimSpace(first), ";")
	return lang
}
