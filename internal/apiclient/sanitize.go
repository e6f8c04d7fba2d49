package apiclient

import "regexp"

// maxLoggedBody bounds the size of a logged payload.
const maxLoggedBody = 2048

var (
	emailPattern  = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	digitsPattern = regexp.MustCompile(`\d{6,}`)
)

// Sanitize redacts email addresses and long digit sequences.
func Sanitize(s string) string {
	s = emailPattern.ReplaceAllString(s, "[email]")
	return digitsPattern.ReplaceAllString(s, "[number]")
}

// SanitizeBody redacts and truncates a request or response body for logging.
func SanitizeBody(b []byte) string {
	return truncate(Sanitize(string(b)), maxLoggedBody)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}
