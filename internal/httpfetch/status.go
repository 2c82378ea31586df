package httpfetch

import (
	"strings"
	"unicode"
)

// StatusClass groups HTTP status codes by their first digit.
type StatusClass int

const (
	StatusUnknown StatusClass = iota
	StatusInformational
	StatusSuccess
	StatusRedirection
	StatusClientError
	StatusServerError
)

var classNames = [...]string{
	StatusUnknown:       "unknown",
	StatusInformational: "informational",
	StatusSuccess:       "success",
	StatusRedirection:   "redirection",
	StatusClientError:   "client-error",
	StatusServerError:   "server-error",
}

func (c StatusClass) String() string {
	if c < 0 || int(c) >= len(classNames) {
		return classNames[StatusUnknown]
	}
	return classNames[c]
}

// Classify returns the class of an HTTP status code.
func Classify(code int) StatusClass {
	switch {
	case code >= 100 && code < 200:
		return StatusInformational
	case code >= 200 && code < 300:
		return StatusSuccess
	case code >= 300 && code < 400:
		return StatusRedirection
	case code >= 400 && code < 500:
		return StatusClientError
	case code >= 500 && code < 600:
		return StatusServerError
	default:
		return StatusUnknown
	}
}

// SanitizeContentType drops non-printable characters from a Content-Type
// header value and trims surrounding space.
func SanitizeContentType(v string) string {
	clean := strings.Map(func(r rune) rune {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			return -1
		}
		return r
	}, v)
	return strings.TrimSpace(clean)
}
