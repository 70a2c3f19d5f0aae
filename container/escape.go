package container

import "strings"

const delimiters = `\;,[]{}`

func isDelimiter(b byte) bool {
	switch b {
	case '\\', ';', ',', '[', ']', '{', '}':
		return true
	}
	return false
}

// appendEscaped writes s with every delimiter prefixed by a backslash.
func appendEscaped(dst []byte, s string) []byte {
	if !strings.ContainsAny(s, delimiters) {
		return append(dst, s...)
	}
	for i := 0; i < len(s); i++ {
		if isDelimiter(s[i]) {
			dst = append(dst, '\\')
		}
		dst = append(dst, s[i])
	}
	return dst
}

// Escape returns s as it would appear inside a name or value span.
func Escape(s string) string {
	return string(appendEscaped(nil, s))
}
