package youtrack

// formField is one application/x-www-form-urlencoded pair. Values are bytes so
// secret material can be encoded without passing through an immutable string.
type formField struct {
	key   string
	value []byte
}

func field(key, value string) formField {
	return formField{key: key, value: []byte(value)}
}

// encodeForm encodes fields in order. The caller owns the returned slice and
// may zero it once the request has been sent.
func encodeForm(fields ...formField) []byte {
	n := 0
	for _, f := range fields {
		n += len(f.key) + 3*len(f.value) + 2
	}
	buf := make([]byte, 0, n)
	for i, f := range fields {
		if i > 0 {
			buf = append(buf, '&')
		}
		buf = appendEscaped(buf, []byte(f.key))
		buf = append(buf, '=')
		buf = appendEscaped(buf, f.value)
	}
	return buf
}

const upperhex = "0123456789ABCDEF"

// appendEscaped matches url.QueryEscape.
func appendEscaped(dst, src []byte) []byte {
	for _, c := range src {
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9',
			c == '-', c == '_', c == '.', c == '~':
			dst = append(dst, c)
		case c == ' ':
			dst = append(dst, '+')
		default:
			dst = append(dst, '%', upperhex[c>>4], upperhex[c&15])
		}
	}
	return dst
}
