package host

import "strings"

// plainText drops terminal escape sequences (CSI, OSC and two-byte escapes)
// and C0 control bytes other than tab from one console line, so scripts
// that print colored output still log as readable text.
func plainText(line string) string {
	var b strings.Builder
	b.Grow(len(line))
	for i := 0; i < len(line); {
		c := line[i]
		switch {
		case c == '\x1b':
			i = skipEscape(line, i)
		case c < 0x20 && c != '\t', c == 0x7f:
			i++
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

// skipEscape returns the index just past the escape sequence at line[i].
func skipEscape(line string, i int) int {
	if i+1 >= len(line) {
		return len(line)
	}
	switch line[i+1] {
	case '[':
		// CSI ends at the first byte in 0x40..0x7e.
		for j := i + 2; j < len(line); j++ {
			if line[j] >= 0x40 && line[j] <= 0x7e {
				return j + 1
			}
		}
		return len(line)
	case ']':
		// OSC ends at BEL or ST (ESC \).
		for j := i + 2; j < len(line); j++ {
			if line[j] == '\x07' {
				return j + 1
			}
			if line[j] == '\x1b' && j+1 < len(line) && line[j+1] == '\\' {
				return j + 2
			}
		}
		return len(line)
	}
	return i + 2
}
