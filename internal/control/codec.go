package control

import (
	"bytes"
	"math"

	"github.com/juju/errors"
	"github.com/juju/loggo/v2"
)

var logger = loggo.GetLogger("relayd.control")

// endOfData is the block terminator appended by EscapeData and consumed by
// the framing layer before UnescapeData sees the payload.
const endOfData = ".\r\n"

// maxEscapeInput bounds the input to EscapeData so the worst-case output
// size (every byte on its own dotted line) cannot overflow an int.
const maxEscapeInput = (math.MaxInt - 16) / 2

// EscapeData encodes data for transmission as the body of a data reply:
// every line ending becomes CRLF, a period at the start of any line is
// doubled, and a final ".\r\n" terminator line is appended. Empty input
// yields just the terminator. Oversized input fails closed to a bare
// terminator so the protocol framing stays valid.
func EscapeData(data []byte) []byte {
	if len(data) == 0 {
		return []byte(endOfData)
	}
	if len(data) > maxEscapeInput {
		logger.Warningf("escape input of %d bytes exceeds limit, dropping data", len(data))
		return []byte(endOfData)
	}

	var out bytes.Buffer
	out.Grow(len(data) + 8)
	startOfLine := true
	for i, b := range data {
		switch {
		case b == '\n':
			if i == 0 || data[i-1] != '\r' {
				out.WriteByte('\r')
			}
			startOfLine = true
		case b == '.':
			if startOfLine {
				startOfLine = false
				out.WriteByte('.')
			}
		default:
			startOfLine = false
		}
		out.WriteByte(b)
	}
	if !bytes.HasSuffix(out.Bytes(), []byte("\r\n")) {
		out.WriteString("\r\n")
	}
	out.WriteString(endOfData)
	return out.Bytes()
}

// UnescapeData reverses EscapeData over the data region of a block: a
// single leading period on each line is stripped, CR before LF is dropped,
// and lines are joined with bare LF. The terminator line is assumed to
// have been consumed by the caller's framing.
func UnescapeData(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for len(data) > 0 {
		if data[0] == '.' {
			data = data[1:]
		}
		nl := bytes.IndexByte(data, '\n')
		if nl < 0 {
			return append(out, data...)
		}
		line := data[:nl]
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		out = append(out, line...)
		out = append(out, '\n')
		data = data[nl+1:]
	}
	return out
}

// quotedStringLength scans a double-quoted string with backslash escapes at
// the start of data. It returns the encoded length including both quotes
// and the number of logical characters between them. ok is false when data
// does not open with a quote, ends before an unescaped closing quote, or
// ends on a dangling escape.
func quotedStringLength(data []byte) (length, chars int, ok bool) {
	if len(data) == 0 || data[0] != '"' {
		return 0, 0, false
	}
	i := 1
	for {
		if i >= len(data) {
			return 0, 0, false
		}
		switch data[i] {
		case '\\':
			i++
			if i >= len(data) {
				return 0, 0, false
			}
			i++
			chars++
		case '"':
			return i + 1, chars, true
		default:
			i++
			chars++
		}
	}
}

// ExtractQuotedString returns the verbatim quoted string opening data,
// quotes included, along with the remainder of data past the closing
// quote.
func ExtractQuotedString(data []byte) (raw, rest []byte, err error) {
	n, _, ok := quotedStringLength(data)
	if !ok {
		return nil, nil, errors.NotValidf("quoted string")
	}
	return data[:n], data[n:], nil
}

// DecodeQuotedString decodes the quoted string opening data: the
// surrounding quotes are removed and each backslash escape collapses to
// the escaped character, taken literally. It returns the decoded bytes
// and the remainder of data past the closing quote.
func DecodeQuotedString(data []byte) (decoded, rest []byte, err error) {
	n, chars, ok := quotedStringLength(data)
	if !ok {
		return nil, nil, errors.NotValidf("quoted string")
	}
	decoded = make([]byte, 0, chars)
	body := data[1 : n-1]
	for i := 0; i < len(body); i++ {
		if body[i] == '\\' {
			i++
		}
		decoded = append(decoded, body[i])
	}
	return decoded, data[n:], nil
}
