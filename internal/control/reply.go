package control

import "fmt"

// Reply lines are "%03d%c%s\r\n": a three-digit status code, a separator
// that is ' ' for the final line of a reply, '-' for a mid line of a
// multi-line reply, or '+' for a line announcing an escaped data block,
// then the payload.

func (s *Session) writeReply(code int, sep byte, line string) {
	s.Deliver(fmt.Appendf(nil, "%03d%c%s\r\n", code, sep, line))
}

// WriteOneReply writes a complete single-line reply.
func (s *Session) WriteOneReply(code int, line string) {
	s.writeReply(code, ' ', line)
}

// WriteOneReplyf formats and writes a complete single-line reply.
func (s *Session) WriteOneReplyf(code int, format string, args ...any) {
	s.writeReply(code, ' ', fmt.Sprintf(format, args...))
}

// WriteMidReply writes a middle line of a multi-line reply.
func (s *Session) WriteMidReply(code int, line string) {
	s.writeReply(code, '-', line)
}

// WriteDataReply writes the line that announces an escaped data block.
func (s *Session) WriteDataReply(code int, line string) {
	s.writeReply(code, '+', line)
}

// WriteData writes data as an escaped block, terminator included.
func (s *Session) WriteData(data []byte) {
	s.Deliver(EscapeData(data))
}
