package esl

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const headerTerminator = "\n\n"

// readHeader consumes bytes up to and including the next blank line.
func readHeader(r *bufio.Reader) (string, error) {
	var b strings.Builder
	for {
		line, err := r.ReadString('\n')
		b.WriteString(line)
		if err != nil {
			return b.String(), err
		}
		if strings.HasSuffix(b.String(), headerTerminator) {
			return b.String(), nil
		}
	}
}

// contentLength returns the Content-Length value of a header block, or 0.
func contentLength(header string) (int, error) {
	for _, line := range strings.Split(header, "\n") {
		if !strings.HasPrefix(line, "Content-Length:") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "Content-Length:")))
		if err != nil {
			return 0, fmt.Errorf("esl: bad content length %q: %w", line, err)
		}
		return n, nil
	}
	return 0, nil
}

// readFrame reads one response: header plus a length-prefixed body when present.
func readFrame(r *bufio.Reader) (string, error) {
	header, err := readHeader(r)
	if err != nil {
		return header, err
	}
	n, err := contentLength(header)
	if err != nil {
		return header, err
	}
	if n <= 0 {
		return header, nil
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return header, fmt.Errorf("esl: read body: %w", err)
	}
	return header + string(body), nil
}

// succeeded reports whether a raw response carries +OK and no -ERR.
func succeeded(raw string) bool {
	return strings.Contains(raw, "+OK") && !strings.Contains(raw, "-ERR")
}

// replyBody returns the trimmed text after the header block.
func replyBody(raw string) string {
	if i := strings.Index(raw, headerTerminator); i >= 0 {
		raw = raw[i+len(headerTerminator):]
	}
	return strings.TrimSpace(raw)
}

// existsReply accepts a uuid_exists body of exactly true or false.
func existsReply(raw string) bool {
	switch strings.ToLower(replyBody(raw)) {
	case "true", "false":
		return true
	}
	return false
}
