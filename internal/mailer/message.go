package mailer

import (
	"fmt"
	"strings"
	"time"
)

// buildMessage assembles an RFC 5322 message: CRLF line endings, a blank line
// between headers and body, UTF-8 text body.
func buildMessage(senderName, from, to, subject, body string) []byte {
	var b strings.Builder

	writeHeader := func(k, v string) {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(sanitizeHeader(v))
		b.WriteString("\r\n")
	}

	if strings.TrimSpace(senderName) != "" {
		writeHeader("From", fmt.Sprintf("%s <%s>", strings.TrimSpace(senderName), from))
	} else {
		writeHeader("From", from)
	}
	writeHeader("To", to)
	writeHeader("Subject", subject)
	writeHeader("Date", time.Now().Format(time.RFC1123Z))
	writeHeader("MIME-Version", "1.0")
	writeHeader("Content-Type", `text/plain; charset="utf-8"`)
	b.WriteString("\r\n")

	// Normalize bare LF to CRLF so the DATA payload is well-formed.
	normalized := strings.ReplaceAll(strings.ReplaceAll(body, "\r\n", "\n"), "\n", "\r\n")
	b.WriteString(normalized)
	b.WriteString("\r\n")

	return []byte(b.String())
}

// sanitizeHeader strips CR/LF so user input cannot inject extra headers.
func sanitizeHeader(v string) string {
	v = strings.ReplaceAll(v, "\r", " ")
	v = strings.ReplaceAll(v, "\n", " ")
	return strings.TrimSpace(v)
}
