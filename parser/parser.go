// Package parser turns raw mail file text into model.Message records.
//
// Parsing never fails: a malformed file yields a record whose fields are
// empty, and a file without a header/body separator yields HasBody=false.
package parser

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/dhcgn/mail-fraud-triage/model"
)

// field indexes into the fixed header list, in declaration order.
type field int

const (
	fieldMessageID field = iota
	fieldDate
	fieldFrom
	fieldTo
	fieldSubject
	fieldMimeVersion
	fieldContentType
	fieldContentTransferEncoding
	fieldXFrom
	fieldXTo
	fieldXCc
	fieldXBcc
	fieldXFolder
	fieldXOrigin
	fieldXFileName
	fieldCount
)

// headerNames maps the lower-cased header name to its field.
var headerNames = map[string]field{
	"message-id":                fieldMessageID,
	"date":                      fieldDate,
	"from":                      fieldFrom,
	"to":                        fieldTo,
	"subject":                   fieldSubject,
	"mime-version":              fieldMimeVersion,
	"content-type":              fieldContentType,
	"content-transfer-encoding": fieldContentTransferEncoding,
	"x-from":                    fieldXFrom,
	"x-to":                      fieldXTo,
	"x-cc":                      fieldXCc,
	"x-bcc":                     fieldXBcc,
	"x-folder":                  fieldXFolder,
	"x-origin":                  fieldXOrigin,
	"x-filename":                fieldXFileName,
}

// Parse converts raw text into a message record owned by owner.
// Invalid UTF-8 sequences are dropped.
func Parse(raw []byte, owner string) model.Message {
	if !utf8.Valid(raw) {
		raw = bytes.ToValidUTF8(raw, nil)
	}
	header, body, found := SplitRawMessage(raw)

	values := extractFields(header)
	msg := model.Message{
		MessageID:               values[fieldMessageID],
		Date:                    values[fieldDate],
		From:                    values[fieldFrom],
		To:                      values[fieldTo],
		Subject:                 values[fieldSubject],
		MimeVersion:             values[fieldMimeVersion],
		ContentType:             values[fieldContentType],
		ContentTransferEncoding: values[fieldContentTransferEncoding],
		XFrom:                   values[fieldXFrom],
		XTo:                     values[fieldXTo],
		XCc:                     values[fieldXCc],
		XBcc:                    values[fieldXBcc],
		XFolder:                 values[fieldXFolder],
		XOrigin:                 values[fieldXOrigin],
		XFileName:               values[fieldXFileName],
		Owner:                   owner,
	}

	if found {
		msg.Body = CollapseNewlines(string(body))
		msg.HasBody = true
	}

	return msg
}

// SplitRawMessage splits raw text at the first blank line. found reports
// whether a separator was present; without one the whole text is header.
func SplitRawMessage(raw []byte) (header, body []byte, found bool) {
	if len(raw) == 0 {
		return nil, nil, false
	}

	lf := bytes.Index(raw, []byte("\n\n"))
	crlf := bytes.Index(raw, []byte("\r\n\r\n"))

	switch {
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return raw[:crlf], raw[crlf+4:], true
	case lf >= 0:
		return raw[:lf], raw[lf+2:], true
	}

	return raw, nil, false
}

// CollapseNewlines replaces every run of line breaks with one space and
// trims the result.
func CollapseNewlines(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return strings.TrimSpace(s)
	}

	var sb strings.Builder
	sb.Grow(len(s))
	inBreak := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\n' || c == '\r' {
			if !inBreak {
				sb.WriteByte(' ')
				inBreak = true
			}
			continue
		}
		inBreak = false
		sb.WriteByte(c)
	}
	return strings.TrimSpace(sb.String())
}

// extractFields scans header lines once. A field is recognized only at the
// start of a line; the first occurrence of each field wins.
func extractFields(header []byte) [fieldCount]string {
	var values [fieldCount]string
	var seen [fieldCount]bool

	for len(header) > 0 {
		var line []byte
		if idx := bytes.IndexByte(header, '\n'); idx >= 0 {
			line, header = header[:idx], header[idx+1:]
		} else {
			line, header = header, nil
		}

		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			continue
		}
		f, ok := headerNames[strings.ToLower(string(line[:colon]))]
		if !ok || seen[f] {
			continue
		}
		seen[f] = true
		values[f] = strings.TrimSpace(string(line[colon+1:]))
	}

	return values
}

// HeaderBlock renders the recognized header fields of m as "Name: value"
// lines, for filtering records that no longer have their raw text.
func HeaderBlock(m model.Message) []byte {
	fields := []struct {
		name, value string
	}{
		{"Message-ID", m.MessageID},
		{"Date", m.Date},
		{"From", m.From},
		{"To", m.To},
		{"Subject", m.Subject},
		{"Mime-Version", m.MimeVersion},
		{"Content-Type", m.ContentType},
		{"Content-Transfer-Encoding", m.ContentTransferEncoding},
		{"X-From", m.XFrom},
		{"X-To", m.XTo},
		{"X-cc", m.XCc},
		{"X-bcc", m.XBcc},
		{"X-Folder", m.XFolder},
		{"X-Origin", m.XOrigin},
		{"X-FileName", m.XFileName},
	}

	var buf bytes.Buffer
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		buf.WriteString(f.name)
		buf.WriteString(": ")
		buf.WriteString(f.value)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}
