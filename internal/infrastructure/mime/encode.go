// SPDX-License-Identifier: AGPL-3.0-or-later

// Package mime RFC-2047-encodes subjects and attachment filenames that
// contain non-ASCII characters before they reach MIME composition,
// and guesses a content type from a filename extension for attachment
// parts that carry none. Grounded on the teacher's go-mail/mail/v2 use
// (internal/infrastructure/email/sender.go builds messages that rely on
// go-mail/mail/v2's own RFC 2047 encoding internally); this package
// covers the one place SPEC_FULL.md calls out explicitly — attachment
// filenames fetched from storage_path, which go-mail's API does not
// touch until SetHeader/Attach is called. Header encoding uses the
// standard library's mime.QEncoding; golang.org/x/text (htmlindex) is
// used only by DecodeCharset.
package mime

import (
	"mime"
	"path/filepath"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

// EncodeHeader RFC-2047-encodes s ("=?UTF-8?q?...?=") when it contains
// non-ASCII bytes, and returns it unchanged otherwise.
func EncodeHeader(s string) string {
	if isASCII(s) {
		return s
	}
	return mime.QEncoding.Encode("UTF-8", s)
}

// EncodeFilename RFC-2047-encodes a filename for the
// Content-Disposition header the same way EncodeHeader does for
// Subject/From, keeping the file extension readable to the widest
// range of mail clients.
func EncodeFilename(filename string) string {
	return EncodeHeader(filename)
}

// GuessContentType resolves a MIME type from filename's extension,
// defaulting to application/octet-stream when unknown.
func GuessContentType(filename string) string {
	ext := filepath.Ext(filename)
	if ext == "" {
		return "application/octet-stream"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// DecodeCharset best-effort transcodes body bytes declared under
// charset (e.g. "iso-8859-1") into UTF-8. The dispatch path does not
// call it; payload bodies are sent as submitted.
func DecodeCharset(charset string, data []byte) (string, error) {
	if charset == "" || strings.EqualFold(charset, "utf-8") {
		return string(data), nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return string(data), nil
	}
	decoded, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return string(data), nil
	}
	return string(decoded), nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return false
		}
	}
	return true
}
