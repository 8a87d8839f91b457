// SPDX-License-Identifier: AGPL-3.0-or-later
package mime

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeHeader(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "plain subject", EncodeHeader("plain subject"))

	encoded := EncodeHeader("Café facture été")
	assert.True(t, strings.HasPrefix(encoded, "=?UTF-8?"))
	assert.Contains(t, encoded, "?=")
}

func TestEncodeFilename(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "invoice.pdf", EncodeFilename("invoice.pdf"))
	assert.True(t, strings.HasPrefix(EncodeFilename("facture_été.pdf"), "=?UTF-8?"))
}

func TestGuessContentType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		filename string
		want     string
	}{
		{"report.pdf", "application/pdf"},
		{"photo.png", "image/png"},
		{"noextension", "application/octet-stream"},
		{"archive.unknownext", "application/octet-stream"},
	}

	for _, tt := range tests {
		got := GuessContentType(tt.filename)
		assert.Equal(t, tt.want, got, "filename %q", tt.filename)
	}
}

func TestDecodeCharset(t *testing.T) {
	t.Parallel()

	out, err := DecodeCharset("utf-8", []byte("hello"))
	assert.NoError(t, err)
	assert.Equal(t, "hello", out)

	out, err = DecodeCharset("", []byte("hello"))
	assert.NoError(t, err)
	assert.Equal(t, "hello", out)

	out, err = DecodeCharset("bogus-charset", []byte("hello"))
	assert.NoError(t, err)
	assert.Equal(t, "hello", out)
}
