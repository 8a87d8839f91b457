// SPDX-License-Identifier: AGPL-3.0-or-later

// Package attachment implements the consumed AttachmentManager interface
// from spec.md §6/§9: fetch(att) -> (bytes, filename), with fetch_mode
// inferred from storage_path's prefix when unset, and a cache tier keyed
// by the {MD5:<hex>} marker. Adapted from the teacher's pkg/storage
// tiered-provider pattern (local provider first, S3 as durable tier),
// generalized from upload/download storage to a read-only, tagged-variant
// fetcher since the relay only ever reads attachment content.
package attachment

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/btouchard/mailrelay/internal/domain/models"
)

// Fetcher resolves one Attachment reference to its bytes and the
// filename MIME composition should use (with any {MD5:<hex>} marker
// already stripped).
type Fetcher interface {
	Fetch(ctx context.Context, att models.Attachment) (data []byte, filename string, err error)
}

const (
	ModeBase64       = "base64"
	ModeFilesystem   = "filesystem"
	ModeHTTPURL      = "http_url"
	ModeHTTPEndpoint = "http_endpoint"
	ModeS3           = "s3"
)

var md5MarkerRe = regexp.MustCompile(`\{MD5:([0-9a-fA-F]{32})\}`)

// splitMD5Marker strips a "{MD5:<hex>}" marker from filename, returning
// the cleaned filename and the hex digest if present (spec.md §6).
func splitMD5Marker(filename string) (clean string, md5hex string) {
	m := md5MarkerRe.FindStringSubmatch(filename)
	if m == nil {
		return filename, ""
	}
	return md5MarkerRe.ReplaceAllString(filename, ""), strings.ToLower(m[1])
}

// InferMode determines fetch_mode from storage_path's prefix when the
// attachment doesn't set FetchMode explicitly (spec.md §6, §9 "Dynamic
// fetcher dispatch via string fetch_mode: replace with tagged variants").
func InferMode(att models.Attachment) string {
	if att.FetchMode != "" {
		return att.FetchMode
	}
	switch {
	case strings.HasPrefix(att.StoragePath, "base64:"):
		return ModeBase64
	case strings.HasPrefix(att.StoragePath, "s3://"):
		return ModeS3
	case strings.HasPrefix(att.StoragePath, "http://"), strings.HasPrefix(att.StoragePath, "https://"):
		return ModeHTTPURL
	case strings.HasPrefix(att.StoragePath, "/"):
		return ModeFilesystem
	default:
		return ModeHTTPEndpoint
	}
}

// Manager dispatches to one variant Fetcher per inferred mode and wraps
// every fetch with the optional cache tier.
type Manager struct {
	variants map[string]Fetcher
	cache    *Cache
}

func NewManager(base64 Fetcher, filesystem Fetcher, httpURL Fetcher, httpEndpoint Fetcher, s3 Fetcher, cache *Cache) *Manager {
	return &Manager{
		variants: map[string]Fetcher{
			ModeBase64:       base64,
			ModeFilesystem:   filesystem,
			ModeHTTPURL:      httpURL,
			ModeHTTPEndpoint: httpEndpoint,
			ModeS3:           s3,
		},
		cache: cache,
	}
}

func (m *Manager) Fetch(ctx context.Context, att models.Attachment) ([]byte, string, error) {
	filename, md5hex := splitMD5Marker(att.Filename)
	if md5hex == "" {
		md5hex = att.ContentMD5
	}

	if m.cache != nil && md5hex != "" {
		if data, ok := m.cache.Get(md5hex); ok {
			return data, filename, nil
		}
	}

	mode := InferMode(att)
	fetcher, ok := m.variants[mode]
	if !ok || fetcher == nil {
		return nil, "", fmt.Errorf("attachment: no fetcher registered for mode %q (storage_path %q)", mode, att.StoragePath)
	}

	data, _, err := fetcher.Fetch(ctx, att)
	if err != nil {
		return nil, "", fmt.Errorf("fetch attachment %q via %s: %w", filename, mode, err)
	}

	if m.cache != nil && md5hex != "" {
		m.cache.Put(md5hex, data)
	}
	return data, filename, nil
}
