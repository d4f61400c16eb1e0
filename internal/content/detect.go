// Package content classifies raw upload bytes, encodes binary data so it
// survives a text-only storage primitive, and splits oversized content into
// content-addressed chunks with a manifest document.
package content

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// binaryScanWindow bounds how far binary detection reads into the content.
const binaryScanWindow = 8192

const (
	dataURIPrefix = "data:"
	zstdParam     = ";codec=zstd"
	base64Param   = ";base64,"
)

// knownSignatures maps magic-byte prefixes to MIME types. Checked in order.
var knownSignatures = []struct {
	magic []byte
	mime  string
}{
	{[]byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}, "image/png"},
	{[]byte{0xff, 0xd8, 0xff}, "image/jpeg"},
	{[]byte("GIF87a"), "image/gif"},
	{[]byte("GIF89a"), "image/gif"},
	{[]byte("%PDF-"), "application/pdf"},
	{[]byte{0x1f, 0x8b}, "application/gzip"},
	{[]byte{'P', 'K', 0x03, 0x04}, "application/zip"},
	{[]byte("RIFF"), "audio/wav"},
	{[]byte{0x7f, 'E', 'L', 'F'}, "application/x-elf"},
}

// IsBinary scans a bounded prefix for null or control bytes (tab, newline
// and carriage return excluded).
func IsBinary(data []byte) bool {
	window := data
	if len(window) > binaryScanWindow {
		window = window[:binaryScanWindow]
	}
	for _, b := range window {
		if b == 0 {
			return true
		}
		if b < 0x20 && b != '\t' && b != '\n' && b != '\r' {
			return true
		}
	}
	return false
}

// SniffMIME returns the MIME type for a known binary signature, or
// application/octet-stream.
func SniffMIME(data []byte) string {
	for _, sig := range knownSignatures {
		if bytes.HasPrefix(data, sig.magic) {
			return sig.mime
		}
	}
	return "application/octet-stream"
}

// Encode turns raw bytes into the stored text form. Text passes through
// unchanged. Binary content becomes a typed data-URI-style payload,
// optionally zstd-compressed, so the consumer can recover both the bytes and
// the MIME type.
func Encode(raw []byte, compress bool) ([]byte, error) {
	if !IsBinary(raw) {
		return raw, nil
	}
	mime := SniffMIME(raw)
	payload := raw
	codec := ""
	if compress {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		payload = enc.EncodeAll(raw, nil)
		enc.Close()
		codec = zstdParam
	}
	var b strings.Builder
	b.WriteString(dataURIPrefix)
	b.WriteString(mime)
	b.WriteString(codec)
	b.WriteString(base64Param)
	b.WriteString(base64.StdEncoding.EncodeToString(payload))
	return []byte(b.String()), nil
}

// Decode reverses Encode: a typed payload yields the original bytes plus its
// MIME type; plain text passes through with an empty MIME.
func Decode(stored []byte) ([]byte, string, error) {
	s := string(stored)
	if !strings.HasPrefix(s, dataURIPrefix) {
		return stored, "", nil
	}
	rest := s[len(dataURIPrefix):]
	sep := strings.Index(rest, base64Param)
	if sep < 0 {
		// data: prefix but not our envelope; treat as opaque text.
		return stored, "", nil
	}
	mime := rest[:sep]
	compressed := strings.HasSuffix(mime, zstdParam)
	mime = strings.TrimSuffix(mime, zstdParam)

	raw, err := base64.StdEncoding.DecodeString(rest[sep+len(base64Param):])
	if err != nil {
		return nil, "", fmt.Errorf("decode payload: %w", err)
	}
	if compressed {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, "", err
		}
		defer dec.Close()
		raw, err = dec.DecodeAll(raw, nil)
		if err != nil {
			return nil, "", fmt.Errorf("decompress payload: %w", err)
		}
	}
	return raw, mime, nil
}
