// Package textenc normalizes text coming out of vendor deliveries.
//
// Corpus archives are produced on mixed platforms:
//   - folder names extracted from macOS archives are NFD (decomposed Hangul),
//     so a plain substring match against an NFC keyword fails
//   - JSON files may carry a UTF-8 or UTF-16 byte order mark
//   - some files are saved as EUC-KR / CP949 instead of UTF-8
package textenc

import (
	"bytes"
	"fmt"
	"os"
	"unicode/utf8"

	"golang.org/x/text/encoding/korean"
	xunicode "golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	bomUTF8    = []byte{0xEF, 0xBB, 0xBF}
	bomUTF16LE = []byte{0xFF, 0xFE}
	bomUTF16BE = []byte{0xFE, 0xFF}
)

// NFC returns s in Unicode normalization form C.
func NFC(s string) string {
	return norm.NFC.String(s)
}

// ToUTF8 returns b as UTF-8 without a byte order mark.
//
// Detection order: UTF-8 BOM, UTF-16 BOM (either endianness), valid UTF-8,
// then EUC-KR (which in x/text covers the CP949 extension).
//
// Errors:
//   - Returns an error only when the EUC-KR or UTF-16 decoder rejects the input.
func ToUTF8(b []byte) ([]byte, error) {
	switch {
	case bytes.HasPrefix(b, bomUTF8):
		return b[len(bomUTF8):], nil
	case bytes.HasPrefix(b, bomUTF16LE), bytes.HasPrefix(b, bomUTF16BE):
		dec := xunicode.UTF16(xunicode.LittleEndian, xunicode.ExpectBOM).NewDecoder()
		out, _, err := transform.Bytes(dec, b)
		if err != nil {
			return nil, fmt.Errorf("textenc: utf-16: %w", err)
		}
		return out, nil
	}
	if utf8.Valid(b) {
		return b, nil
	}
	out, _, err := transform.Bytes(korean.EUCKR.NewDecoder(), b)
	if err != nil {
		return nil, fmt.Errorf("textenc: euc-kr: %w", err)
	}
	return out, nil
}

// ReadFile reads path and converts its content with ToUTF8.
func ReadFile(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ToUTF8(b)
}
