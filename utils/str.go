package utils

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"
)

const (
	UTF8  = "UTF8"
	UTF_8 = "UTF-8"
)

// ESRI writes bare code page numbers into .cpg files.
var cpgAliases = map[string]string{
	"65001": UTF_8,
	"1252":  "windows-1252",
	"1251":  "windows-1251",
	"1250":  "windows-1250",
	"88591": "ISO-8859-1",
	"88592": "ISO-8859-2",
	"936":   "GBK",
	"932":   "Shift_JIS",
	"950":   "Big5",
	"437":   "IBM437",
	"850":   "IBM850",
}

func IsUTF8CodePage(cpg string) bool {
	c := strings.ToUpper(strings.TrimSpace(cpg))
	return c == UTF_8 || c == UTF8 || c == "65001"
}

// CodePageEncoding resolves a .cpg code page name to a text encoding.
func CodePageEncoding(cpg string) (enc encoding.Encoding, err error) {
	name := strings.TrimSpace(cpg)
	if alias, ok := cpgAliases[strings.TrimPrefix(strings.ToUpper(name), "CP")]; ok {
		name = alias
	}
	enc, err = ianaindex.IANA.Encoding(name)
	if err == nil && enc == nil {
		err = fmt.Errorf("code page %q has no decoder", cpg)
	}
	return
}

// DecodeString converts s from enc to UTF-8. ASCII and undecodable text
// are returned unchanged.
func DecodeString(enc encoding.Encoding, s string) string {
	if enc == nil || isASCII(s) {
		return s
	}
	out, err := enc.NewDecoder().String(s)
	if err != nil {
		return s
	}
	return out
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}
