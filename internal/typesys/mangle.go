package typesys

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Mangle turns a qualified name into a symbol-safe name. The result only
// uses [A-Za-z0-9_.$]. Any other rune (and '$' itself) is written as
// "$<hex>_", which keeps the mapping injective: an escape always ends at
// the first '_' after its '$' and hex digits never contain '_'.
//
// Names are NFC-normalized first so that canonically equivalent spellings
// produce the same symbol.
func Mangle(name string) string {
	name = norm.NFC.String(name)
	if isPlainSymbol(name) {
		return name
	}
	var sb strings.Builder
	sb.Grow(len(name) + 8)
	for _, r := range name {
		if isSymbolRune(r) {
			sb.WriteRune(r)
			continue
		}
		fmt.Fprintf(&sb, "$%X_", r)
	}
	return sb.String()
}

func isPlainSymbol(s string) bool {
	for _, r := range s {
		if !isSymbolRune(r) {
			return false
		}
	}
	return true
}

func isSymbolRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '_' || r == '.':
		return true
	}
	return false
}
