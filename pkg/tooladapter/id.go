package tooladapter

import (
	"fmt"
	"strconv"
	"strings"
)

// IDPrefix starts every NormalizedTool id.
const IDPrefix = "mcp_"

// ToolID returns the global id for a tool exposed by server.
//
// The server segment keeps [A-Za-z0-9] and the tool segment keeps
// [A-Za-z0-9_]; every other rune is written as "-<hex>-". The first
// underscore after the prefix therefore always separates the two segments,
// which keeps the mapping injective: DecodeID recovers the exact pair.
func ToolID(server, tool string) string {
	var b strings.Builder
	b.Grow(len(IDPrefix) + len(server) + len(tool) + 1)
	b.WriteString(IDPrefix)
	encodeSegment(&b, server, false)
	b.WriteByte('_')
	encodeSegment(&b, tool, true)
	return b.String()
}

// DecodeID splits an id produced by ToolID back into its server and tool
// names.
func DecodeID(id string) (server, tool string, err error) {
	rest, ok := strings.CutPrefix(id, IDPrefix)
	if !ok {
		return "", "", fmt.Errorf("tooladapter: id %q lacks %q prefix", id, IDPrefix)
	}
	encServer, encTool, ok := strings.Cut(rest, "_")
	if !ok {
		return "", "", fmt.Errorf("tooladapter: id %q has no tool segment", id)
	}
	if server, err = decodeSegment(encServer); err != nil {
		return "", "", fmt.Errorf("tooladapter: id %q: %w", id, err)
	}
	if tool, err = decodeSegment(encTool); err != nil {
		return "", "", fmt.Errorf("tooladapter: id %q: %w", id, err)
	}
	return server, tool, nil
}

func encodeSegment(b *strings.Builder, s string, allowUnderscore bool) {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '_' && allowUnderscore:
			b.WriteRune(r)
		default:
			b.WriteByte('-')
			b.WriteString(strconv.FormatInt(int64(r), 16))
			b.WriteByte('-')
		}
	}
}

func decodeSegment(s string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '-' {
			b.WriteByte(s[i])
			continue
		}
		end := strings.IndexByte(s[i+1:], '-')
		if end < 0 {
			return "", fmt.Errorf("unterminated escape at offset %d", i)
		}
		code, err := strconv.ParseInt(s[i+1:i+1+end], 16, 32)
		if err != nil {
			return "", fmt.Errorf("bad escape at offset %d: %w", i, err)
		}
		b.WriteRune(rune(code))
		i += end + 1
	}
	return b.String(), nil
}
