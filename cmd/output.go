package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

// palette returns ANSI codes when w is a terminal and empty strings
// otherwise.
type palette struct {
	reset, red, green, yellow, blue, cyan, gray, bold string
}

func paletteFor(w io.Writer) palette {
	if !isTerminal(w) {
		return palette{}
	}
	return palette{
		reset:  colorReset,
		red:    colorRed,
		green:  colorGreen,
		yellow: colorYellow,
		blue:   colorBlue,
		cyan:   colorCyan,
		gray:   colorGray,
		bold:   colorBold,
	}
}

func isTerminal(w any) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// snippet collapses whitespace and cuts content at a word boundary.
func snippet(content string, maxLen int) string {
	content = strings.Join(strings.Fields(content), " ")
	if len(content) <= maxLen {
		return content
	}
	cut := content[:maxLen]
	if i := strings.LastIndex(cut, " "); i > maxLen/2 {
		cut = cut[:i]
	}
	return cut + "..."
}

func printKV(w io.Writer, p palette, key string, value any) {
	fmt.Fprintf(w, "%s%-10s%s %v\n", p.gray, key+":", p.reset, value)
}
