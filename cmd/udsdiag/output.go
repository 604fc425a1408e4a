package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/LoveWonYoung/udsdiag/uds"
)

var (
	okStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	errorStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	keyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
)

func printOK(w io.Writer, format string, args ...any) {
	fmt.Fprintln(w, okStyle.Render("OK"), fmt.Sprintf(format, args...))
}

func printKV(w io.Writer, key string, value string) {
	fmt.Fprintf(w, "%s %s\n", keyStyle.Render(fmt.Sprintf("%-14s", key+":")), value)
}

// formatData renders data as hex and, when every byte is printable, as text.
func formatData(data []byte) string {
	if len(data) == 0 {
		return dimStyle.Render("(empty)")
	}
	out := fmt.Sprintf("% X", data)
	if isPrintable(data) {
		out += " " + dimStyle.Render(fmt.Sprintf("%q", string(data)))
	}
	return out
}

func isPrintable(data []byte) bool {
	for _, b := range data {
		if b < 0x20 || b > 0x7E {
			return false
		}
	}
	return true
}

func printDTCs(w io.Writer, records []uds.DTCRecord) {
	if len(records) == 0 {
		fmt.Fprintln(w, dimStyle.Render("no DTCs"))
		return
	}
	for _, d := range records {
		var flags []string
		if d.Confirmed() {
			flags = append(flags, warnStyle.Render("confirmed"))
		}
		if d.Status&uds.StatusTestFailed != 0 {
			flags = append(flags, "test failed")
		}
		if d.Status&uds.StatusPendingDTC != 0 {
			flags = append(flags, "pending")
		}
		fmt.Fprintf(w, "%s  0x%06X  status=0x%02X  %s\n", keyStyle.Render(d.Name()), d.Code, d.Status, strings.Join(flags, ", "))
	}
}
