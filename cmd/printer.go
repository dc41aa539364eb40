package cmd

import (
	"io"
	"os"
	"strconv"
	"strings"

	"grimm.is/knockd/internal/i18n"
)

// Printer is the global message printer for the CLI.
var Printer = i18n.NewCLIPrinter()

// stdout is where command output goes. Tests replace it.
var stdout io.Writer = os.Stdout

// ports renders a port list without locale digit grouping.
func ports(seq []int) string {
	parts := make([]string, len(seq))
	for i, p := range seq {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}

func port(p int) string { return strconv.Itoa(p) }
