package utils

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

var (
	SuccessColor = color.New(color.FgGreen).SprintFunc()
	WarningColor = color.New(color.FgYellow).SprintFunc()
	ErrorColor   = color.New(color.FgRed).SprintFunc()
	InfoColor    = color.New(color.FgCyan).SprintFunc()
)

// PrintSuccess formats and prints a success message to w.
func PrintSuccess(w io.Writer, msg string) {
	fmt.Fprintf(w, "[%s] %s\n", SuccessColor("SUCCESS"), msg)
}

// PrintWarning formats and prints a warning message to w.
func PrintWarning(w io.Writer, msg string) {
	fmt.Fprintf(w, "[%s] %s\n", WarningColor("WARNING"), msg)
}

// PrintError formats and prints an error message to w.
func PrintError(w io.Writer, msg string) {
	fmt.Fprintf(w, "[%s] %s\n", ErrorColor("ERROR"), msg)
}

// PrintInfo formats and prints an informational message to w.
func PrintInfo(w io.Writer, msg string) {
	fmt.Fprintf(w, "[%s] %s\n", InfoColor("INFO"), msg)
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// GenerateCurlCommand returns a curl invocation that replays a login with
// the given principal, so a finding can be verified by hand.
func GenerateCurlCommand(targetURL, principal, password string, insecure bool) string {
	var command strings.Builder
	command.WriteString("curl --ntlm -u ")
	command.WriteString(shellQuote(principal + ":" + password))
	command.WriteString(" ")
	command.WriteString(shellQuote(targetURL))
	if insecure {
		command.WriteString(" -k")
	}
	return command.String()
}
