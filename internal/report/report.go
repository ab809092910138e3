package report

import (
	"fmt"
	"io"
	"os"
	"time"

	"ntlm-brute/internal/authn"
	"ntlm-brute/internal/brute"
	"ntlm-brute/internal/creds"
	"ntlm-brute/internal/utils"
)

type Options struct {
	Target    authn.Target
	Insecure  bool
	Verbosity int
}

const separator = "-------------------------------------------------\n"

// Print writes a human readable summary of a run.
func Print(w io.Writer, rep *brute.Report, opts Options) {
	if len(rep.Found) == 0 {
		fmt.Fprint(w, "\n--- Run Finished ---\n")
		utils.PrintInfo(w, fmt.Sprintf("No valid credentials found after %d attempts.", rep.Attempts))
	} else {
		fmt.Fprint(w, "\n--- Run Finished. Results ---\n\n")
		for _, p := range rep.Found {
			printFinding(w, p, opts)
		}
	}

	if opts.Verbosity >= 1 {
		printWorkers(w, rep)
	}
}

func printFinding(w io.Writer, p creds.Pair, opts Options) {
	principal := opts.Target.Principal(p.Username)
	msg := fmt.Sprintf("User: %s Pass: %s\n  ├── Principal: %s\n  ├── Target: %s\n  └── CURL: %s",
		p.Username, p.Password, principal, opts.Target.URL,
		utils.GenerateCurlCommand(opts.Target.URL, principal, p.Password, opts.Insecure))

	fmt.Fprint(w, separator)
	utils.PrintSuccess(w, msg)
	fmt.Fprint(w, separator)
}

func printWorkers(w io.Writer, rep *brute.Report) {
	utils.PrintInfo(w, fmt.Sprintf("Run %s finished in %s", rep.RunID, rep.Elapsed.Round(time.Millisecond)))
	for _, ws := range rep.Workers {
		line := fmt.Sprintf("worker %d: %s after %d attempts", ws.ID, ws.State, ws.Attempts)
		if ws.Err != nil {
			utils.PrintWarning(w, fmt.Sprintf("%s (%v)", line, ws.Err))
			continue
		}
		fmt.Fprintf(w, "  ├── %s\n", line)
	}
}

// WriteLines writes one username:password line per pair.
func WriteLines(w io.Writer, pairs []creds.Pair) error {
	for _, p := range pairs {
		if _, err := fmt.Fprintln(w, p.String()); err != nil {
			return err
		}
	}
	return nil
}

// Save appends the pairs to the file at path, creating it if needed.
func Save(path string, pairs []creds.Pair) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("opening output file: %w", err)
	}
	if err := WriteLines(f, pairs); err != nil {
		f.Close()
		return fmt.Errorf("writing output file: %w", err)
	}
	return f.Close()
}
