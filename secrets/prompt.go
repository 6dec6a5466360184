package secrets

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

// TerminalPrompter reads a passphrase from the given terminal without
// echoing it. An empty entry counts as a refusal.
func TerminalPrompter(in *os.File, out io.Writer) Prompter {
	return func(ssid string) (string, error) {
		fmt.Fprintf(out, "Passphrase for %q: ", ssid)

		secret, err := term.ReadPassword(int(in.Fd()))
		fmt.Fprintln(out)

		if err != nil {
			return "", err
		}

		if len(secret) == 0 {
			return "", ErrDeclined
		}

		return string(secret), nil
	}
}

// RefusingPrompter declines every request. It backs non-interactive
// runs where prompting is impossible.
func RefusingPrompter() Prompter {
	return func(ssid string) (string, error) {
		return "", ErrDeclined
	}
}
