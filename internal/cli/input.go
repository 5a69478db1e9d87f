package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/paylock/internal/common"
	"github.com/dmitrijs2005/paylock/internal/cryptox"
)

// readLine reads a single line from the app's input. The trailing newline is
// trimmed. If EOF occurs after some input was read, the partial line is
// returned.
func (a *App) readLine() (string, error) {
	line, err := a.in.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// passphrase prints prompt to the error stream and reads a passphrase
// without echo. When stdin is not a terminal a plain line is read instead,
// so passphrases can be piped in.
//
// The returned slice should be wiped by the caller.
func (a *App) passphrase(prompt string) ([]byte, error) {
	if _, err := fmt.Fprint(a.errOut, prompt); err != nil {
		return nil, err
	}
	if !a.isTerminal(a.stdinFd) {
		line, err := a.readLine()
		if err != nil {
			return nil, fmt.Errorf("read passphrase: %w", err)
		}
		return []byte(line), nil
	}
	pw, err := a.readPassword(a.stdinFd)
	fmt.Fprintln(a.errOut)
	if err != nil {
		return nil, fmt.Errorf("read passphrase: %w", err)
	}
	return pw, nil
}

// newPassphrase asks twice and insists both entries agree.
func (a *App) newPassphrase() ([]byte, error) {
	first, err := a.passphrase("New passphrase: ")
	if err != nil {
		return nil, err
	}
	if len(first) == 0 {
		return nil, fmt.Errorf("%w: passphrase must not be empty", common.ErrValidation)
	}
	second, err := a.passphrase("Repeat passphrase: ")
	if err != nil {
		return nil, err
	}
	defer cryptox.Wipe(second)
	if string(first) != string(second) {
		cryptox.Wipe(first)
		return nil, fmt.Errorf("%w: passphrases do not match", common.ErrValidation)
	}
	return first, nil
}
