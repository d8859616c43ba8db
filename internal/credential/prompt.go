package credential

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Philanthropists/imapfeed/internal/logger"
	"golang.org/x/term"
)

// ErrNoTerminal is returned when a password is needed but stdin is not a
// terminal to prompt on.
var ErrNoTerminal = errors.New("mail password not configured and stdin is not a terminal")

// Prompter asks the operator for a secret.
type Prompter func(label string) (string, error)

// TerminalPrompter reads a password from stdin without echo.
func TerminalPrompter(out io.Writer) Prompter {
	return func(label string) (string, error) {
		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) {
			return "", ErrNoTerminal
		}

		fmt.Fprintf(out, "%s: ", label)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}

		return strings.TrimSpace(string(b)), nil
	}
}

func Key(user, server string) string {
	return user + "@" + server
}

// ResolvePassword returns configured when set. Otherwise it looks the
// password up in store, and finally prompts for it and saves the answer
// back to store.
func ResolvePassword(configured, user, server string, store Store, prompt Prompter) (string, error) {
	if configured != "" {
		return configured, nil
	}

	log := logger.GetLogger()
	key := Key(user, server)

	if store != nil {
		password, err := store.Get(key)
		switch {
		case err == nil && password != "":
			log.Debugw("Using mail password from keyring", "key", key)
			return password, nil
		case err != nil && !errors.Is(err, ErrNotFound):
			log.Warnw("Could not read keyring", "key", key, "error", err)
		}
	}

	if prompt == nil {
		return "", ErrNoTerminal
	}

	password, err := prompt(fmt.Sprintf("Password for %s", key))
	if err != nil {
		return "", err
	}
	if password == "" {
		return "", errors.New("empty mail password")
	}

	if store != nil {
		if err := store.Set(key, password); err != nil {
			log.Warnw("Could not save mail password to keyring", "key", key, "error", err)
		}
	}

	return password, nil
}
