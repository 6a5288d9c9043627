package main

import (
	"fmt"
	"os"

	"golang.org/x/term"
)

// passwordEnv names the variable holding the keystore password. Flags would
// leak it through the process list.
const passwordEnv = "TOL_PASSWORD"

// readPassword takes the keystore password from the environment, or prompts
// on an interactive terminal. confirm asks twice.
func readPassword(confirm bool) (string, error) {
	if pw, ok := os.LookupEnv(passwordEnv); ok {
		return pw, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("%s not set and stdin is not a terminal", passwordEnv)
	}
	fmt.Fprint(os.Stderr, "Keystore password: ")
	pw, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	if confirm {
		fmt.Fprint(os.Stderr, "Repeat password: ")
		again, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		if string(again) != string(pw) {
			return "", fmt.Errorf("passwords do not match")
		}
	}
	return string(pw), nil
}
