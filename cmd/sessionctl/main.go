package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/sandeepkv93/session-security-engine/internal/tools/sessionctl"
)

func main() {
	if err := sessionctl.NewRootCommand().Execute(); err != nil {
		var exitErr *sessionctl.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
