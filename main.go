package main

import (
	"errors"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// check has already printed its table; the exit code carries the result.
		if errors.Is(err, errCheckFailed) {
			os.Exit(1)
		}

		exitOnError(err)
	}
}
