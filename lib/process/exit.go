// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides small helpers shared by every cmd/
// entrypoint.
package process

import (
	"fmt"
	"os"
)

// Fatal writes "error: err" to stderr and exits with code 1. Use it in
// main() for errors returned from run() where the structured logger
// may not yet be initialized.
func Fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
