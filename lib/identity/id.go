// Copyright 2026 The Ago Authors
// SPDX-License-Identifier: Apache-2.0

// Package identity implements instance identity (spec §4.4, component
// C4): minting unique instance IDs, resolving human-friendly names to
// them, and maintaining the crash-robust on-disk registry mirror.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// ID is an instance identifier of the form "{template-name}-{8 hex
// digits}". It is used everywhere internally — message routing, log
// filenames, per-instance socket paths — in preference to the
// template name, so that multiple instances of the same template stay
// distinguishable (spec §4.8).
type ID string

// Mint allocates a new instance ID for templateName. The suffix is
// drawn from a cryptographic PRNG per spec §4.4; collisions are
// vanishingly unlikely but checked for and re-rolled via exists so the
// invariant ("exactly one live worker process per instance ID") can
// never be violated by a coincidental repeat.
func Mint(templateName string, exists func(ID) bool) (ID, error) {
	for attempt := 0; attempt < 8; attempt++ {
		suffix, err := randomHex(4)
		if err != nil {
			return "", fmt.Errorf("identity: generating instance suffix: %w", err)
		}
		candidate := ID(fmt.Sprintf("%s-%s", templateName, suffix))
		if exists == nil || !exists(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("identity: failed to mint a unique instance ID for %q after 8 attempts", templateName)
}

func randomHex(bytes int) (string, error) {
	buf := make([]byte, bytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
