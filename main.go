// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 PinballWizards
//
// Palantir - 9-bit multidrop bus tool
//
// Runs a master or slave on a palantir bus over a serial adapter or a
// WebSocket bridge, and decodes the traffic on the line.

package main

import (
	"os"

	"github.com/PinballWizards/palantir/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
