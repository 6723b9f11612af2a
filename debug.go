// Copyright 2026 The Zaparoo Project Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package eeprom

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ZaparooProject/go-eeprom/internal/syncutil"
)

// Console debug output is enabled by EEPROM_DEBUG or DEBUG, or by SetDebugEnabled.
var (
	debugEnabled = os.Getenv("EEPROM_DEBUG") != "" || os.Getenv("DEBUG") != ""
	debugOutput  io.Writer = os.Stdout
	debugMu      syncutil.Mutex
)

// Debugf logs a formatted debug message.
// It always goes to the session log, if one is open, and to the console only
// when debug output is enabled.
func Debugf(format string, args ...any) {
	logDebug(fmt.Sprintf(format, args...))
}

// Debugln logs its operands separated by spaces, like fmt.Println.
func Debugln(args ...any) {
	logDebug(strings.TrimSuffix(fmt.Sprintln(args...), "\n"))
}

func logDebug(message string) {
	debugMu.Lock()
	defer debugMu.Unlock()

	if sessionLogWriter != nil {
		_, _ = fmt.Fprintf(sessionLogWriter, "%s DEBUG: %s\n", time.Now().Format("15:04:05.000"), message)
	}
	if debugEnabled {
		_, _ = fmt.Fprintf(debugOutput, "DEBUG: %s\n", message)
	}
}

// SetDebugEnabled turns console debug output on or off.
func SetDebugEnabled(enabled bool) {
	debugMu.Lock()
	defer debugMu.Unlock()
	debugEnabled = enabled
}

// SetDebugOutput redirects console debug output, stdout by default.
func SetDebugOutput(w io.Writer) {
	debugMu.Lock()
	defer debugMu.Unlock()
	if w == nil {
		w = os.Stdout
	}
	debugOutput = w
}
