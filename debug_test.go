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
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Tests in this file mutate package-level logging state and must not run in parallel.

func captureDebug(t *testing.T, enabled bool) (console, session *bytes.Buffer) {
	t.Helper()
	console, session = &bytes.Buffer{}, &bytes.Buffer{}

	debugMu.Lock()
	origEnabled, origWriter := debugEnabled, sessionLogWriter
	debugEnabled = enabled
	sessionLogWriter = session
	debugMu.Unlock()
	SetDebugOutput(console)

	t.Cleanup(func() {
		SetDebugOutput(nil)
		debugMu.Lock()
		debugEnabled, sessionLogWriter = origEnabled, origWriter
		debugMu.Unlock()
	})
	return console, session
}

func TestDebugf_SessionLogOnly(t *testing.T) {
	console, session := captureDebug(t, false)

	Debugf("page 0x%04X", 32)

	assert.Empty(t, console.String())
	assert.Regexp(t, regexp.MustCompile(`^\d{2}:\d{2}:\d{2}\.\d{3} DEBUG: page 0x0020\n$`), session.String())
}

func TestDebugf_ConsoleWhenEnabled(t *testing.T) {
	console, session := captureDebug(t, true)

	Debugln("sent", 3, "lines")

	assert.Equal(t, "DEBUG: sent 3 lines\n", console.String())
	assert.Contains(t, session.String(), "DEBUG: sent 3 lines")
}

func TestSetDebugEnabled(t *testing.T) {
	console, _ := captureDebug(t, false)

	SetDebugEnabled(true)
	Debugf("on")
	SetDebugEnabled(false)
	Debugf("off")

	assert.Equal(t, "DEBUG: on\n", console.String())
}

func TestSessionLog_Lifecycle(t *testing.T) {
	captureDebug(t, false)
	dir := t.TempDir()

	path, err := InitSessionLogIn(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = CloseSessionLog() })

	assert.Regexp(t, `eeprom_\d{8}_\d{6}\.log$`, filepath.Base(path))
	assert.Equal(t, path, GetSessionLogPath())

	Debugf("READ 0 32")
	require.NoError(t, CloseSessionLog())
	assert.Empty(t, GetSessionLogPath())

	content, err := os.ReadFile(path) //nolint:gosec // test file in TempDir
	require.NoError(t, err)
	assert.Contains(t, string(content), "=== EEPROM Transfer Session Log ===")
	assert.Contains(t, string(content), "DEBUG: READ 0 32")
	assert.Contains(t, string(content), "=== Session ended ===")
}

func TestCloseSessionLog_NoneOpen(t *testing.T) {
	captureDebug(t, false)
	require.NoError(t, CloseSessionLog())
}
