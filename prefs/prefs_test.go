/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package prefs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMissingFile(t *testing.T) {
	s, err := Open(&Config{Path: filepath.Join(t.TempDir(), "nope", "prefs.yaml")})
	require.NoError(t, err)

	_, ok := s.Get(KeyUsername)
	assert.False(t, ok)
	assert.Empty(t, s.ClientID())
}

func TestUserSettingsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")

	s, err := Open(&Config{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.SaveUserSettings(UserSettings{Username: "director", AudioInput: "mic-1", AudioOutput: "spk-2"}))
	require.NoError(t, s.SetClientID("client-123"))

	reopened, err := Open(&Config{Path: path})
	require.NoError(t, err)
	assert.Equal(t, UserSettings{Username: "director", AudioInput: "mic-1", AudioOutput: "spk-2"}, reopened.UserSettings())
	assert.Equal(t, "client-123", reopened.ClientID())
}

func TestClientIDIndependentOfSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	s, err := Open(&Config{Path: path})
	require.NoError(t, err)

	require.NoError(t, s.SetClientID("keep-me"))
	require.NoError(t, s.SaveUserSettings(UserSettings{Username: "a"}))
	require.NoError(t, s.Delete(KeyUsername))

	assert.Equal(t, "keep-me", s.ClientID())
}

func TestNamespacesAreIsolated(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")

	a, err := Open(&Config{Path: path, Namespace: "a"})
	require.NoError(t, err)
	require.NoError(t, a.Set(KeyUsername, "alice"))

	b, err := Open(&Config{Path: path, Namespace: "b"})
	require.NoError(t, err)
	_, ok := b.Get(KeyUsername)
	assert.False(t, ok)
}

func TestOpenRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("intercom: [unclosed"), 0o600))

	_, err := Open(&Config{Path: path})
	assert.Error(t, err)
}
