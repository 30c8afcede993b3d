/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

// Package prefs persists user preferences between runs: the username, the
// chosen input/output devices and the client identifier. Values live in a
// namespaced YAML document; the client id is kept under its own key so it
// survives independently of the other settings.
package prefs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Well-known keys
const (
	KeyUsername    = "username"
	KeyAudioInput  = "audioinput"
	KeyAudioOutput = "audiooutput"
	KeyClientID    = "clientId"
)

// DefaultNamespace is used when Config.Namespace is empty.
const DefaultNamespace = "intercom"

// Config holds the configuration for the preferences store
type Config struct {
	// Path is the YAML file holding every namespace
	Path string
	// Namespace isolates this client's keys from others sharing the file
	Namespace string
}

// DefaultConfig returns the default configuration, storing preferences in
// the user config directory.
func DefaultConfig() *Config {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return &Config{
		Path:      filepath.Join(dir, "intercom", "prefs.yaml"),
		Namespace: DefaultNamespace,
	}
}

// Store is a file-backed key-value store. Reads are served from memory;
// every Set rewrites the file atomically.
type Store struct {
	mu     sync.RWMutex
	config *Config
	data   map[string]map[string]string
}

// UserSettings is the subset of preferences the call registry cares about.
type UserSettings struct {
	Username    string `yaml:"username" json:"username"`
	AudioInput  string `yaml:"audioinput" json:"audioinput"`
	AudioOutput string `yaml:"audiooutput" json:"audiooutput"`
}

// Open loads the store from config.Path. A missing file yields an empty store.
func Open(config *Config) (*Store, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Namespace == "" {
		config.Namespace = DefaultNamespace
	}

	s := &Store{
		config: config,
		data:   make(map[string]map[string]string),
	}

	raw, err := os.ReadFile(config.Path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("prefs: read %q: %w", config.Path, err)
	}
	if err := yaml.Unmarshal(raw, &s.data); err != nil {
		return nil, fmt.Errorf("prefs: decode %q: %w", config.Path, err)
	}
	if s.data == nil {
		s.data = make(map[string]map[string]string)
	}
	return s, nil
}

// Get returns the value stored under key in this store's namespace.
func (s *Store) Get(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[s.config.Namespace][key]
	return v, ok
}

// Set stores value under key and persists the file.
func (s *Store) Set(key, value string) error {
	return s.SetMany(map[string]string{key: value})
}

// SetMany stores several keys with one write.
func (s *Store) SetMany(values map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.data[s.config.Namespace]
	if !ok {
		ns = make(map[string]string)
		s.data[s.config.Namespace] = ns
	}
	for k, v := range values {
		ns[k] = v
	}
	return s.save()
}

// Delete removes key from the namespace.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[s.config.Namespace], key)
	return s.save()
}

// UserSettings returns the persisted username and device choices.
func (s *Store) UserSettings() UserSettings {
	username, _ := s.Get(KeyUsername)
	in, _ := s.Get(KeyAudioInput)
	out, _ := s.Get(KeyAudioOutput)
	return UserSettings{Username: username, AudioInput: in, AudioOutput: out}
}

// SaveUserSettings persists username and device choices together.
func (s *Store) SaveUserSettings(u UserSettings) error {
	return s.SetMany(map[string]string{
		KeyUsername:    u.Username,
		KeyAudioInput:  u.AudioInput,
		KeyAudioOutput: u.AudioOutput,
	})
}

// ClientID returns the persisted client identifier, if any.
func (s *Store) ClientID() string {
	id, _ := s.Get(KeyClientID)
	return id
}

// SetClientID persists the client identifier.
func (s *Store) SetClientID(id string) error {
	return s.Set(KeyClientID, id)
}

// save writes the whole document to a temp file and renames it into place.
// Caller holds s.mu.
func (s *Store) save() error {
	raw, err := yaml.Marshal(s.data)
	if err != nil {
		return fmt.Errorf("prefs: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.config.Path), 0o755); err != nil {
		return fmt.Errorf("prefs: mkdir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.config.Path), ".prefs-*.yaml")
	if err != nil {
		return fmt.Errorf("prefs: create temp: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("prefs: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("prefs: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.config.Path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("prefs: rename: %w", err)
	}
	return nil
}
