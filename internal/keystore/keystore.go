// Package keystore persists the API key in the user's config directory,
// with a .env file fallback for environments where storing globally is
// declined.
package keystore

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	appDirName       = "aviary"
	keyFileName      = "api_key.txt"
	askedMarkerName  = "asked_to_store.txt"
	envKeyName       = "AVIARY_API_KEY"
	envFileName      = ".env"
)

// Store reads and writes the persisted API key. RunMode gates the
// ask-to-store prompt: only production mode ever prompts, and only once.
type Store struct {
	Dir     string
	RunMode string
	In      io.Reader
	Out     io.Writer
}

// New returns a store rooted at the user config directory.
func New(runMode string) *Store {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return &Store{
		Dir:     filepath.Join(dir, appDirName),
		RunMode: runMode,
		In:      os.Stdin,
		Out:     os.Stdout,
	}
}

func (s *Store) keyPath() string    { return filepath.Join(s.Dir, keyFileName) }
func (s *Store) markerPath() string { return filepath.Join(s.Dir, askedMarkerName) }

func (s *Store) out() io.Writer {
	if s.Out != nil {
		return s.Out
	}
	return os.Stdout
}

// Get returns the API key, preferring the stored file over the
// environment variable.
func (s *Store) Get() string {
	if data, err := os.ReadFile(s.keyPath()); err == nil {
		key := strings.TrimSpace(string(data))
		if key != "" {
			fmt.Fprintf(s.out(), "Using stored API key at %s\n", s.keyPath())
			return key
		}
	}
	if key := os.Getenv(envKeyName); key != "" {
		s.AskToStore(key)
		return key
	}
	return ""
}

// Put writes the API key to the config directory.
func (s *Store) Put(key string) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(s.keyPath(), []byte(key), 0o600); err != nil {
		return err
	}
	fmt.Fprintf(s.out(), "Stored API key at %s\n", s.keyPath())
	return nil
}

// Delete removes the stored key file if present.
func (s *Store) Delete() error {
	err := os.Remove(s.keyPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err == nil {
		fmt.Fprintf(s.out(), "Deleted API key at %s\n", s.keyPath())
	}
	return err
}

// OKToAsk reports whether the store may prompt the user to persist a key:
// production run mode only, and never after a previous prompt.
func (s *Store) OKToAsk() bool {
	if s.RunMode != "production" {
		return false
	}
	_, err := os.Stat(s.markerPath())
	return os.IsNotExist(err)
}

// AskToStore offers to persist the key. Declining is remembered so the
// prompt is shown at most once.
func (s *Store) AskToStore(key string) bool {
	if !s.OKToAsk() {
		return false
	}
	fmt.Fprint(s.out(), "Would you like to store your API key for future use? (y/n): ")
	in := s.In
	if in == nil {
		in = os.Stdin
	}
	answer, _ := bufio.NewReader(in).ReadString('\n')
	if strings.EqualFold(strings.TrimSpace(answer), "y") {
		if err := s.Put(key); err == nil {
			return true
		}
		return false
	}
	if err := os.MkdirAll(s.Dir, 0o755); err == nil {
		_ = os.WriteFile(s.markerPath(), []byte("yes"), 0o644)
	}
	return false
}

// WriteEnvFile upserts the API key into a .env file in dir and returns
// the file path. Existing unrelated lines are preserved.
func WriteEnvFile(dir, key string) (string, error) {
	path := filepath.Join(dir, envFileName)
	var lines []string
	seen := false
	if f, err := os.Open(path); err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, envKeyName+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", envKeyName, key))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return "", err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return "", err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", envKeyName, key))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", err
	}
	return path, nil
}
