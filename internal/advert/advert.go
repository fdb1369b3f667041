// Package advert manages the single-instance PID lock and the advertisement
// file through which CLI clients discover a running daemon (port and bearer
// token). The advertisement exists exactly while a daemon is running; its
// absence is how external callers detect that no daemon is up.
package advert

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const (
	lockFileName   = "daemon.pid"
	advertFileName = "daemon.json"
)

// ErrLocked is returned when another live daemon holds the lock.
var ErrLocked = errors.New("daemon already running")

// Advertisement describes how to reach a running daemon.
type Advertisement struct {
	PID       int       `json:"pid"`
	Port      int       `json:"port"`
	Token     string    `json:"token"`
	StartedAt time.Time `json:"started_at"`
	StateDir  string    `json:"state_dir"`
}

// BaseURL returns the loopback control-plane address.
func (a Advertisement) BaseURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", a.Port)
}

// AcquireLock writes this process's PID into the lock file. A lock held by a
// live process returns ErrLocked; a stale lock (dead PID) is taken over.
func AcquireLock(stateDir string) error {
	if err := os.MkdirAll(stateDir, 0o750); err != nil {
		return err
	}
	path := filepath.Join(stateDir, lockFileName)
	if b, err := os.ReadFile(path); err == nil {
		pid, convErr := strconv.Atoi(strings.TrimSpace(string(b)))
		if convErr == nil && pid > 0 && pid != os.Getpid() && pidAlive(pid) {
			return fmt.Errorf("%w (pid %d, lock %s)", ErrLocked, pid, path)
		}
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o600)
}

// ReleaseLock removes the lock file, best-effort.
func ReleaseLock(stateDir string) {
	_ = os.Remove(filepath.Join(stateDir, lockFileName))
}

// Write persists the advertisement file (0600, it carries the bearer token).
func Write(stateDir string, a Advertisement) error {
	b, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(stateDir, advertFileName), b, 0o600)
}

// Read loads the advertisement of a (presumably) running daemon.
func Read(stateDir string) (Advertisement, error) {
	var a Advertisement
	b, err := os.ReadFile(filepath.Join(stateDir, advertFileName))
	if err != nil {
		return a, err
	}
	if err := json.Unmarshal(b, &a); err != nil {
		return a, fmt.Errorf("corrupt advertisement: %w", err)
	}
	return a, nil
}

// Remove deletes the advertisement, best-effort.
func Remove(stateDir string) {
	_ = os.Remove(filepath.Join(stateDir, advertFileName))
}

func pidAlive(pid int) bool {
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
