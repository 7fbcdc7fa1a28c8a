// Package lock guards a session directory against a second gateway process.
package lock

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// HeldError is returned when another process holds the session lock.
type HeldError struct {
	Session string
	PID     int
	Path    string
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("session %s is locked by PID %d (%s)", e.Session, e.PID, e.Path)
}

// Lock is an acquired advisory lock on a session directory.
type Lock struct {
	file    *os.File
	path    string
	session string
}

// Acquire takes an exclusive non-blocking flock on path, creating its parent
// directory when missing. It fails with *HeldError while any other holder,
// in this process or another, keeps the lock.
func Acquire(path, session string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		info := readInfo(path)
		_ = f.Close()
		return nil, &HeldError{Session: session, PID: info.pid, Path: path}
	}

	if err := writeInfo(f, session); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write lock file: %w", err)
	}
	return &Lock{file: f, path: path, session: session}, nil
}

// Session returns the session name recorded in the lock.
func (l *Lock) Session() string {
	if l == nil {
		return ""
	}
	return l.session
}

// Release drops the lock and removes the lock file. Safe to call on a nil
// receiver and more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

type lockInfo struct {
	pid     int
	session string
}

func writeInfo(f *os.File, session string) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err := fmt.Fprintf(f, "pid=%d\nsession=%s\ntime=%s\n",
		os.Getpid(), session, time.Now().UTC().Format(time.RFC3339))
	return err
}

func readInfo(path string) lockInfo {
	var info lockInfo
	f, err := os.Open(path)
	if err != nil {
		return info
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		key, val, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			info.pid, _ = strconv.Atoi(val)
		case "session":
			info.session = val
		}
	}
	return info
}
