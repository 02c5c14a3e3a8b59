package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// acquirePIDFile writes the process ID to path and returns a release
// function for shutdown. With lock set, an exclusive flock is held for
// the life of the process: a second instance fails fast, and a file
// left behind by a crash is reclaimed because a dead process cannot
// hold the lock.
func acquirePIDFile(path string, lock bool) (func(), error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("cannot open PID file: %w", err)
	}

	if lock {
		if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
			defer file.Close()
			if errors.Is(err, syscall.EWOULDBLOCK) {
				if pid, ok := recordedPID(file); ok {
					return nil, fmt.Errorf("another instance is running with PID %d", pid)
				}
				return nil, errors.New("another instance holds the PID file lock")
			}
			return nil, fmt.Errorf("cannot lock PID file: %w", err)
		}
	}

	if err := writePID(file, os.Getpid()); err != nil {
		file.Close()
		os.Remove(path)
		return nil, err
	}

	return func() {
		if lock {
			syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		}
		file.Close()
		os.Remove(path)
	}, nil
}

func writePID(file *os.File, pid int) error {
	if err := file.Truncate(0); err != nil {
		return fmt.Errorf("cannot truncate PID file: %w", err)
	}
	if _, err := file.WriteAt([]byte(strconv.Itoa(pid)+"\n"), 0); err != nil {
		return fmt.Errorf("cannot write PID: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("cannot sync PID file: %w", err)
	}
	return nil
}

// recordedPID parses the PID already in the file, for the error message
// when the lock is contended. Flock is advisory so the read still works
// while the other instance holds the lock.
func recordedPID(file *os.File) (int, bool) {
	data, err := io.ReadAll(file)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}
