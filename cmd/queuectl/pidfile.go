package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// pidFile records a running worker daemon.
type pidFile struct {
	PID  int    `json:"pid"`
	Addr string `json:"addr"`
}

func writePIDFile(path string, pf pidFile) error {
	data, err := json.Marshal(pf)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func readPIDFile(path string) (*pidFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pf pidFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("invalid pid file %s: %w", path, err)
	}
	if pf.PID <= 0 {
		return nil, fmt.Errorf("invalid pid file %s: no pid", path)
	}
	return &pf, nil
}

// removePIDFile removes path if it still belongs to pid.
func removePIDFile(path string, pid int) {
	pf, err := readPIDFile(path)
	if err != nil || pf.PID != pid {
		return
	}
	os.Remove(path)
}

func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, os.ErrPermission)
}
