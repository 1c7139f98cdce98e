package daemon

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
)

const envFlag = "GOLD_HFT_DAEMON"

// IsDaemon reports whether this process was spawned by StartDaemon.
func IsDaemon() bool {
	return os.Getenv(envFlag) == "1"
}

// StartDaemon relaunches the current executable in the background and
// records its PID in pidFile.
func StartDaemon(pidFile string, args []string) error {
	if pid, err := readPID(pidFile); err == nil && processAlive(pid) {
		return fmt.Errorf("daemon already running with PID %d", pid)
	}

	execPath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	cmd := exec.Command(execPath, args...)
	cmd.Env = append(os.Environ(), envFlag+"=1")
	cmd.Stdin = nil

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	if err := os.WriteFile(pidFile, []byte(strconv.Itoa(cmd.Process.Pid)), 0o644); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	fmt.Printf("Daemon started with PID %d (pid file %s)\n", cmd.Process.Pid, pidFile)
	return nil
}

// StopDaemon terminates the process recorded in pidFile and removes the
// file. SIGTERM first so the trader can shut down cleanly.
func StopDaemon(pidFile string) error {
	pid, err := readPID(pidFile)
	if err != nil {
		return err
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal process %d: %w", pid, err)
	}
	if err := os.Remove(pidFile); err != nil {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}

	fmt.Printf("Daemon with PID %d has been stopped\n", pid)
	return nil
}

// RestartDaemon stops a running daemon if any, then starts a fresh one.
func RestartDaemon(pidFile string, args []string) error {
	if err := StopDaemon(pidFile); err != nil {
		fmt.Printf("Warning: could not stop daemon: %v\n", err)
	}
	return StartDaemon(pidFile, args)
}

func readPID(pidFile string) (int, error) {
	raw, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, fmt.Errorf("failed to read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil {
		return 0, fmt.Errorf("failed to parse PID file: %w", err)
	}
	return pid, nil
}

func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
