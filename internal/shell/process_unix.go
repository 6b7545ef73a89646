//go:build unix

package shell

import (
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// spawnedProcess owns a child process and, for interactive modes, its PTY
// master. It is created on "shell[,v2][:cmd]"/"exec[:cmd]" and released on
// every exit path: child exit, client close, or cancellation.
type spawnedProcess struct {
	cmd *exec.Cmd
	pty *os.File // non-nil when running under a PTY; stdout/stderr are merged

	stdin  io.WriteCloser
	stdout io.Reader
	stderr io.Reader // nil when pty != nil

	waitOnce sync.Once
	exitCode int
}

// spawn starts the requested command. When wantPTY is true a PTY is
// allocated and used for stdin/stdout (stderr is merged by construction);
// otherwise stdin/stdout/stderr are separate pipes.
func spawn(cmdline string, wantPTY bool) (*spawnedProcess, error) {
	shellPath, args := shellCommand(cmdline)
	cmd := exec.Command(shellPath, args...)

	if wantPTY {
		ptmx, err := pty.Start(cmd)
		if err != nil {
			return nil, err
		}
		return &spawnedProcess{cmd: cmd, pty: ptmx, stdin: ptmx, stdout: ptmx}, nil
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return &spawnedProcess{cmd: cmd, stdin: stdin, stdout: stdout, stderr: stderr}, nil
}

// shellCommand resolves the argv for cmdline: a login shell when empty,
// otherwise "/bin/sh -c <cmdline>", per spec.md §4.4.
func shellCommand(cmdline string) (string, []string) {
	if cmdline == "" {
		shellPath := os.Getenv("SHELL")
		if shellPath == "" {
			shellPath = "/bin/sh"
		}
		return shellPath, []string{"-l"}
	}
	return "/bin/sh", []string{"-c", cmdline}
}

// wait blocks until the child exits (if it hasn't already) and returns its
// exit code, clamped to [0, 255] with signal termination mapped to
// 128+signum, per spec.md §4.4. It is safe to call more than once.
func (p *spawnedProcess) wait() int {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()
		p.exitCode = exitCodeFromError(p.cmd.ProcessState, err)
		if p.pty != nil {
			p.pty.Close()
		}
	})
	return p.exitCode
}

func exitCodeFromError(state *os.ProcessState, err error) int {
	if state == nil {
		return 0
	}
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	code := state.ExitCode()
	if code < 0 {
		code = 0
	}
	if code > 255 {
		code = 255
	}
	return code
}

// terminate sends SIGTERM, waits up to grace for the child to exit, then
// sends SIGKILL. It always releases the PTY and pipe fds.
func (p *spawnedProcess) terminate(grace time.Duration) {
	if p.cmd.Process != nil {
		p.cmd.Process.Signal(syscall.SIGTERM)
	}

	done := make(chan struct{})
	go func() {
		p.wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		if p.cmd.Process != nil {
			p.cmd.Process.Signal(syscall.SIGKILL)
		}
		<-done
	}

	if p.pty != nil {
		p.pty.Close()
	}
	if p.stdin != nil {
		p.stdin.Close()
	}
}

// resizePTY parses a WINDOW_SIZE_CHANGE payload and applies it to the PTY,
// if one is in use. It is a no-op otherwise.
func resizePTY(proc *spawnedProcess, data []byte) {
	if proc.pty == nil {
		return
	}
	rows, cols, xpixel, ypixel, ok := parseWindowSize(data)
	if !ok {
		return
	}
	pty.Setsize(proc.pty, &pty.Winsize{
		Rows: rows,
		Cols: cols,
		X:    xpixel,
		Y:    ypixel,
	})
}
