// Package shell implements the four ADB shell execution modes: raw and
// protocol-v2 framing, each interactive or non-interactive, per spec.md
// §4.4. The platform-specific process/PTY lifecycle lives in
// process_unix.go and process_other.go; this file holds the shared pump
// logic and packet framing.
package shell

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adbd-go/adbd/internal/framecodec"
	"github.com/adbd-go/adbd/internal/metricsx"
	"github.com/adbd-go/adbd/internal/router"
	"github.com/adbd-go/adbd/internal/session"
)

// chunkSize bounds how many bytes of stdout/stderr are framed into a single
// shell-v2 packet, per spec.md §4.4.
const chunkSize = 4096

// killGrace is how long a terminated child is given to exit after SIGTERM
// before SIGKILL is sent, per spec.md §4.4/§5.
const killGrace = 2 * time.Second

// Service implements the four shell execution modes.
type Service struct {
	Metrics *metricsx.Metrics
}

// Routes enrolls shell:, shell,v2:, and exec: in both their bare
// (interactive) and <cmd> (non-interactive) forms.
func (s *Service) Routes() map[string]router.Handler {
	return map[string]router.Handler{
		"shell:<cmd>":    s.makeHandler(mode{interactive: false, protocol: false}),
		"shell:":         s.makeHandler(mode{interactive: true, protocol: false}),
		"shell,v2:<cmd>": s.makeHandler(mode{interactive: false, protocol: true}),
		"shell,v2:":      s.makeHandler(mode{interactive: true, protocol: true}),
		"exec:<cmd>":     s.makeHandler(mode{interactive: false, protocol: false}),
		"exec:":          s.makeHandler(mode{interactive: true, protocol: false}),
	}
}

type mode struct {
	interactive bool
	protocol    bool
}

func (m mode) name() string {
	switch {
	case m.protocol && m.interactive:
		return "shell-v2-interactive"
	case m.protocol:
		return "shell-v2"
	case m.interactive:
		return "shell-interactive"
	default:
		return "shell"
	}
}

func (s *Service) makeHandler(m mode) router.Handler {
	return func(ctx context.Context) (router.Response, error) {
		cmdline := router.Arg(ctx, "cmd")
		sess := session.Current(ctx)
		s.Metrics.ShellSessionStarted(m.name())

		proc, err := spawn(cmdline, m.interactive)
		if err != nil {
			return router.Fail("command execution failed: " + err.Error()), nil
		}

		w := sess.Writer()
		if err := framecodec.WriteOkay(w); err != nil {
			killProcess(proc)
			return router.Response{}, err
		}

		if m.interactive {
			runInteractive(sess.Context(), proc, sess.Reader(), w, m.protocol)
		} else {
			runNonInteractive(proc, w, m.protocol)
		}
		return router.Taken(), nil
	}
}

// runNonInteractive drains the child's output until both streams reach EOF,
// then waits for the child. Disposition is CLOSE: the caller returns Taken
// only because OKAY was already written by makeHandler; no further protocol
// state is needed once this returns.
func runNonInteractive(proc *spawnedProcess, w io.Writer, protocol bool) {
	defer proc.wait()

	if !protocol {
		copyMerged(w, proc)
		return
	}

	var mu sync.Mutex
	var g errgroup.Group
	g.Go(func() error { return pumpFramed(w, &mu, proc.stdout, framecodec.PacketStdout) })
	if proc.stderr != nil {
		g.Go(func() error { return pumpFramed(w, &mu, proc.stderr, framecodec.PacketStderr) })
	}
	g.Wait()

	code := proc.wait()
	mu.Lock()
	framecodec.WritePacket(w, framecodec.PacketExit, []byte{byte(code)})
	mu.Unlock()
}

// copyMerged copies stdout (and stderr, if the child has a separate stderr
// pipe, i.e. no PTY) to w until both reach EOF.
func copyMerged(w io.Writer, proc *spawnedProcess) {
	var mu sync.Mutex
	var g errgroup.Group
	g.Go(func() error { return copyLocked(w, &mu, proc.stdout) })
	if proc.stderr != nil {
		g.Go(func() error { return copyLocked(w, &mu, proc.stderr) })
	}
	g.Wait()
}

func copyLocked(w io.Writer, mu *sync.Mutex, r io.Reader) error {
	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			mu.Lock()
			_, werr := w.Write(buf[:n])
			mu.Unlock()
			if werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func pumpFramed(w io.Writer, mu *sync.Mutex, r io.Reader, packetID byte) error {
	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			mu.Lock()
			werr := framecodec.WritePacket(w, packetID, buf[:n])
			mu.Unlock()
			if werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// runInteractive multiplexes client<->child over the connection until the
// child exits or the client half-closes, per spec.md §3. The two
// directions run as independent tasks, each owning an exclusive half of the
// connection, so a stalled consumer on one side can't starve the other
// (spec.md §5). The client->child pump only unblocks on a read from the
// connection, so when the child exits on its own a read deadline is forced
// on that connection to release it; isChildExitedReadStop then tells a
// resulting read error apart from a genuine I/O failure.
func runInteractive(ctx context.Context, proc *spawnedProcess, r io.Reader, w io.Writer, protocol bool) {
	done := make(chan struct{})
	defer close(done)

	childDone := make(chan struct{})
	go func() {
		proc.wait()
		close(childDone)
	}()

	go func() {
		select {
		case <-ctx.Done():
			killProcess(proc)
		case <-childDone:
		case <-done:
		}
	}()

	if dl, ok := r.(interface{ SetReadDeadline(time.Time) error }); ok {
		go func() {
			select {
			case <-childDone:
				dl.SetReadDeadline(time.Now())
			case <-done:
			}
		}()
	}

	var mu sync.Mutex
	var g errgroup.Group

	g.Go(func() error {
		var err error
		if protocol {
			err = pumpClientToChildV2(r, proc)
		} else {
			_, err = io.Copy(proc.stdin, r)
			proc.stdin.Close()
		}
		if isChildExitedReadStop(err, childDone) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		if protocol {
			return pumpChildToClientV2(w, &mu, proc)
		}
		return copyLocked(w, &mu, proc.stdout)
	})

	g.Wait()
	code := proc.wait()

	if protocol {
		mu.Lock()
		framecodec.WritePacket(w, framecodec.PacketExit, []byte{byte(code)})
		mu.Unlock()
	}
}

// isChildExitedReadStop reports whether err from the client->child pump is
// an expected shutdown rather than a genuine I/O failure: either a plain
// EOF (the client closed its half), or any error surfacing after the child
// has already exited (the forced read deadline unblocking a pending read).
func isChildExitedReadStop(err error, childDone <-chan struct{}) bool {
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	select {
	case <-childDone:
		return true
	default:
		return false
	}
}

func pumpClientToChildV2(r io.Reader, proc *spawnedProcess) error {
	for {
		id, data, err := framecodec.ReadPacket(r)
		if err != nil {
			proc.stdin.Close()
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		switch id {
		case framecodec.PacketStdin:
			if _, err := proc.stdin.Write(data); err != nil {
				return err
			}
		case framecodec.PacketCloseStdin:
			proc.stdin.Close()
		case framecodec.PacketWindowSizeChange:
			resizePTY(proc, data)
		default:
			// unknown control IDs are ignored, per spec.md §4.4.
		}
	}
}

func pumpChildToClientV2(w io.Writer, mu *sync.Mutex, proc *spawnedProcess) error {
	var g errgroup.Group
	g.Go(func() error { return pumpFramed(w, mu, proc.stdout, framecodec.PacketStdout) })
	if proc.stderr != nil {
		g.Go(func() error { return pumpFramed(w, mu, proc.stderr, framecodec.PacketStderr) })
	}
	return g.Wait()
}

// parseWindowSize parses the ASCII "rows cols xpixel ypixel" payload of a
// WINDOW_SIZE_CHANGE packet.
func parseWindowSize(data []byte) (rows, cols, xpixel, ypixel uint16, ok bool) {
	fields := bytes.Fields(data)
	if len(fields) != 4 {
		return 0, 0, 0, 0, false
	}
	vals := make([]uint16, 4)
	for i, f := range fields {
		v, err := parseUint16(f)
		if err != nil {
			return 0, 0, 0, 0, false
		}
		vals[i] = v
	}
	return vals[0], vals[1], vals[2], vals[3], true
}

func parseUint16(b []byte) (uint16, error) {
	var n uint64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0, errors.New("shell: invalid window size digit")
		}
		n = n*10 + uint64(c-'0')
		if n > 0xffff {
			return 0, errors.New("shell: window size out of range")
		}
	}
	return uint16(n), nil
}

func killProcess(proc *spawnedProcess) {
	proc.terminate(killGrace)
}
