// Package sync implements the binary sync sub-protocol entered via the
// "sync:" service string: LIST/STAT/RECV/SEND/QUIT requests answered with
// DENT/STAT/DATA/DONE/OKAY/FAIL frames, over an AbstractFileSystem.
package sync

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/adbd-go/adbd/internal/fs"
	"github.com/adbd-go/adbd/internal/framecodec"
	"github.com/adbd-go/adbd/internal/metricsx"
	"github.com/adbd-go/adbd/internal/router"
	"github.com/adbd-go/adbd/internal/session"
)

// maxPathLen is the longest path the sync protocol will accept in a
// LIST/STAT/RECV/SEND request, per spec.md §4.5.
const maxPathLen = 1024

// Service implements the sync sub-protocol loop over an AbstractFileSystem.
type Service struct {
	FS      fs.AbstractFileSystem
	Metrics *metricsx.Metrics
}

// Routes enrolls the "sync:" entry point.
func (s *Service) Routes() map[string]router.Handler {
	return map[string]router.Handler{
		"sync:": s.handleSync,
	}
}

func (s *Service) handleSync(ctx context.Context) (router.Response, error) {
	sess := session.Current(ctx)
	w := sess.Writer()

	if err := framecodec.WriteOkay(w); err != nil {
		return router.Response{}, err
	}
	if err := s.serve(ctx, sess); err != nil && !errors.Is(err, io.EOF) {
		sess.Logger().Debug().Err(err).Msg("sync session ended")
	}
	return router.Taken(), nil
}

// serve runs the request/response loop until QUIT, EOF, or a framing-fatal
// error.
func (s *Service) serve(ctx context.Context, sess *session.Session) error {
	r, w := sess.Reader(), sess.Writer()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		id, payload, err := framecodec.ReadSyncFrame(r)
		if err != nil {
			if errors.Is(err, framecodec.ErrOversize) {
				framecodec.WriteSyncFrame(w, "FAIL", []byte("oversize"))
				return err
			}
			return err
		}
		s.Metrics.SyncOperation(id)

		switch id {
		case "LIST":
			if err := s.handleList(w, string(payload)); err != nil {
				return err
			}
		case "STAT":
			if err := s.handleStat(w, string(payload)); err != nil {
				return err
			}
		case "RECV":
			if err := s.handleRecv(w, string(payload)); err != nil {
				return err
			}
		case "SEND":
			if err := s.handleSend(r, w, string(payload)); err != nil {
				return err
			}
		case "QUIT":
			return nil
		default:
			framecodec.WriteSyncFrame(w, "FAIL", []byte("unknown sync id"))
			return fmt.Errorf("sync: unknown frame id %q", id)
		}
	}
}

func (s *Service) checkPath(w io.Writer, path string) bool {
	if len(path) > maxPathLen {
		framecodec.WriteSyncFrame(w, "FAIL", []byte("path too long"))
		return false
	}
	return true
}

func (s *Service) handleList(w io.Writer, path string) error {
	if !s.checkPath(w, path) {
		return nil
	}
	ents, err := s.FS.Iterdir(path)
	if err != nil {
		return framecodec.WriteSyncFrame(w, "FAIL", []byte(err.Error()))
	}
	for _, e := range ents {
		if err := writeDent(w, e); err != nil {
			return err
		}
	}
	return framecodec.WriteSyncFrame(w, "DONE", nil)
}

func writeDent(w io.Writer, e fs.Dirent) error {
	name := []byte(e.Name)
	buf := make([]byte, 16+len(name))
	binary.LittleEndian.PutUint32(buf[0:], e.Mode)
	binary.LittleEndian.PutUint32(buf[4:], e.Size)
	binary.LittleEndian.PutUint32(buf[8:], e.Mtime)
	binary.LittleEndian.PutUint32(buf[12:], uint32(len(name)))
	copy(buf[16:], name)
	return framecodec.WriteSyncFrame(w, "DENT", buf)
}

func (s *Service) handleStat(w io.Writer, path string) error {
	if !s.checkPath(w, path) {
		return nil
	}
	st, err := s.FS.Stat(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return framecodec.WriteSyncFrame(w, "FAIL", []byte(err.Error()))
	}
	// missing paths report zeroed stats, per spec.md §4.5.
	buf := make([]byte, 12)
	binary.LittleEndian.PutUint32(buf[0:], st.Mode)
	binary.LittleEndian.PutUint32(buf[4:], st.Size)
	binary.LittleEndian.PutUint32(buf[8:], st.Mtime)
	return framecodec.WriteSyncFrame(w, "STAT", buf)
}

func (s *Service) handleRecv(w io.Writer, path string) error {
	if !s.checkPath(w, path) {
		return nil
	}
	f, err := s.FS.OpenForRead(path)
	if err != nil {
		return framecodec.WriteSyncFrame(w, "FAIL", []byte(err.Error()))
	}
	defer f.Close()

	chunk := make([]byte, framecodec.MaxSyncDataLen)
	for {
		n, err := f.Read(chunk)
		if n > 0 {
			if werr := framecodec.WriteSyncFrame(w, "DATA", chunk[:n]); werr != nil {
				return werr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return framecodec.WriteSyncFrame(w, "FAIL", []byte(err.Error()))
		}
	}
	return framecodec.WriteSyncFrame(w, "DONE", nil)
}

func (s *Service) handleSend(r io.Reader, w io.Writer, payload string) error {
	path, modeStr, ok := strings.Cut(payload, ",")
	if !ok {
		return framecodec.WriteSyncFrame(w, "FAIL", []byte("malformed SEND path"))
	}
	if !s.checkPath(w, path) {
		return nil
	}
	mode, err := strconv.ParseUint(modeStr, 10, 32)
	if err != nil {
		return framecodec.WriteSyncFrame(w, "FAIL", []byte("malformed SEND mode"))
	}

	f, err := s.FS.OpenForWrite(path, uint32(mode))
	if err != nil {
		return framecodec.WriteSyncFrame(w, "FAIL", []byte(err.Error()))
	}

	for {
		id, length, err := framecodec.ReadSyncFrameHeader(r)
		if err != nil {
			f.Close()
			return err
		}
		switch id {
		case "DATA":
			data, err := framecodec.ReadSyncPayload(r, length)
			if err != nil {
				f.Close()
				if errors.Is(err, framecodec.ErrOversize) {
					return framecodec.WriteSyncFrame(w, "FAIL", []byte("oversize"))
				}
				return err
			}
			if _, err := f.Write(data); err != nil {
				f.Close()
				return framecodec.WriteSyncFrame(w, "FAIL", []byte(err.Error()))
			}
		case "DONE":
			// DONE packs the mtime directly into the length field; there is
			// no payload to read, per spec.md §4.5.
			f.Close()
			if err := s.FS.SetMtime(path, length); err != nil {
				return framecodec.WriteSyncFrame(w, "FAIL", []byte(err.Error()))
			}
			return framecodec.WriteSyncFrame(w, "OKAY", nil)
		default:
			f.Close()
			return framecodec.WriteSyncFrame(w, "FAIL", []byte("protocol error"))
		}
	}
}

