// Package framecodec implements the wire encodings used by the smart-socket
// server: the 4-hex-digit length-prefixed request/response framing, the
// binary sync sub-protocol frames, and the shell protocol v2 packets.
package framecodec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxRequestLen is the largest payload a smart-socket request may carry, per
// the 4-hex-digit length prefix.
const MaxRequestLen = 0xffff

// MaxSyncDataLen is the largest payload a single sync DATA frame may carry.
const MaxSyncDataLen = 64 * 1024

// ErrOversize is returned by ReadSyncFrame when the frame's declared length
// exceeds MaxSyncDataLen.
var ErrOversize = errors.New("framecodec: oversize sync frame")

// ErrMalformedLength is returned by ReadRequest when the length prefix is not
// four ASCII hex digits.
var ErrMalformedLength = errors.New("framecodec: malformed length")

// ReadRequest reads one smart-socket request: a 4-hex-digit big-endian length
// prefix followed by that many bytes of UTF-8 payload.
func ReadRequest(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	n, err := parseHexLen(hdr[:])
	if err != nil {
		return nil, ErrMalformedLength
	}
	buf := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func parseHexLen(b []byte) (int, error) {
	var n int
	for _, c := range b {
		n <<= 4
		switch {
		case c >= '0' && c <= '9':
			n |= int(c - '0')
		case c >= 'a' && c <= 'f':
			n |= int(c-'a') + 10
		case c >= 'A' && c <= 'F':
			n |= int(c-'A') + 10
		default:
			return 0, fmt.Errorf("framecodec: invalid hex digit %q", c)
		}
	}
	return n, nil
}

// WriteOkay writes the bare OKAY acceptance atom.
func WriteOkay(w io.Writer) error {
	_, err := w.Write([]byte("OKAY"))
	return err
}

// WriteFail writes a FAIL atom followed by the 4-hex-digit length of msg and
// msg itself.
func WriteFail(w io.Writer, msg string) error {
	if len(msg) > MaxRequestLen {
		msg = msg[:MaxRequestLen]
	}
	buf := make([]byte, 0, 8+len(msg))
	buf = append(buf, "FAIL"...)
	buf = appendHexLen(buf, len(msg))
	buf = append(buf, msg...)
	_, err := w.Write(buf)
	return err
}

func appendHexLen(buf []byte, n int) []byte {
	const digits = "0123456789abcdef"
	return append(buf,
		digits[(n>>12)&0xf],
		digits[(n>>8)&0xf],
		digits[(n>>4)&0xf],
		digits[n&0xf],
	)
}

// SyncFrameIDLen is the byte length of a sync frame's ID field.
const SyncFrameIDLen = 4

// ReadSyncFrameHeader reads a sync sub-protocol frame's 4-ASCII-byte ID and
// raw little-endian u32 length field, without assuming the length names a
// payload size that follows on the wire. Most frame kinds (LIST/STAT/RECV/
// SEND/DATA/QUIT) do carry length bytes of payload after this header, but
// DONE packs a value (the SEND mtime) directly into the length field with
// no payload at all, exactly as the real sync protocol encodes it. Callers
// that know which shape to expect should use ReadSyncFrame (payload-
// carrying frames) or read length directly (DONE).
func ReadSyncFrameHeader(r io.Reader) (id string, length uint32, err error) {
	var hdr [8]byte
	if _, err = io.ReadFull(r, hdr[:]); err != nil {
		return "", 0, err
	}
	return string(hdr[:4]), binary.LittleEndian.Uint32(hdr[4:]), nil
}

// ReadSyncPayload reads the length-byte payload following a header already
// read via ReadSyncFrameHeader, for frame kinds where length is a genuine
// payload size.
func ReadSyncPayload(r io.Reader, length uint32) ([]byte, error) {
	if length > MaxSyncDataLen {
		return nil, ErrOversize
	}
	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
	}
	return payload, nil
}

// ReadSyncFrame reads one payload-carrying sync sub-protocol frame: a
// 4-ASCII-byte ID, a little-endian u32 length, then that many bytes of
// payload. It is not suitable for DONE frames, whose length field carries a
// raw value (the SEND mtime) rather than a payload size; use
// ReadSyncFrameHeader for those.
func ReadSyncFrame(r io.Reader) (id string, payload []byte, err error) {
	id, length, err := ReadSyncFrameHeader(r)
	if err != nil {
		return "", nil, err
	}
	payload, err = ReadSyncPayload(r, length)
	if err != nil {
		return id, nil, err
	}
	return id, payload, nil
}

// WriteSyncFrame writes one payload-carrying sync sub-protocol frame.
func WriteSyncFrame(w io.Writer, id string, payload []byte) error {
	if len(id) != 4 {
		return fmt.Errorf("framecodec: sync frame id %q must be 4 bytes", id)
	}
	hdr := make([]byte, 8, 8+len(payload))
	copy(hdr, id)
	binary.LittleEndian.PutUint32(hdr[4:], uint32(len(payload)))
	if _, err := w.Write(append(hdr, payload...)); err != nil {
		return err
	}
	return nil
}

// WriteSyncDone writes a SEND DONE frame, packing mtime directly into the
// length field with no payload, matching the real sync protocol's wire
// format.
func WriteSyncDone(w io.Writer, mtime uint32) error {
	hdr := make([]byte, 8)
	copy(hdr, "DONE")
	binary.LittleEndian.PutUint32(hdr[4:], mtime)
	_, err := w.Write(hdr)
	return err
}

// Packet IDs for the shell protocol v2 framing.
const (
	PacketStdin           = 0
	PacketStdout          = 1
	PacketStderr          = 2
	PacketExit            = 3
	PacketCloseStdin      = 4
	PacketWindowSizeChange = 5
)

// ReadPacket reads one shell protocol v2 packet: a 1-byte ID, a
// little-endian u32 length, then that many bytes of data.
func ReadPacket(r io.Reader) (id byte, data []byte, err error) {
	var hdr [5]byte
	if _, err = io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	id = hdr[0]
	n := binary.LittleEndian.Uint32(hdr[1:])
	data = make([]byte, n)
	if n > 0 {
		if _, err = io.ReadFull(r, data); err != nil {
			return id, nil, err
		}
	}
	return id, data, nil
}

// WritePacket writes one shell protocol v2 packet and flushes w if it
// supports flushing, bounding the latency of interactive sessions.
func WritePacket(w io.Writer, id byte, data []byte) error {
	hdr := make([]byte, 5, 5+len(data))
	hdr[0] = id
	binary.LittleEndian.PutUint32(hdr[1:], uint32(len(data)))
	if _, err := w.Write(append(hdr, data...)); err != nil {
		return err
	}
	return Flush(w)
}

// Flush flushes w if it implements an interface with a Flush() error method
// (e.g. *bufio.Writer), otherwise it is a no-op.
func Flush(w io.Writer) error {
	if f, ok := w.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}
