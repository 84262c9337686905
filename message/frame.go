package message

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxFrameSize is the largest frame payload accepted by ReadFrame.
const MaxFrameSize = 16 * 1024 * 1024

// LogSeparator terminates every record in a session log.
const LogSeparator byte = 0x00

// ErrFrameTooLarge is returned when a frame header announces a payload larger
// than MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame too large")

// AppendFrame appends the wire frame for m to dst: a 4-byte little-endian
// payload length followed by the canonical JSON payload.
func AppendFrame(dst []byte, m Message) ([]byte, error) {
	payload, err := Marshal(m)
	if err != nil {
		return dst, err
	}

	if len(payload) > MaxFrameSize {
		return dst, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	dst = binary.LittleEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...), nil
}

// WriteFrame writes m to w as a single length-prefixed frame.
//
// Parameters:
//   - w: Destination, typically a net.Conn
//   - m: The message to send
//
// Returns:
//   - An error if encoding or writing fails
func WriteFrame(w io.Writer, m Message) error {
	frame, err := AppendFrame(nil, m)
	if err != nil {
		return err
	}

	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame %q: %w", m.Name, err)
	}

	return nil
}

// ReadFrame reads one length-prefixed frame from r and decodes it. Frames
// with a zero length carry no message and are skipped.
//
// Returns:
//   - The decoded message
//   - io.EOF if r is exhausted before a header, ErrFrameTooLarge for an
//     oversized header, or a decode error for a malformed payload. A decode
//     error leaves r positioned at the next frame.
func ReadFrame(r io.Reader) (Message, error) {
	var header [4]byte
	for {
		if _, err := io.ReadFull(r, header[:]); err != nil {
			return Message{}, err
		}

		size := binary.LittleEndian.Uint32(header[:])
		if size == 0 {
			continue
		}

		if size > MaxFrameSize {
			return Message{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
		}

		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return Message{}, err
		}

		return Unmarshal(payload)
	}
}

// AppendLogRecord appends the session log record for m to dst: the
// canonical JSON form followed by LogSeparator.
func AppendLogRecord(dst []byte, m Message) ([]byte, error) {
	payload, err := Marshal(m)
	if err != nil {
		return dst, err
	}

	dst = append(dst, payload...)
	return append(dst, LogSeparator), nil
}

// ReadLog decodes every record of a session log. A trailing record without a
// separator is decoded as well.
func ReadLog(r io.Reader) ([]Message, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), MaxFrameSize)
	scanner.Split(splitRecords)

	var out []Message
	for scanner.Scan() {
		record := scanner.Bytes()
		if len(record) == 0 {
			continue
		}

		m, err := Unmarshal(record)
		if err != nil {
			return out, fmt.Errorf("log record %d: %w", len(out), err)
		}

		out = append(out, m)
	}

	if err := scanner.Err(); err != nil {
		return out, fmt.Errorf("read log: %w", err)
	}

	return out, nil
}

func splitRecords(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}

	if i := bytes.IndexByte(data, LogSeparator); i >= 0 {
		return i + 1, data[:i], nil
	}

	if atEOF {
		return len(data), data, nil
	}

	return 0, nil, nil
}
