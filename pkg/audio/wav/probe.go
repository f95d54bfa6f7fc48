package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/riff"
)

// Info describes the container metadata of a WAV byte stream as found by
// walking its RIFF chunk list.
type Info struct {
	FormatTag     uint16
	Channels      int
	SampleRate    int
	BitsPerSample int

	// DataSize is the size declared by the "data" chunk header. It may be
	// larger than the bytes actually present in a truncated stream.
	DataSize int

	// Canonical reports whether the stream uses the exact 44-byte layout
	// that [Decode] assumes ("fmt " immediately followed by "data").
	Canonical bool
}

// ErrNotWAV is returned by [Probe] when the input is not a RIFF/WAVE stream.
var ErrNotWAV = errors.New("wav: not a RIFF/WAVE stream")

// Probe inspects the RIFF chunk list of b and reports its format. Unlike
// [Decode] it does not assume a fixed header layout, so it can explain why a
// payload decoded to nil or to garbage. It is diagnostic only.
func Probe(b []byte) (Info, error) {
	r := bytes.NewReader(b)
	p := riff.New(r)

	id, _, err := p.IDnSize()
	if err != nil {
		return Info{}, fmt.Errorf("wav: read riff header: %w", err)
	}
	if id != riff.RiffID {
		return Info{}, ErrNotWAV
	}
	if err := binary.Read(r, binary.BigEndian, &p.Format); err != nil {
		return Info{}, fmt.Errorf("wav: read riff format: %w", err)
	}
	if p.Format != riff.WavFormatID {
		return Info{}, ErrNotWAV
	}

	var (
		info     Info
		foundFmt bool
		index    int
	)
	for {
		ch, err := p.NextChunk()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			break
		}
		if err != nil {
			return Info{}, fmt.Errorf("wav: read chunk: %w", err)
		}

		switch ch.ID {
		case riff.FmtID:
			if err := readFmt(ch, &info); err != nil {
				return Info{}, err
			}
			foundFmt = true
			ch.Drain()
		case riff.DataFormatID:
			if !foundFmt {
				return Info{}, errors.New("wav: data chunk before fmt chunk")
			}
			info.DataSize = ch.Size
			info.Canonical = index == 1 && len(b)-int(r.Len()) == HeaderSize
			return info, nil
		default:
			ch.Drain()
		}
		index++
	}
	if !foundFmt {
		return Info{}, errors.New("wav: missing fmt chunk")
	}
	return Info{}, errors.New("wav: missing data chunk")
}

// readFmt reads the PCM fields of a "fmt " chunk into info.
func readFmt(ch *riff.Chunk, info *Info) error {
	var (
		formatTag      uint16
		channels       uint16
		sampleRate     uint32
		avgBytesPerSec uint32
		blockAlign     uint16
		bitsPerSample  uint16
	)
	for _, f := range []any{&formatTag, &channels, &sampleRate, &avgBytesPerSec, &blockAlign, &bitsPerSample} {
		if err := ch.ReadLE(f); err != nil {
			return fmt.Errorf("wav: read fmt chunk: %w", err)
		}
	}
	info.FormatTag = formatTag
	info.Channels = int(channels)
	info.SampleRate = int(sampleRate)
	info.BitsPerSample = int(bitsPerSample)
	return nil
}
