package bridge

import (
	"github.com/MrWong99/tutorlink/internal/selection"
	"github.com/MrWong99/tutorlink/pkg/audio/wav"
)

// Client → server frame types.
const (
	TypeSelect      = "select"
	TypeDeselect    = "deselect"
	TypeRecordStart = "record_start"
	TypeRecordStop  = "record_stop"
	TypeAsk         = "ask"
	TypeProbe       = "probe"
)

// Server → client frame types.
const (
	TypePanel   = "panel"
	TypeStatus  = "status"
	TypePlay    = "play"
	TypeError   = "error"
	TypeWAVInfo = "wav_info"
)

// clientFrame is the union of every text frame the front end sends.
type clientFrame struct {
	Type       string `json:"type"`
	Part       string `json:"part,omitempty"`
	Audio      string `json:"audio,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
}

type panelFrame struct {
	Type string `json:"type"`
	selection.PanelState
}

type statusFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type playFrame struct {
	Type       string `json:"type"`
	Audio      string `json:"audio"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	DurationMS int64  `json:"duration_ms"`
}

type errorFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type wavInfoFrame struct {
	Type          string `json:"type"`
	FormatTag     uint16 `json:"format_tag"`
	Channels      int    `json:"channels"`
	SampleRate    int    `json:"sample_rate"`
	BitsPerSample int    `json:"bits_per_sample"`
	DataSize      int    `json:"data_size"`
	Canonical     bool   `json:"canonical"`
}

func newWAVInfoFrame(info wav.Info) wavInfoFrame {
	return wavInfoFrame{
		Type:          TypeWAVInfo,
		FormatTag:     info.FormatTag,
		Channels:      info.Channels,
		SampleRate:    info.SampleRate,
		BitsPerSample: info.BitsPerSample,
		DataSize:      info.DataSize,
		Canonical:     info.Canonical,
	}
}
