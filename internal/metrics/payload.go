package metrics

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/skobkin/hostmon-panel/internal/policy"
)

var (
	ErrTopic         = errors.New("metrics: topic is not a sender metrics topic")
	ErrPayloadSize   = errors.New("metrics: payload size out of bounds")
	ErrSchemaVersion = errors.New("metrics: unsupported schema version")
)

// Payload is the v2 document a sender publishes. Arrays are positional:
// cpu [pct, temp], ram [pct, usedMiB, totalMiB], gpu [pct, temp, memPct,
// hotspot, memTemp], net [rxKiBps, txKiBps], disk [readKiBps, writeKiBps].
type Payload struct {
	Version int        `json:"v"`
	TS      int64      `json:"ts"`
	Host    string     `json:"h"`
	CPU     [2]float64 `json:"cpu"`
	RAM     [3]float64 `json:"ram"`
	GPU     [5]float64 `json:"gpu"`
	Net     [2]int64   `json:"net"`
	Disk    [2]int64   `json:"disk"`
}

// NewPayload returns an empty v2 payload stamped with ts.
func NewPayload(host string, ts time.Time) Payload {
	return Payload{Version: SchemaVersion, TS: ts.UnixMilli(), Host: host}
}

// Encode serializes the payload for publishing.
func (p Payload) Encode() ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

type wirePayload struct {
	Version *float64    `json:"v"`
	TS      json.Number `json:"ts"`
	CPU     []*float64  `json:"cpu"`
	RAM     []*float64  `json:"ram"`
	GPU     []*float64  `json:"gpu"`
	Net     []*float64  `json:"net"`
	Disk    []*float64  `json:"disk"`
}

// Decode validates the topic and payload and returns the sender identifier
// together with the decoded frame. Missing arrays or null elements leave the
// matching fields at zero; a missing or unknown version rejects the message.
func Decode(topic string, payload []byte) (string, Frame, error) {
	host, ok := policy.HostFromTopic(topic)
	if !ok {
		return "", Frame{}, ErrTopic
	}
	if !policy.ValidPayloadLength(len(payload)) {
		return host, Frame{}, ErrPayloadSize
	}

	var wire wirePayload
	if err := json.Unmarshal(payload, &wire); err != nil {
		return host, Frame{}, fmt.Errorf("decode payload: %w", err)
	}
	if wire.Version == nil || *wire.Version != SchemaVersion {
		return host, Frame{}, ErrSchemaVersion
	}

	frame := Frame{Version: SchemaVersion}
	if wire.TS != "" {
		if ts, err := wire.TS.Int64(); err == nil {
			frame.SenderTsMs = ts
		} else if f, err := wire.TS.Float64(); err == nil {
			frame.SenderTsMs = int64(math.Round(f))
		}
	}

	scaled(wire.CPU, 0, &frame.CPUPctX10)
	scaled(wire.CPU, 1, &frame.CPUTempCX10)

	scaled(wire.RAM, 0, &frame.RAMPctX10)
	unsigned(wire.RAM, 1, &frame.RAMUsedMB)
	unsigned(wire.RAM, 2, &frame.RAMTotalMB)

	scaled(wire.GPU, 0, &frame.GPUPctX10)
	scaled(wire.GPU, 1, &frame.GPUTempCX10)
	scaled(wire.GPU, 2, &frame.GPUMemPctX10)
	scaled(wire.GPU, 3, &frame.GPUHotspotCX10)
	scaled(wire.GPU, 4, &frame.GPUMemTempCX10)

	unsigned(wire.Net, 0, &frame.NetRxKbps)
	unsigned(wire.Net, 1, &frame.NetTxKbps)

	unsigned(wire.Disk, 0, &frame.DiskReadKBps)
	unsigned(wire.Disk, 1, &frame.DiskWriteKBps)

	return host, frame, nil
}

func scaled(values []*float64, idx int, dst *int16) {
	if idx >= len(values) || values[idx] == nil {
		return
	}
	*dst = ClampI16(ScaleX10(*values[idx]))
}

func unsigned(values []*float64, idx int, dst *uint16) {
	if idx >= len(values) || values[idx] == nil {
		return
	}
	v := *values[idx]
	if math.IsNaN(v) {
		return
	}
	switch {
	case v >= math.MaxUint16:
		*dst = math.MaxUint16
	case v <= 0:
		*dst = 0
	default:
		*dst = ClampU16(int64(math.Round(v)))
	}
}
