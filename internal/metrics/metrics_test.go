package metrics

import (
	"errors"
	"math"
	"testing"
	"time"
)

const deskTopic = "sys/agents/desk/metrics/v2"

func TestDecodeFullPayload(t *testing.T) {
	t.Parallel()

	payload := []byte(`{"v":2,"ts":1700000000123,"h":"desk","cpu":[12.34,55.5],"ram":[41.2,6500,16000],` +
		`"gpu":[97.0,70.1,33.3,88.8,90.0],"net":[1200,300],"disk":[2048,10]}`)

	host, frame, err := Decode(deskTopic, payload)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if host != "desk" {
		t.Fatalf("unexpected host %q", host)
	}

	want := Frame{
		Version:        2,
		SenderTsMs:     1700000000123,
		CPUPctX10:      123,
		CPUTempCX10:    555,
		RAMPctX10:      412,
		RAMUsedMB:      6500,
		RAMTotalMB:     16000,
		GPUPctX10:      970,
		GPUTempCX10:    701,
		GPUMemPctX10:   333,
		GPUHotspotCX10: 888,
		GPUMemTempCX10: 900,
		NetRxKbps:      1200,
		NetTxKbps:      300,
		DiskReadKBps:   2048,
		DiskWriteKBps:  10,
	}
	if frame != want {
		t.Fatalf("frame mismatch:\n got %+v\nwant %+v", frame, want)
	}
}

func TestDecodeOptionalFields(t *testing.T) {
	t.Parallel()

	_, frame, err := Decode(deskTopic, []byte(`{"v":2,"cpu":[null,40],"ram":[10]}`))
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if frame.CPUPctX10 != 0 || frame.CPUTempCX10 != 400 {
		t.Fatalf("unexpected cpu fields %+v", frame)
	}
	if frame.RAMPctX10 != 100 || frame.RAMUsedMB != 0 || frame.RAMTotalMB != 0 {
		t.Fatalf("unexpected ram fields %+v", frame)
	}
	if frame.GPUPctX10 != 0 || frame.NetRxKbps != 0 || frame.DiskWriteKBps != 0 {
		t.Fatalf("absent arrays should stay zero: %+v", frame)
	}
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()

	big := make([]byte, 1025)
	for i := range big {
		big[i] = ' '
	}

	cases := []struct {
		name    string
		topic   string
		payload []byte
		wantErr error
	}{
		{"bad topic", "sys/agents/+/metrics/v2", []byte(`{"v":2}`), ErrTopic},
		{"empty payload", deskTopic, nil, ErrPayloadSize},
		{"oversized payload", deskTopic, big, ErrPayloadSize},
		{"missing version", deskTopic, []byte(`{"cpu":[1,2]}`), ErrSchemaVersion},
		{"old version", deskTopic, []byte(`{"v":1}`), ErrSchemaVersion},
		{"newer version", deskTopic, []byte(`{"v":3}`), ErrSchemaVersion},
	}

	for _, tc := range cases {
		if _, _, err := Decode(tc.topic, tc.payload); !errors.Is(err, tc.wantErr) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.wantErr, err)
		}
	}

	if _, _, err := Decode(deskTopic, []byte(`{"v":2,`)); err == nil {
		t.Fatalf("expected error for truncated json")
	}
}

func TestDecodeClampsRanges(t *testing.T) {
	t.Parallel()

	_, frame, err := Decode(deskTopic, []byte(`{"v":2,"cpu":[99999,-99999],"net":[-5,123456]}`))
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if frame.CPUPctX10 != math.MaxInt16 || frame.CPUTempCX10 != math.MinInt16 {
		t.Fatalf("int16 clamping failed: %+v", frame)
	}
	if frame.NetRxKbps != 0 || frame.NetTxKbps != math.MaxUint16 {
		t.Fatalf("uint16 clamping failed: %+v", frame)
	}
}

func TestPayloadRoundTripThroughDecoder(t *testing.T) {
	t.Parallel()

	p := NewPayload("desk", time.UnixMilli(42))
	p.CPU = [2]float64{25.5, 61}
	p.Net = [2]int64{10, 20}

	data, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode returned error: %v", err)
	}
	_, frame, err := Decode(deskTopic, data)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if frame.SenderTsMs != 42 || frame.CPUPctX10 != 255 || frame.CPUTempCX10 != 610 || frame.NetTxKbps != 20 {
		t.Fatalf("unexpected frame %+v", frame)
	}
}

func TestFrameDiff(t *testing.T) {
	t.Parallel()

	a := Frame{CPUPctX10: 100, RAMUsedMB: 10, NetRxKbps: 5, SenderTsMs: 1}

	if got := a.Diff(a); got != DirtyNone {
		t.Fatalf("identical frames should not be dirty, got %s", got)
	}

	b := a
	b.SenderTsMs = 99
	if got := b.Diff(a); got != DirtyNone {
		t.Fatalf("timestamp change should not be dirty, got %s", got)
	}

	c := a
	c.CPUPctX10 = 101
	if got := c.Diff(a); got != DirtyCPU {
		t.Fatalf("expected cpu only, got %s", got)
	}

	d := a
	d.GPUMemTempCX10 = 1
	d.DiskWriteKBps = 7
	if got := d.Diff(a); got != DirtyGPU|DirtyDisk {
		t.Fatalf("expected gpu|disk, got %s", got)
	}
}

func TestDirtyMaskString(t *testing.T) {
	t.Parallel()

	if DirtyNone.String() != "none" || DirtyAll.String() != "all" {
		t.Fatalf("unexpected special names")
	}
	if got := (DirtyCPU | DirtyOnline).String(); got != "cpu|online" {
		t.Fatalf("unexpected mask string %q", got)
	}
	m := DirtyRAM | DirtyNet
	if !m.RAM() || !m.Net() || m.CPU() || m.Online() || m.Empty() {
		t.Fatalf("accessors disagree with bits for %s", m)
	}
}

func TestRounding(t *testing.T) {
	t.Parallel()

	if RoundedPercent(994) != 99 || RoundedPercent(995) != 100 || RoundedPercent(4) != 0 {
		t.Fatalf("percent rounding wrong")
	}
	if RoundedTempC(-15) != -2 {
		t.Fatalf("negative temperature rounding wrong: %d", RoundedTempC(-15))
	}
	if KbpsToMbps(1536) != 1.5 {
		t.Fatalf("unexpected Mbps conversion %v", KbpsToMbps(1536))
	}
}
