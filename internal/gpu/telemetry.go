package gpu

import (
	"io/fs"
	"math"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Telemetry is one GPU reading. Percentages are 0-100 and temperatures are
// degrees Celsius; zero means the value is unavailable.
type Telemetry struct {
	Busy    float64 `json:"busy"`
	Temp    float64 `json:"temp"`
	MemPct  float64 `json:"mem_pct"`
	Hotspot float64 `json:"hotspot"`
	MemTemp float64 `json:"mem_temp"`
}

// Better reports whether t describes a more active card than other. Cards
// are compared by busy, then memory use, then hotspot, edge and memory
// temperature.
func (t Telemetry) Better(other Telemetry) bool {
	if (t.Busy > 0) != (other.Busy > 0) {
		return t.Busy > 0
	}
	if t.Busy != other.Busy {
		return t.Busy > other.Busy
	}
	if (t.MemPct > 0) != (other.MemPct > 0) {
		return t.MemPct > 0
	}
	if t.MemPct != other.MemPct {
		return t.MemPct > other.MemPct
	}
	if t.Hotspot != other.Hotspot {
		return t.Hotspot > other.Hotspot
	}
	if t.Temp != other.Temp {
		return t.Temp > other.Temp
	}
	return t.MemTemp > other.MemTemp
}

type reading struct {
	value float64
	ok    bool
}

// ReadSysfs returns the telemetry of the most active card under
// root/class/drm.
func ReadSysfs(root string) (Telemetry, bool) {
	sysRoot, err := os.OpenRoot(root)
	if err != nil {
		return Telemetry{}, false
	}
	defer sysRoot.Close()

	names, err := cardNames(sysRoot)
	if err != nil {
		return Telemetry{}, false
	}

	var (
		best  Telemetry
		found bool
	)
	for _, name := range names {
		deviceRoot, err := sysRoot.OpenRoot(filepath.Join(drmClassPath, name, "device"))
		if err != nil {
			continue
		}
		t, ok := readCardTelemetry(deviceRoot)
		_ = deviceRoot.Close()
		if ok && (!found || t.Better(best)) {
			best = t
			found = true
		}
	}
	return best, found
}

func readCardTelemetry(dev *os.Root) (Telemetry, bool) {
	busy := firstReading(dev, "gpu_busy_percent", "gt_busy_percent")
	mem := vramPercent(dev)
	if !mem.ok {
		mem = firstReading(dev, "mem_busy_percent")
	}
	edge, junction, memTemp := readTemps(dev)

	if !busy.ok && !mem.ok && !edge.ok && !junction.ok && !memTemp.ok {
		return Telemetry{}, false
	}

	t := Telemetry{
		Busy:    busy.value,
		MemPct:  mem.value,
		Hotspot: junction.value,
		MemTemp: memTemp.value,
		Temp:    edge.value,
	}
	if !edge.ok {
		t.Temp = junction.value
	}
	return t, true
}

func vramPercent(dev *os.Root) reading {
	used := readNumber(dev, "mem_info_vram_used")
	total := readNumber(dev, "mem_info_vram_total")
	if !used.ok || !total.ok || total.value <= 0 {
		return reading{}
	}
	return reading{value: used.value / total.value * 100, ok: true}
}

// readTemps sorts the hwmon temperature inputs into edge, junction and
// memory by label. Unlabelled inputs fill the first free slot in that order.
func readTemps(dev *os.Root) (edge, junction, mem reading) {
	hwmons, err := fs.ReadDir(dev.FS(), "hwmon")
	if err != nil {
		return
	}

	for _, hw := range hwmons {
		inputs, err := fs.Glob(dev.FS(), path.Join("hwmon", hw.Name(), "temp*_input"))
		if err != nil {
			continue
		}
		for _, input := range inputs {
			raw := readNumber(dev, input)
			if !raw.ok {
				continue
			}
			value := reading{value: normalizeTemp(raw.value), ok: true}

			label, _ := readTrim(dev, strings.TrimSuffix(input, "_input")+"_label")
			label = strings.ToLower(label)

			switch {
			case strings.Contains(label, "junction") || strings.Contains(label, "hotspot") || label == "hot":
				if !junction.ok {
					junction = value
				}
			case strings.Contains(label, "edge"):
				if !edge.ok {
					edge = value
				}
			case strings.Contains(label, "mem"):
				if !mem.ok {
					mem = value
				}
			case !edge.ok:
				edge = value
			case !junction.ok:
				junction = value
			case !mem.ok:
				mem = value
			}
		}
	}
	return
}

func firstReading(dev *os.Root, names ...string) reading {
	for _, name := range names {
		if r := readNumber(dev, name); r.ok {
			return r
		}
	}
	return reading{}
}

func readNumber(dev *os.Root, name string) reading {
	data, err := dev.ReadFile(name)
	if err != nil {
		return reading{}
	}
	value, ok := ParseNumber(string(data))
	return reading{value: value, ok: ok}
}

// normalizeTemp converts hwmon millidegrees to degrees. Values below 200
// are taken to be degrees already.
func normalizeTemp(raw float64) float64 {
	if math.Abs(raw) >= 200 {
		return raw / 1000
	}
	return raw
}
