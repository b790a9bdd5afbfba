package gpu

import (
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

var numberRe = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// NvidiaSMIArgs query utilization, temperature and memory of every card.
var NvidiaSMIArgs = []string{
	"--query-gpu=utilization.gpu,temperature.gpu,memory.used,memory.total",
	"--format=csv,noheader,nounits",
}

// RocmSMIArgs request use, temperature and memory use as JSON.
var RocmSMIArgs = []string{"--showuse", "--showtemp", "--showmemuse", "--json"}

// ParseNumber extracts the first decimal number from raw, ignoring units and
// surrounding text.
func ParseNumber(raw string) (float64, bool) {
	match := numberRe.FindString(raw)
	if match == "" {
		return 0, false
	}
	value, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// ParseNvidiaSMI reads the first card from nvidia-smi CSV output produced
// with NvidiaSMIArgs.
func ParseNvidiaSMI(raw string) (Telemetry, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Telemetry{}, false
	}
	line, _, _ := strings.Cut(raw, "\n")
	parts := strings.Split(strings.TrimSpace(line), ",")
	if len(parts) < 4 {
		return Telemetry{}, false
	}

	values := make([]float64, 4)
	for i := range values {
		v, ok := ParseNumber(parts[i])
		if !ok {
			return Telemetry{}, false
		}
		values[i] = v
	}

	t := Telemetry{Busy: values[0], Temp: values[1]}
	if values[3] > 0 {
		t.MemPct = values[2] / values[3] * 100
	}
	return t, true
}

// ParseRocmSMI reads the first card from rocm-smi JSON output. Key names
// differ between releases, so fields are matched by name tokens.
func ParseRocmSMI(raw string) (Telemetry, bool) {
	var doc map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &doc); err != nil || len(doc) == 0 {
		return Telemetry{}, false
	}

	var card map[string]any
	for _, key := range sortedKeys(doc) {
		obj, ok := doc[key].(map[string]any)
		if ok && strings.HasPrefix(strings.ToLower(key), "card") {
			card = obj
			break
		}
	}
	if card == nil {
		return Telemetry{}, false
	}

	busy := matchKey(card, []string{"gpu"}, []string{"use", "busy", "util"})
	edge := matchKey(card, []string{"temp"}, []string{"edge"})
	junction := matchKey(card, []string{"temp"}, []string{"junction", "hotspot", "hot"})
	memTemp := matchKey(card, []string{"temp"}, []string{"memory", "mem"})
	mem := matchKey(card, []string{"vram"}, []string{"%", "alloc", "use", "used"})
	if !mem.ok {
		mem = matchKey(card, []string{"memory"}, []string{"vram", "alloc", "use", "used", "%"})
	}

	if !busy.ok && !edge.ok && !junction.ok && !mem.ok {
		return Telemetry{}, false
	}

	t := Telemetry{
		Busy:    busy.value,
		Temp:    edge.value,
		MemPct:  mem.value,
		Hotspot: junction.value,
		MemTemp: memTemp.value,
	}
	if !edge.ok {
		t.Temp = junction.value
	}
	return t, true
}

// matchKey returns the first numeric value whose lower-cased key contains
// every token of all and at least one token of anyOf.
func matchKey(values map[string]any, all, anyOf []string) reading {
	for _, key := range sortedKeys(values) {
		lower := strings.ToLower(key)
		if !containsAll(lower, all) || !containsAny(lower, anyOf) {
			continue
		}
		if v, ok := numberValue(values[key]); ok {
			return reading{value: v, ok: true}
		}
	}
	return reading{}
}

func numberValue(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case string:
		return ParseNumber(v)
	case nil:
		return 0, false
	default:
		return ParseNumber(fmt.Sprint(v))
	}
}

func containsAll(text string, tokens []string) bool {
	for _, token := range tokens {
		if !strings.Contains(text, token) {
			return false
		}
	}
	return true
}

func containsAny(text string, tokens []string) bool {
	if len(tokens) == 0 {
		return true
	}
	for _, token := range tokens {
		if strings.Contains(text, token) {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}
