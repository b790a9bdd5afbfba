package panel

import (
	"fmt"
	"time"

	"github.com/skobkin/hostmon-panel/internal/api"
	"github.com/skobkin/hostmon-panel/internal/display"
	"github.com/skobkin/hostmon-panel/internal/metrics"
	"github.com/skobkin/hostmon-panel/internal/settings"
)

type rowSpec struct {
	bit   metrics.DirtyMask
	key   string
	build func(f metrics.Frame, th settings.Thresholds) api.Row
}

// deviceRows lists the metric rows in screen order.
var deviceRows = []rowSpec{
	{bit: metrics.DirtyCPU, key: "cpu", build: cpuRow},
	{bit: metrics.DirtyRAM, key: "ram", build: ramRow},
	{bit: metrics.DirtyGPU, key: "gpu", build: gpuRow},
	{bit: metrics.DirtyNet, key: "net", build: netRow},
	{bit: metrics.DirtyDisk, key: "disk", build: diskRow},
}

func cpuRow(f metrics.Frame, th settings.Thresholds) api.Row {
	pct := metrics.RoundedPercent(f.CPUPctX10)
	row := api.Row{
		Key:   "cpu",
		Label: "CPU",
		Value: fmt.Sprintf("%d%%", pct),
		Level: display.Classify(pct, th.CPUWarn, th.CPUCrit).String(),
	}
	row.Extra, row.ExtraLevel = tempCell(f.CPUTempCX10, th)
	return row
}

func ramRow(f metrics.Frame, th settings.Thresholds) api.Row {
	pct := metrics.RoundedPercent(f.RAMPctX10)
	return api.Row{
		Key:   "ram",
		Label: "RAM",
		Value: fmt.Sprintf("%d%%", pct),
		Level: display.Classify(pct, th.RAMWarn, th.RAMCrit).String(),
		Extra: fmt.Sprintf("%.1f/%.1f GB", float64(f.RAMUsedMB)/1024, float64(f.RAMTotalMB)/1024),
	}
}

func gpuRow(f metrics.Frame, th settings.Thresholds) api.Row {
	pct := metrics.RoundedPercent(f.GPUPctX10)
	row := api.Row{
		Key:   "gpu",
		Label: "GPU",
		Value: fmt.Sprintf("%d%% mem %d%%", pct, metrics.RoundedPercent(f.GPUMemPctX10)),
		Level: display.Classify(pct, th.GPUWarn, th.GPUCrit).String(),
	}

	hottest := f.GPUTempCX10
	if f.GPUHotspotCX10 > hottest {
		hottest = f.GPUHotspotCX10
	}
	_, row.ExtraLevel = tempCell(hottest, th)
	row.Extra, _ = tempCell(f.GPUTempCX10, th)
	if f.GPUHotspotCX10 != 0 {
		row.Extra += fmt.Sprintf(" hs %d°C", metrics.RoundedTempC(f.GPUHotspotCX10))
	}
	if f.GPUMemTempCX10 != 0 {
		row.Extra += fmt.Sprintf(" vram %d°C", metrics.RoundedTempC(f.GPUMemTempCX10))
	}
	return row
}

func netRow(f metrics.Frame, _ settings.Thresholds) api.Row {
	return api.Row{
		Key:   "net",
		Label: "NET",
		Value: fmt.Sprintf("↓%.1f ↑%.1f MB/s", metrics.KbpsToMbps(f.NetRxKbps), metrics.KbpsToMbps(f.NetTxKbps)),
		Level: display.LevelOK.String(),
	}
}

func diskRow(f metrics.Frame, _ settings.Thresholds) api.Row {
	return api.Row{
		Key:   "disk",
		Label: "DISK",
		Value: fmt.Sprintf("R %.1f W %.1f MB/s", metrics.KbpsToMbps(f.DiskReadKBps), metrics.KbpsToMbps(f.DiskWriteKBps)),
		Level: display.LevelOK.String(),
	}
}

// tempCell formats a temperature in tenths. Zero means the sender has no
// sensor.
func tempCell(x10 int16, th settings.Thresholds) (string, string) {
	if x10 == 0 {
		return "--°C", display.LevelNeutral.String()
	}
	c := metrics.RoundedTempC(x10)
	return fmt.Sprintf("%d°C", c), display.ClassifyTemp(c, th.TempWarn, th.TempCrit).String()
}

func linkLabel(up bool) string {
	if up {
		return "MQTT OK"
	}
	return "MQTT --"
}

func ageLabel(age time.Duration) string {
	if age < 0 {
		age = 0
	}
	return fmt.Sprintf("%ds ago", int(age/time.Second))
}

func titleFor(cmd display.Command) string {
	if cmd.Alias != "" {
		return cmd.Alias
	}
	return cmd.Host
}

func deviceView(cmd display.Command) api.View {
	view := api.View{
		Kind:      display.KindDevice.String(),
		Title:     titleFor(cmd),
		Subtitle:  positionLabel(cmd.Index, cmd.Count),
		Indicator: indicator(cmd.Online),
		Rows:      make([]api.Row, 0, len(deviceRows)),
	}
	for _, def := range deviceRows {
		view.Rows = append(view.Rows, def.build(cmd.Frame, cmd.Thresholds))
	}
	return view
}

func offlineView(cmd display.Command) api.View {
	row := api.Row{
		Key:   "status",
		Label: "STATUS",
		Value: "offline",
		Level: display.LevelCritical.String(),
	}
	if cmd.Age > 0 {
		row.Extra = "last seen " + ageLabel(cmd.Age)
	}
	return api.View{
		Kind:      display.KindOffline.String(),
		Title:     titleFor(cmd),
		Indicator: indicator(false),
		Rows:      []api.Row{row},
		Footer:    linkLabel(cmd.LinkUp),
	}
}

func waitingView(cmd display.Command) api.View {
	return api.View{
		Kind:   display.KindWaiting.String(),
		Title:  "Waiting for data",
		Rows:   []api.Row{},
		Footer: linkLabel(cmd.LinkUp),
	}
}

func noticeView(cmd display.Command) api.View {
	view := api.View{
		Kind:  display.KindNotice.String(),
		Title: cmd.Title,
		Rows:  make([]api.Row, 0, len(cmd.Lines)),
	}
	for i, line := range cmd.Lines {
		view.Rows = append(view.Rows, api.Row{
			Key:   fmt.Sprintf("line%d", i),
			Value: line,
			Level: display.LevelNeutral.String(),
		})
	}
	return view
}

func positionLabel(index, count int) string {
	return fmt.Sprintf("%d/%d", index+1, count)
}

func indicator(online bool) string {
	if online {
		return "online"
	}
	return "offline"
}
