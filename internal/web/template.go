package web

import (
	"fmt"
	"html/template"
	"io"
	"log"
	"time"

	"github.com/sweeney/waste-sorter/internal/logic"
	"github.com/sweeney/waste-sorter/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		switch {
		case days > 0:
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		case h > 0:
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		case m > 0:
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"count": func(c logic.Counts, name string) int {
		return c[logic.Category(name)]
	},
	"when": func(t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return t.UTC().Format("2006-01-02T15:04:05Z")
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Waste Sorter</title>
<style>
body { font-family: monospace; max-width: 640px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.active { color: green; font-weight: bold; }
.idle { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
.warn { color: orange; }
</style>
</head>
<body>
<h1>Waste Sorter</h1>

<h2>Decision</h2>
<table>
<tr><th>Active</th><td id="active" class="{{if .Active}}active{{else}}idle{{end}}">{{.Active.String}}</td></tr>
<tr><th>Mode</th><td>{{.Mode}}</td></tr>
<tr><th>Last transition</th><td>{{when .LastTransition}}</td></tr>
</table>

<h2>Window ({{.Config.MaxFrameAgeMs}}ms, K={{.Config.MinCount}})</h2>
<table>
<tr><th>Label</th><td>in window / transitions / pending / remote</td></tr>
{{range .Config.Labels}}<tr><th>{{.}}</th><td>{{count $.Window .}} / {{count $.Transitions .}} / {{count $.Usage.Pending .}} / {{if $.Usage.Remote}}{{count $.Usage.Remote .}}{{else}}-{{end}}</td></tr>
{{end}}</table>

<h2>Usage</h2>
<table>
<tr><th>Last flush</th><td>{{when .Usage.LastFlush}}</td></tr>
<tr><th>Flush interval</th><td>{{.Config.FlushIntervalMs}}ms</td></tr>
<tr><th>Failures</th><td class="{{if .Usage.Failures}}warn{{end}}">{{.Usage.Failures}}{{if .Usage.LastError}} ({{.Usage.LastError}}){{end}}</td></tr>
<tr><th>Counter</th><td>{{.Config.Counter}}</td></tr>
</table>

<h2>Actuator</h2>
<table>
<tr><th>Type</th><td>{{.Config.Actuator}}</td></tr>
<tr><th>Mode sent</th><td>{{.Actuator.Mode}}</td></tr>
<tr><th>Applied / errors / dropped</th><td>{{.Actuator.Applied}} / {{.Actuator.Errors}} / {{.Actuator.Dropped}}</td></tr>
{{if .Actuator.LastError}}<tr><th>Last error</th><td class="warn">{{.Actuator.LastError}}</td></tr>{{end}}
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> | <a href="/metrics">metrics</a></p>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// The template needs Uptime and Mode as fields.
	data := struct {
		status.Snapshot
		Uptime time.Duration
		Mode   int
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Mode:     status.ModeOf(snap),
	}
	if err := indexTmpl.Execute(w, data); err != nil {
		log.Printf("web: render index: %v", err)
	}
}
