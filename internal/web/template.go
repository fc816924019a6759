package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/physio-sensor/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"orUnknown": func(s string) string {
		if s == "" {
			return "UNKNOWN"
		}
		return s
	},
	"stateClass": func(s fmt.Stringer) string {
		switch s.String() {
		case "RECORDING", "TRUTH":
			return "ok"
		case "STOPPED", "LIE":
			return "err"
		default:
			return "idle"
		}
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Physio Sensor</title>
<style>
body { font-family: monospace; max-width: 800px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.ok { color: green; font-weight: bold; }
.err { color: red; font-weight: bold; }
.idle { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
canvas { width: 100%; height: 120px; border: 1px solid #ddd; margin-bottom: 4px; }
</style>
</head>
<body>
<h1>Physio Sensor</h1>

<h2>Session</h2>
<table>
<tr><th>State</th><td class="{{stateClass .Session.State}}">{{.Session.State}}</td></tr>
{{if .Session.Err}}<tr><th>Error</th><td class="err">{{.Session.Err}}</td></tr>{{end}}
<tr><th>Device</th><td>{{.Config.Device}}</td></tr>
<tr><th>Sampling rate</th><td>{{.Config.SamplingRate}} Hz</td></tr>
<tr><th>Blocks / rows</th><td>{{.Session.Blocks}} / {{.Session.Rows}}</td></tr>
<tr><th>Model</th><td>{{if .Session.ModelLoaded}}{{.Session.Model}}{{else}}<span class="err">none loaded</span>{{end}}</td></tr>
<tr><th>Capture</th><td>{{if .Session.CaptureArmed}}{{.Session.CaptureProgress}} / {{.Session.CaptureTarget}}{{else}}idle{{end}}</td></tr>
</table>

<h2>Signals</h2>
<canvas id="sig-0"></canvas>
<canvas id="sig-1"></canvas>
<canvas id="sig-2"></canvas>

<h2>Decision</h2>
<table>
{{with .LastDecision}}<tr><th>Last</th><td id="decision" class="{{stateClass .Label}}">{{.Label}}</td></tr>
<tr><th>At</th><td>{{.DecidedAt.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Model</th><td>{{.Model}}</td></tr>{{else}}<tr><th>Last</th><td id="decision" class="idle">none</td></tr>{{end}}
<tr><th>Lamp</th><td>{{orUnknown (printf "%s" .Lamp)}}</td></tr>
<tr><th>Button</th><td>{{orUnknown (printf "%s" .Button)}}</td></tr>
</table>
<p><button id="detect" {{if .Pending}}disabled{{end}}>Detect ({{.Config.WindowSeconds}}s)</button></p>

<h2>Counts</h2>
<table>
<tr><th>Presses</th><td>{{.Counts.Presses}}</td></tr>
<tr><th>Truth</th><td>{{.Counts.Truth}}</td></tr>
<tr><th>Lie</th><td>{{.Counts.Lie}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>History / window</th><td>{{.Config.HistorySeconds}}s / {{.Config.WindowSeconds}}s</td></tr>
<tr><th>GPIO</th><td>{{if .Config.GPIOEnabled}}enabled{{else}}disabled{{end}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> · <a href="/signals.json?points=500">Signals</a></p>
<script>
(function() {
  function draw(canvas, trace) {
    var ctx = canvas.getContext("2d");
    var w = canvas.width = canvas.clientWidth, h = canvas.height = canvas.clientHeight;
    ctx.clearRect(0, 0, w, h);
    ctx.fillText(trace.channel + " (" + trace.unit + ")", 4, 12);
    var v = trace.values;
    if (v.length < 2) return;
    var lo = Math.min.apply(null, v), hi = Math.max.apply(null, v);
    if (hi === lo) { hi = lo + 1; }
    var t0 = trace.t[0], t1 = trace.t[trace.t.length - 1];
    ctx.beginPath();
    for (var i = 0; i < v.length; i++) {
      var x = (trace.t[i] - t0) / (t1 - t0) * w;
      var y = h - (v[i] - lo) / (hi - lo) * (h - 16) - 2;
      if (i === 0) ctx.moveTo(x, y); else ctx.lineTo(x, y);
    }
    ctx.stroke();
  }

  function poll() {
    fetch("/signals.json?points=500").then(function(r) { return r.json(); }).then(function(f) {
      (f.traces || []).forEach(function(tr, i) {
        var c = document.getElementById("sig-" + i);
        if (c) draw(c, tr);
      });
    }).catch(function() {});
  }
  setInterval(poll, 100);
  poll();

  var btn = document.getElementById("detect");
  var out = document.getElementById("decision");
  btn.addEventListener("click", function() {
    btn.disabled = true;
    out.textContent = "capturing...";
    out.className = "idle";
    fetch("/decision", { method: "POST" }).then(function(r) { return r.json(); }).then(function(res) {
      if (res.decision) {
        out.textContent = res.decision.label;
        out.className = res.decision.label === "LIE" ? "err" : "ok";
      } else {
        out.textContent = res.error;
        out.className = "err";
      }
    }).finally(function() { btn.disabled = false; });
  });
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
