package metrics

import (
	"html/template"
	"io"

	"github.com/randomizedcoder/go-hwdiag/internal/stats"
)

var dashboardTemplate = template.Must(template.New("dashboard").Funcs(template.FuncMap{
	"pct": stats.FormatPercent,
}).Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta http-equiv="refresh" content="2">
<title>hwdiag {{.Command}}</title>
<style>
body { font-family: monospace; background: #111; color: #ddd; margin: 2em; }
h1 { color: #7fd; }
table { border-collapse: collapse; margin-top: 1em; }
td, th { padding: 2px 12px; text-align: left; }
th { color: #aaa; border-bottom: 1px solid #444; }
.num { text-align: right; }
</style>
</head>
<body>
<h1>hwdiag {{.Command}}</h1>
<p>{{.Hostname}} {{.Variant}} up {{.Uptime}} (v{{.Version}})</p>
{{with .Stress}}
<h2>stress</h2>
<p>{{.Command}}</p>
<p>attempts {{.Attempts}}, retries {{.Retries}}, last exit {{.LastExitCode}}{{if .Running}}, running{{end}}</p>
{{end}}
{{with .Sampler}}
<h2>sampler: {{.State}}</h2>
<p>{{.Iterations}} iterations, {{.SamplesStored}} samples, every {{.Interval}}{{if .StopReason}}, stopped: {{.StopReason}}{{end}}</p>
<p>cpu p50 {{pct .Digest.CPU.P50}} p95 {{pct .Digest.CPU.P95}} p99 {{pct .Digest.CPU.P99}}</p>
<table>
<tr><th>owner</th><th>pid</th><th class="num">%cpu</th><th class="num">%mem</th><th>command</th></tr>
{{range .Latest}}<tr><td>{{.Owner}}</td><td>{{.PID}}</td><td class="num">{{pct .CPUPercent}}</td><td class="num">{{pct .MemoryPercent}}</td><td>{{.CommandLine}}</td></tr>
{{end}}</table>
{{end}}
</body>
</html>
`))

func renderDashboard(w io.Writer, st Status) error {
	return dashboardTemplate.Execute(w, st)
}
