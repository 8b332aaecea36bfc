package portal

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/pulse-meter/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		h := int(d.Hours())
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
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
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Configure Wi-Fi</title>
<style>
body { font-family: monospace; max-width: 480px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
label { display: block; margin-top: 1em; }
input { width: 100%; padding: 4px; box-sizing: border-box; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
</style>
</head>
<body>
<h1>Configure Wi-Fi</h1>
<form action="/save" method="POST">
<label>SSID <input name="ssid" maxlength="32" required></label>
<label>Password <input name="password" type="password"></label>
<label>CPF (optional) <input name="cpf"></label>
<p><input type="submit" value="Save and Connect"></p>
</form>

<h2>Device</h2>
<table>
<tr><th>Identity</th><td>{{orUnknown .Identity}}</td></tr>
<tr><th>Link</th><td>{{orUnknown .Connectivity.Link}}</td></tr>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
</table>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	indexTmpl.Execute(w, snap)
}
