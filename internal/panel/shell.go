package panel

import (
	"bytes"
	"fmt"
	"html/template"
)

var (
	shellStyleSegments  = []string{"webview-ui", "build", "assets", "index.css"}
	shellScriptSegments = []string{"webview-ui", "build", "assets", "index.js"}
)

var shellTemplate = template.Must(template.New("shell").Parse(`<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="UTF-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1.0" />
    <link rel="stylesheet" type="text/css" href="{{.StyleURI}}">
    <title>{{.Title}}</title>
  </head>
  <body>
    <div id="app"></div>
    <script type="module" src="{{.ScriptURI}}"></script>
  </body>
</html>
`))

type shellData struct {
	Title     string
	StyleURI  string
	ScriptURI string
}

// renderShell builds the static document that boots the web UI inside surface.
func renderShell(assets AssetResolver, surface Surface, title string) (string, error) {
	styleURI, err := assets.AsWebviewURI(surface, shellStyleSegments...)
	if err != nil {
		return "", fmt.Errorf("resolve stylesheet: %w", err)
	}
	scriptURI, err := assets.AsWebviewURI(surface, shellScriptSegments...)
	if err != nil {
		return "", fmt.Errorf("resolve script: %w", err)
	}

	var buf bytes.Buffer
	err = shellTemplate.Execute(&buf, shellData{
		Title:     title,
		StyleURI:  styleURI,
		ScriptURI: scriptURI,
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
