// internal/lti/html.go
package lti

import (
	"html/template"
	"net/http"
)

// The selection is JSON-encoded by html/template's script context.
var postMessageTpl = template.Must(template.New("postmessage").Parse(`<!doctype html>
<html>
<body>
<script type="text/javascript">
  parent.postMessage({{.Selection}}, {{.Origin}});
</script>
</body>
</html>`))

// writePostMessage hands the picked asset to the editor window.
func writePostMessage(w http.ResponseWriter, sel EmbedSelection, origin string) error {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	return postMessageTpl.Execute(w, struct {
		Selection EmbedSelection
		Origin    string
	}{sel, origin})
}
