// pkg/platform/lti/form.go
package lti

import (
	"html/template"
	"net/http"
)

// FormField is one hidden input. Order is preserved.
type FormField struct {
	Name  string
	Value string
}

// AutoForm is a self-submitting HTML form: the LTI transport for id_tokens,
// deep-linking responses and third-party login initiation.
type AutoForm struct {
	Method string // "post" (default) or "get"
	Action string
	Fields []FormField
}

var autoFormTpl = template.Must(template.New("autoform").Parse(`<!doctype html>
<html><head><meta charset="utf-8"><title>LTI</title></head>
<body onload="document.forms[0].submit()">
<form method="{{.Method}}" action="{{.Action}}">
{{range .Fields}}  <input type="hidden" name="{{.Name}}" value="{{.Value}}">
{{end}}  <noscript><button type="submit">Continue</button></noscript>
</form>
</body></html>`))

// WriteAutoForm renders f with status 200.
func WriteAutoForm(w http.ResponseWriter, f AutoForm) {
	if f.Method == "" {
		f.Method = "post"
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_ = autoFormTpl.Execute(w, f)
}
