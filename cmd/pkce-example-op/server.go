package main

import (
	"html/template"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/lstoll/pkceclient/pkceclienttest"
)

const indexPage = `<!DOCTYPE html>
<html>
	<head>
		<meta charset="UTF-8">
		<title>Example authorization server</title>
	</head>
	<body>
		<h1>Example authorization server</h1>
		<p>Logins are approved without interaction.</p>
		<ul>
			<li>Issuer: {{ .Issuer }}</li>
			<li>Authorization: {{ .AuthorizationEndpoint }}</li>
			<li>Token: {{ .TokenEndpoint }}</li>
			<li>Revocation: {{ .RevocationEndpoint }}</li>
			<li>Introspection: {{ .IntrospectionEndpoint }}</li>
			<li>User info: {{ .UserinfoEndpoint }}</li>
			<li>End session: {{ .EndSessionEndpoint }}</li>
		</ul>
	</body>
</html>`

var indexTmpl = template.Must(template.New("indexPage").Parse(indexPage))

type server struct {
	provider *pkceclienttest.Provider
	logger   *slog.Logger

	mux      *http.ServeMux
	muxSetup sync.Once
}

func (s *server) index(w http.ResponseWriter, req *http.Request) {
	if err := indexTmpl.Execute(w, s.provider.Metadata()); err != nil {
		s.logger.ErrorContext(req.Context(), "rendering index", slog.String("err", err.Error()))
		http.Error(w, "Internal Error", http.StatusInternalServerError)
	}
}

func (s *server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	s.muxSetup.Do(func() {
		s.mux = http.NewServeMux()
		s.mux.HandleFunc("GET /{$}", s.index)
		s.mux.Handle("/", s.provider)
	})

	start := time.Now()
	s.mux.ServeHTTP(w, req)
	s.logger.DebugContext(req.Context(), "request",
		slog.String("method", req.Method),
		slog.String("path", req.URL.Path),
		slog.Duration("duration", time.Since(start)))
}
