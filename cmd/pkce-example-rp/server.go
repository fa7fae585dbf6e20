package main

import (
	"fmt"
	"html/template"
	"net/http"
	"sync"

	"github.com/lstoll/pkceclient/middleware"
)

const homePage = `<!DOCTYPE html>
<html>
	<head>
		<meta charset="UTF-8">
		<title>Logged in</title>
	</head>
	<body>
		<h1>Logged in</h1>
		<p>access_token: {{ .access_token }}</p>
		<form action="/logout" method="POST">
			<input type="submit" value="Log out">
		</form>
	</body>
</html>`

var homeTmpl = template.Must(template.New("homePage").Parse(homePage))

type server struct {
	mw       *middleware.Handler
	mux      *http.ServeMux
	muxSetup sync.Once
}

func (s *server) home(w http.ResponseWriter, req *http.Request) {
	tmplData := map[string]any{
		"access_token": middleware.AccessTokenFromContext(req.Context()),
	}

	if err := homeTmpl.Execute(w, tmplData); err != nil {
		http.Error(w, fmt.Sprintf("failed to render template: %v", err), http.StatusInternalServerError)
		return
	}
}

func (s *server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	s.muxSetup.Do(func() {
		s.mux = http.NewServeMux()
		s.mux.Handle("POST /logout", s.mw.Logout())
		s.mux.Handle("/", s.mw.Wrap(http.HandlerFunc(s.home)))
	})

	s.mux.ServeHTTP(w, req)
}
