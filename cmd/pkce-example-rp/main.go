package main

import (
	"crypto/rand"
	"flag"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gorilla/sessions"
	"github.com/lstoll/pkceclient"
	"github.com/lstoll/pkceclient/middleware"
)

func main() {
	cfg := struct {
		Issuer      string
		ClientID    string
		BaseURL     string
		RedirectURL string
		Addr        string
	}{
		Issuer:      "http://localhost:8085",
		ClientID:    "example-rp",
		BaseURL:     "http://localhost:8084",
		RedirectURL: "http://localhost:8084/callback",
		Addr:        "localhost:8084",
	}

	flag.StringVar(&cfg.Issuer, "issuer", cfg.Issuer, "issuer")
	flag.StringVar(&cfg.ClientID, "client-id", cfg.ClientID, "client ID")
	flag.StringVar(&cfg.BaseURL, "base-url", cfg.BaseURL, "base URL of this app")
	flag.StringVar(&cfg.RedirectURL, "redirect-url", cfg.RedirectURL, "redirect URL")
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "address to listen on")

	flag.Parse()

	sessDir := filepath.Join(os.TempDir(), "pkce-example-rp-sessions")
	if err := os.MkdirAll(sessDir, 0o700); err != nil {
		log.Fatalf("creating session dir: %v", err)
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		log.Fatalf("creating session key: %v", err)
	}

	mw := &middleware.Handler{
		Issuer: cfg.Issuer,
		Config: pkceclient.Config{
			ClientID: cfg.ClientID,
			Resources: []pkceclient.Resource{
				{ID: "api", Scopes: []string{"read"}},
				{ID: "profile", Scopes: []string{"openid"}, UserInfo: true},
			},
		},
		BaseURL:      cfg.BaseURL,
		RedirectURL:  cfg.RedirectURL,
		SessionStore: sessions.NewFilesystemStore(sessDir, key),
	}

	svr := &server{mw: mw}

	log.Printf("Listening on: http://%s", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, svr); err != nil {
		log.Fatal(err)
	}
}
