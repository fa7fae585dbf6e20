package main

import (
	_ "embed"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/lstoll/pkceclient/pkceclienttest"
	"github.com/lstoll/pkceclient/staticclients"
)

//go:embed clients.json
var clientsJSON []byte

func main() {
	var (
		addr     = flag.String("addr", "localhost:8085", "address to listen on")
		tokenTTL = flag.Duration("token-ttl", 5*time.Minute, "lifetime of issued access tokens")
		subject  = flag.String("subject", "auser", "user every login is approved for")
	)
	flag.Parse()

	clients, err := staticclients.ExpandUnmarshal(clientsJSON)
	if err != nil {
		log.Fatalf("parsing clients: %v", err)
	}

	iss := "http://" + *addr
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	p, err := pkceclienttest.NewProvider(iss, &pkceclienttest.Options{
		Clients:  clients,
		TokenTTL: *tokenTTL,
		Subject:  *subject,
		UserInfo: map[string]any{"name": "A User"},
		Logger:   logger,
	})
	if err != nil {
		log.Fatalf("Failed to create provider: %v", err)
	}

	svr := &server{provider: p, logger: logger}

	log.Printf("Listening on: %s", iss)
	if err := http.ListenAndServe(*addr, svr); err != nil {
		log.Fatal(err)
	}
}
