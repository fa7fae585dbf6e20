package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lstoll/pkceclient"
	"github.com/spf13/cobra"
)

const defaultRedirectURL = "http://127.0.0.1:0/callback"

func newLoginCmd(a *app) *cobra.Command {
	var (
		prompt  string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in, fetching tokens for every configured resource",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			lb := &loopback{received: make(chan struct{})}
			s, err := a.newSession(ctx, pkceclient.WithLocation(lb))
			if err != nil {
				return err
			}
			defer s.Close()

			redirectURL := s.file.RedirectURL
			if redirectURL == "" {
				redirectURL = defaultRedirectURL
			}
			if err := lb.listen(redirectURL); err != nil {
				return err
			}
			defer lb.close()

			opts := []pkceclient.LoginOption{pkceclient.WithState(lb.state)}
			if prompt != "" {
				opts = append(opts, pkceclient.WithPrompt(prompt))
			}
			if err := s.LoginWithRedirect(ctx, lb.redirectURI, opts...); err != nil {
				return err
			}

			a.logger.DebugContext(ctx, "waiting for callback", slog.String("redirect_uri", lb.redirectURI))
			if err := lb.wait(ctx); err != nil {
				return err
			}

			if err := s.HandleRedirectCallback(ctx, lb.redirectURI); err != nil {
				return err
			}
			// secondary resources are fetched before the store is closed
			s.Wait()

			_, err = fmt.Fprintln(cmd.OutOrStdout(), "Logged in")
			return err
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "", "prompt parameter sent to the authorization server, e.g. login")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "How long to wait for the login to complete")
	return cmd
}

// loopback receives the authorization response on a local port. It is the
// client's Location once the response has arrived.
type loopback struct {
	redirectURI string
	path        string
	state       string
	srv         *http.Server

	mu       sync.Mutex
	current  *url.URL
	received chan struct{}
}

func (l *loopback) listen(redirectURL string) error {
	u, err := url.Parse(redirectURL)
	if err != nil {
		return fmt.Errorf("parsing redirect URL %s: %w", redirectURL, err)
	}
	ln, err := net.Listen("tcp", u.Host)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", u.Host, err)
	}

	_, port, err := net.SplitHostPort(ln.Addr().String())
	if err != nil {
		_ = ln.Close()
		return fmt.Errorf("reading listener port: %w", err)
	}
	u.Host = net.JoinHostPort(u.Hostname(), port)
	if u.Path == "" {
		u.Path = "/"
	}

	l.redirectURI = u.String()
	l.path = u.Path
	l.state = uuid.NewString()
	l.srv = &http.Server{Handler: l, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := l.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("loopback server failed", slog.String("err", err.Error()))
		}
	}()
	return nil
}

func (l *loopback) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != l.path {
		http.NotFound(w, r)
		return
	}
	if r.URL.Query().Get("state") != l.state {
		http.Error(w, "state did not match", http.StatusBadRequest)
		return
	}

	l.mu.Lock()
	if l.current != nil {
		l.mu.Unlock()
		http.Error(w, "login already completed", http.StatusBadRequest)
		return
	}
	cur, _ := url.Parse(l.redirectURI)
	cur.RawQuery = r.URL.RawQuery
	l.current = cur
	close(l.received)
	l.mu.Unlock()

	_, _ = fmt.Fprintln(w, "Login complete, you may close this window.")
}

func (l *loopback) wait(ctx context.Context) error {
	select {
	case <-l.received:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for login callback: %w", ctx.Err())
	}
}

func (l *loopback) CurrentURL(context.Context) (*url.URL, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.current == nil {
		return nil, errors.New("no authorization response received")
	}
	c := *l.current
	return &c, nil
}

func (l *loopback) close() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = l.srv.Shutdown(ctx)
}
