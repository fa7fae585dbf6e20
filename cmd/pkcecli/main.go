package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lstoll/pkceclient"
	"github.com/lstoll/pkceclient/config"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

type app struct {
	ConfigPath string
	Resource   string
	Debug      bool
	NoBrowser  bool

	// navigator overrides how the user agent is sent to a URL.
	navigator pkceclient.Navigator
	logger    *slog.Logger
	stderr    io.Writer
}

func main() {
	a := &app{stderr: os.Stderr}
	if err := newRootCmd(a).Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "pkcecli",
		Short: "Log in to an OAuth2 authorization server and use its tokens",
		Long: `pkcecli logs in with the authorization code flow and PKCE, using the system
browser and a loopback redirect. Tokens for every configured resource are
kept in the configured store, and refreshed when they expire.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := slog.LevelInfo
			if a.Debug {
				level = slog.LevelDebug
			}
			a.logger = slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: level}))
		},
	}

	root.PersistentFlags().StringVar(&a.ConfigPath, "config", defaultConfigPath(), "Path to the configuration file (env PKCECLI_CONFIG)")
	root.PersistentFlags().StringVarP(&a.Resource, "resource", "r", "", "Resource to use. Defaults to the first configured")
	root.PersistentFlags().BoolVar(&a.Debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().BoolVar(&a.NoBrowser, "no-browser", false, "Print URLs rather than opening a browser")

	root.AddCommand(
		newLoginCmd(a),
		newTokenCmd(a),
		newUserInfoCmd(a),
		newIntrospectCmd(a),
		newLogoutCmd(a),
		newStatusCmd(a),
	)

	return root
}

func defaultConfigPath() string {
	if p := os.Getenv("PKCECLI_CONFIG"); p != "" {
		return p
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "pkcecli.yaml"
	}
	return filepath.Join(dir, "pkcecli", "config.yaml")
}

// session is a client built from the configuration, with the store it is
// using.
type session struct {
	*pkceclient.Client
	file  *config.File
	close func() error
}

func (a *app) newSession(ctx context.Context, opts ...pkceclient.ClientOpt) (*session, error) {
	f, err := config.Load(a.ConfigPath)
	if err != nil {
		return nil, err
	}
	store, closeFn, err := f.OpenStore(ctx)
	if err != nil {
		return nil, err
	}

	opts = append([]pkceclient.ClientOpt{
		pkceclient.WithLogger(a.logger),
		pkceclient.WithNavigator(a.userAgent()),
	}, opts...)

	var c *pkceclient.Client
	if f.Issuer != "" {
		c, err = pkceclient.Discover(ctx, f.Issuer, f.ClientConfig(), store, opts...)
	} else {
		c, err = pkceclient.New(f.ClientConfig(), store, opts...)
	}
	if err != nil {
		_ = closeFn()
		return nil, err
	}

	return &session{Client: c, file: f, close: closeFn}, nil
}

// Close waits for background work to finish, then releases the store.
func (s *session) Close() error {
	s.Wait()
	return s.close()
}

func (s *session) resource(flag string) string {
	if flag != "" {
		return flag
	}
	return s.Config().Resources[0].ID
}

// userAgent opens URLs in the browser when there is a user at a terminal to
// use it, otherwise the URL is printed for them to open.
func (a *app) userAgent() pkceclient.Navigator {
	if a.navigator != nil {
		return a.navigator
	}
	printURL := pkceclient.NavigatorFunc(func(_ context.Context, u string) error {
		_, err := fmt.Fprintf(a.stderr, "Open this URL in your browser:\n\n  %s\n\n", u)
		return err
	})
	if a.NoBrowser || !term.IsTerminal(int(os.Stdin.Fd())) {
		return printURL
	}
	return pkceclient.NavigatorFunc(func(ctx context.Context, u string) error {
		if err := (pkceclient.BrowserNavigator{}).Navigate(ctx, u); err != nil {
			a.logger.DebugContext(ctx, "opening browser failed", slog.String("err", err.Error()))
			return printURL(ctx, u)
		}
		return nil
	})
}

var errNotLoggedIn = errors.New("not logged in, run pkcecli login")

func newTokenCmd(a *app) *cobra.Command {
	var noRefresh bool
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print an access token for a resource",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := a.newSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			var opts []pkceclient.AccessTokenOption
			if noRefresh {
				opts = append(opts, pkceclient.WithoutRefresh())
			}
			tok, err := s.GetAccessToken(ctx, s.resource(a.Resource), opts...)
			if err != nil {
				return err
			}
			if tok == "" {
				return errNotLoggedIn
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().BoolVar(&noRefresh, "no-refresh", false, "Do not refresh an expired token")
	return cmd
}

func newUserInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "userinfo",
		Short: "Print the logged in user's claims",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := a.newSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			info, err := s.GetUserInfo(ctx)
			if err != nil {
				return err
			}
			if info == nil {
				return errNotLoggedIn
			}
			return writeYAML(cmd.OutOrStdout(), info)
		},
	}
}

func newIntrospectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "introspect",
		Short: "Ask the authorization server about a resource's access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := a.newSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			in, err := s.IntrospectToken(ctx, s.resource(a.Resource))
			if err != nil {
				return err
			}
			if in == nil {
				return errNotLoggedIn
			}
			return writeYAML(cmd.OutOrStdout(), in.Claims)
		},
	}
}

func newLogoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Revoke and forget all tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := a.newSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			return s.Logout(ctx)
		},
	}
}

type resourceStatus struct {
	Resource  string `yaml:"resource"`
	LoggedIn  bool   `yaml:"loggedIn"`
	ExpiresAt string `yaml:"expiresAt,omitempty"`
	Expired   bool   `yaml:"expired"`
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored token state of each resource",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s, err := a.newSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			var out []resourceStatus
			for _, r := range s.Config().Resources {
				tok, err := s.GetAccessToken(ctx, r.ID, pkceclient.WithoutRefresh())
				if err != nil {
					return err
				}
				st := resourceStatus{Resource: r.ID, LoggedIn: tok != ""}
				exp, ok, err := s.ExpiresAt(ctx, r.ID)
				if err != nil {
					return err
				}
				if ok {
					st.ExpiresAt = exp.UTC().Format(time.RFC3339)
				}
				if st.Expired, err = s.TokenIsExpired(ctx, r.ID); err != nil {
					return err
				}
				out = append(out, st)
			}
			return writeYAML(cmd.OutOrStdout(), out)
		},
	}
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return enc.Close()
}
