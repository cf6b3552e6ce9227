package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"liveclass/internal/auth"
	"liveclass/internal/client"
	"liveclass/internal/config"
	"liveclass/pkg/protocol"
	"liveclass/pkg/types"
)

// clientOptions locate a server, a session and a bearer
type clientOptions struct {
	server  string
	session string
	token   string
}

func (c *clientOptions) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&c.server, "server", "", "server base URL (default from config client.server_url)")
	cmd.Flags().StringVar(&c.session, "session", "", "live session id")
	cmd.Flags().StringVar(&c.token, "token", "", "bearer token (env LIVECLASS_TOKEN)")
	_ = cmd.MarkFlagRequired("session")
}

// resolve fills unset flags from cfg and the environment
func (c *clientOptions) resolve(cfg *config.Config) error {
	if c.server == "" {
		c.server = cfg.Client.ServerURL
	}
	if c.token == "" {
		c.token = os.Getenv("LIVECLASS_TOKEN")
	}
	if c.token == "" {
		return auth.ErrMissingToken
	}
	if !types.IsValidSessionID(c.session) {
		return types.ErrInvalidSessionID
	}
	return nil
}

// socketURL maps http(s)://host to ws(s)://host/ws/sessions
func socketURL(server string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", server, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid server URL %q: scheme must be http or https", server)
	}
	u.Path = strings.TrimRight(u.Path, "/") + protocol.Namespace
	return u.String(), nil
}

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var (
		identity types.Identity
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token with the configured secret",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			verifier, err := auth.NewVerifier(cfg.Auth.Secret)
			if err != nil {
				return fmt.Errorf("LIVECLASS_AUTH_SECRET: %w", err)
			}
			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL
			}
			token, err := verifier.Issue(identity, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&identity.UserID, "user", "", "user id")
	cmd.Flags().StringVar(&identity.Name, "name", "", "display name")
	cmd.Flags().StringVar(&identity.Email, "email", "", "email address")
	cmd.Flags().StringVar(&identity.Role, "role", "", "role, e.g. premium, instructor or admin")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default from config auth.token_ttl)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newParticipantsCmd(opts *rootOptions) *cobra.Command {
	target := &clientOptions{}
	cmd := &cobra.Command{
		Use:   "participants",
		Short: "Print who is currently in a live session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if err := target.resolve(cfg); err != nil {
				return err
			}

			dir := client.NewHTTPDirectory(target.server, nil)
			participants, err := dir.Participants(cmd.Context(), target.session, target.token)
			if err != nil {
				return err
			}
			renderParticipants(cmd.OutOrStdout(), participants)
			return nil
		},
	}
	target.bind(cmd)
	return cmd
}

func renderParticipants(w io.Writer, participants []types.Identity) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"User ID", "Name", "Email"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)
	for _, p := range participants {
		table.Append([]string{p.UserID, p.Name, p.Email})
	}
	table.SetFooter([]string{"", "", fmt.Sprintf("%d present", len(participants))})
	table.Render()
}

func newJoinCmd(opts *rootOptions) *cobra.Command {
	target := &clientOptions{}
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a live session from the terminal; stdin lines are sent as chat",
		Long: `Join a live session and stay connected until stdin closes, "/leave" is
typed, or the process is interrupted. Presence changes and chat messages are
printed as they arrive.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if err := target.resolve(cfg); err != nil {
				return err
			}
			wsURL, err := socketURL(target.server)
			if err != nil {
				return err
			}

			logger := cfg.Log.NewLogger(cmd.ErrOrStderr())
			c := client.New(client.Config{
				SessionID:         target.session,
				MaxRetries:        cfg.Client.MaxRetries,
				BaseDelay:         cfg.Client.BaseDelay,
				MaxDelay:          cfg.Client.MaxDelay,
				HeartbeatInterval: cfg.Client.HeartbeatInterval,
				RequestTimeout:    cfg.Client.RequestTimeout,
			},
				client.NewHTTPDirectory(target.server, nil),
				client.NewWSDialer(wsURL, logger),
				client.NopMedia{},
				client.StaticToken(target.token),
				client.WithLogger(logger),
			)
			return runJoin(cmd.Context(), c, cmd.InOrStdin(), cmd.OutOrStdout(), logger)
		},
	}
	target.bind(cmd)
	return cmd
}

// runJoin drives c until input ends, the user leaves, ctx ends, or the
// client fails terminally
func runJoin(ctx context.Context, c *client.Client, in io.Reader, out io.Writer, logger *slog.Logger) error {
	if err := c.Join(ctx); err != nil {
		return fmt.Errorf("join: %w", err)
	}
	fmt.Fprintf(out, "joined; %d present\n", len(c.Participants()))

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	leave := func() error {
		leaveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return c.Leave(leaveCtx)
	}

	for {
		select {
		case <-ctx.Done():
			return leave()

		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == "/leave" {
				return leave()
			}
			if strings.TrimSpace(line) == "" {
				continue
			}
			if err := c.SendChat(ctx, line); err != nil {
				logger.Warn("chat not sent", "err", err)
			}

		case ev := <-c.Events():
			if done, err := printEvent(out, ev); done {
				return err
			}
		}
	}
}

// printEvent renders one client event; done is true once the client has
// failed terminally
func printEvent(out io.Writer, ev client.Event) (done bool, err error) {
	switch ev.Kind {
	case client.EventParticipantJoined:
		fmt.Fprintf(out, "+ %s joined\n", ev.User.Name)
	case client.EventParticipantLeft:
		fmt.Fprintf(out, "- %s left\n", ev.User.Name)
	case client.EventChat:
		if !ev.Local {
			fmt.Fprintf(out, "[%s] %s: %s\n", ev.Chat.Timestamp.Local().Format("15:04"), ev.Chat.UserName, ev.Chat.Message)
		}
	case client.EventSessionEnded:
		fmt.Fprintln(out, "session ended")
	case client.EventState:
		switch ev.State {
		case client.StateReconnecting:
			fmt.Fprintln(out, "connection lost, reconnecting...")
		case client.StateConnected:
			fmt.Fprintln(out, "connected")
		case client.StateFailed:
			if errors.Is(ev.Err, client.ErrSessionUnavailable) {
				return true, nil
			}
			return true, ev.Err
		}
	}
	return false, nil
}
