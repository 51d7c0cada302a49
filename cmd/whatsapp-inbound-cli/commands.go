package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/fx"

	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/app"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/config"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/ingest"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/jobs"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/store"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/store/postgres"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/tailscale"
	"github.com/Enriquefft/openclaw-whatsapp-inbound/internal/webhook"
)

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// healthURL turns a listen address into a URL reachable from this host.
func healthURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimSuffix(addr, "/") + "/health"
	}
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/health"
}

func newStatusCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check webhook server health and, with postgres, row counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Webhook.Addr
			}
			out := cmd.OutOrStdout()

			client := &http.Client{Timeout: 5 * time.Second}
			resp, err := client.Get(healthURL(addr))
			if err != nil {
				return fmt.Errorf("webhook server unreachable: %w", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("webhook server: unhealthy (status %d)", resp.StatusCode)
			}
			fmt.Fprintln(out, "webhook server: ok")

			if cfg.Store.Driver != "postgres" {
				return nil
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			pool, err := postgres.Open(ctx, cfg.Postgres.DSN, 1)
			if err != nil {
				return err
			}
			defer pool.Close()
			counts, err := postgres.New(pool).Counts(ctx)
			if err != nil {
				return err
			}
			tables := make([]string, 0, len(counts))
			for t := range counts {
				tables = append(tables, t)
			}
			sort.Strings(tables)
			for _, t := range tables {
				fmt.Fprintf(out, "%s: %d\n", t, counts[t])
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "webhook address (default from config)")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Postgres.DSN == "" {
				return fmt.Errorf("postgres.dsn is not set")
			}
			version, err := postgres.Migrate(cfg.Postgres.DSN)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "database at version %d\n", version)
			return nil
		},
	}
}

func newReplayCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "replay <inbox_id> <file>",
		Short: "Process a saved webhook body as if it had just been delivered",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			inboxID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid inbox id %q", args[0])
			}
			var body []byte
			if args[1] == "-" {
				body, err = io.ReadAll(cmd.InOrStdin())
			} else {
				body, err = os.ReadFile(args[1])
			}
			if err != nil {
				return err
			}
			if dryRun {
				if err := os.Setenv("WA_INBOUND_STORE_DRIVER", "memory"); err != nil {
					return err
				}
			}

			opts := []fx.Option{
				fx.Provide(app.ProvideConfig, app.ProvideLogger),
				app.Storage,
				app.Jobs,
				app.Ingest,
				fx.NopLogger,
			}
			if dryRun {
				opts = append(opts, fx.Decorate(func(jobs.Queue) jobs.Queue { return discardQueue{} }))
			}
			var proc *ingest.Processor
			fxApp := fx.New(append(opts, fx.Populate(&proc))...)
			ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
			defer cancel()
			if err := fxApp.Start(ctx); err != nil {
				return err
			}
			defer fxApp.Stop(context.Background())

			results, err := proc.ProcessBody(ctx, inboxID, body)
			if err != nil {
				return err
			}
			return printResults(cmd.OutOrStdout(), results)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "use an in-memory store and skip background jobs")
	return cmd
}

// discardQueue drops jobs so a dry run has no side effects.
type discardQueue struct{}

func (discardQueue) Enqueue(context.Context, string, any) error { return nil }

func printResults(w io.Writer, results []ingest.Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE ID\tOUTCOME\tMESSAGES\tERROR")
	for _, r := range results {
		errText := ""
		if r.Err != nil {
			errText = r.Err.Error()
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", r.SourceID, r.Outcome, len(r.Messages), errText)
	}
	return tw.Flush()
}

func newMessageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "message <inbox_id> <source_id>",
		Short: "Show a stored message and its sender",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			inboxID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid inbox id %q", args[0])
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Store.Driver != "postgres" {
				return fmt.Errorf("message lookup needs store.driver = \"postgres\"")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			pool, err := postgres.Open(ctx, cfg.Postgres.DSN, 1)
			if err != nil {
				return err
			}
			defer pool.Close()
			return showMessage(ctx, cmd.OutOrStdout(), postgres.New(pool), inboxID, args[1])
		},
	}
}

type messageReader interface {
	FindMessage(ctx context.Context, inboxID int64, sourceID string) (store.Message, error)
	GetContact(ctx context.Context, id string) (store.Contact, error)
}

func showMessage(ctx context.Context, w io.Writer, s messageReader, inboxID int64, sourceID string) error {
	msg, err := s.FindMessage(ctx, inboxID, sourceID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no message %q in inbox %d", sourceID, inboxID)
	}
	if err != nil {
		return err
	}

	sender := "user " + msg.SenderID
	if msg.SenderType == store.SenderContact {
		c, err := s.GetContact(ctx, msg.SenderID)
		if err != nil {
			return fmt.Errorf("load sender: %w", err)
		}
		sender = fmt.Sprintf("%s (phone %q, identifier %q)", c.Name, c.PhoneNumber, c.Identifier)
	}
	content := "-"
	if msg.Content != nil {
		content = *msg.Content
	}
	attrs, err := json.Marshal(msg.Attributes)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "id\t%s\n", msg.ID)
	fmt.Fprintf(tw, "source id\t%s\n", msg.SourceID)
	fmt.Fprintf(tw, "conversation\t%s\n", msg.ConversationID)
	fmt.Fprintf(tw, "direction\t%s\n", msg.Direction)
	fmt.Fprintf(tw, "sender\t%s\n", sender)
	fmt.Fprintf(tw, "content\t%s\n", content)
	fmt.Fprintf(tw, "attributes\t%s\n", attrs)
	for _, a := range msg.Attachments {
		fmt.Fprintf(tw, "attachment\t%s %s %s %s\n", a.FileType, a.FileName, a.ContentType, a.StorageKey)
	}
	return tw.Flush()
}

func newURLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "urls <base_url>",
		Short: "Print the webhook URL of every configured inbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			printURLs(cmd.OutOrStdout(), args[0], cfg.Channels)
			return nil
		},
	}
}

func printURLs(w io.Writer, base string, channels []config.ChannelConfig) {
	for _, ch := range channels {
		fmt.Fprintf(w, "inbox %d (%s): %s\n", ch.InboxID, ch.Provider, tailscale.WebhookURL(base, ch.InboxID))
	}
}

func newFunnelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "funnel",
		Short: "Expose the webhook port with tailscale funnel until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			base, proc, err := tailscale.StartFunnel(nil, tailscale.PortOf(cfg.Webhook.Addr))
			if err != nil {
				return err
			}
			defer proc.Kill()

			printURLs(cmd.OutOrStdout(), base, cfg.Channels)

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
			<-sig
			return nil
		},
	}
}

func newSignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sign <secret> <file>",
		Short: "Print the " + webhook.SignatureHeader + " value for a body",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), webhook.Sign(args[0], body))
			return nil
		},
	}
}
