package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ticketdesk/internal/config"
	"ticketdesk/internal/domain"
	"ticketdesk/internal/journal"
	"ticketdesk/internal/logging"
	"ticketdesk/internal/refresh"
	"ticketdesk/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "td",
	Short: "Ticket desk CLI",
	Long: `td watches an email ticket backend and helps an operator answer it.
- Tickets are fetched from the backend and kept in memory; every refresh replaces the whole list.
- Buckets: needs-supervision (NEW), auto-answered (PENDING), answered (CLOSED). OPEN tickets only show under all.
- A draft is an AI-written reply appended to the ticket; it moves the ticket to PENDING.
- Sending delivers the drafted reply through the backend and closes the ticket.
- 'td serve' runs the dashboard API with a periodic refresh.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logging.ParseLevel(viper.GetString("log-level"))
		if err != nil {
			return err
		}
		logging.Setup(os.Stderr, level)
		return nil
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TICKETDESK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
	_ = viper.BindEnv("llm-api-key", "TICKETDESK_LLM_API_KEY", "GROQ_API_KEY")
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("config", "c", config.Path(""), "config file")
	flags.Bool("json", false, "output JSON")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("gateway", "", "email backend base URL (overrides config)")
	flags.String("journal", "", "activity journal sqlite path (overrides config)")
	flags.String("drafts-mode", "", "draft topology: gateway or local (overrides config)")
	for _, name := range []string{"config", "json", "log-level", "gateway", "journal", "drafts-mode"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(ticketsCmd())
	rootCmd.AddCommand(countsCmd())
	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(agentsCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(journalCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard API with periodic refresh",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDesk(cmd.Context(), func(ctx context.Context, d *desk) error {
				if addr == "" {
					addr = d.Config.Server.Addr
				}
				opts := server.Config{
					Store:    d.Store,
					Refresh:  d.Refresh,
					Actions:  d.Actions,
					Agents:   d.Registry,
					BasePath: basePath,
					Logger:   d.Logger.With("component", "server"),
				}
				if d.Journal != nil {
					opts.Activity = d.Journal
				}
				handler, err := server.New(opts)
				if err != nil {
					return err
				}

				ctx, cancel := context.WithCancel(ctx)
				defer cancel()
				refreshDone := make(chan error, 1)
				go func() {
					err := d.Refresh.Run(ctx)
					if err != nil {
						cancel()
					}
					refreshDone <- err
				}()

				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				d.Logger.Info("serving ticket desk API", "addr", addr, "base_path", basePath, "docs", "/docs")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				if err := <-refreshDone; err != nil {
					return err
				}
				d.Logger.Info("ticket desk stopped")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

func ticketsCmd() *cobra.Command {
	tk := &cobra.Command{Use: "tickets", Short: "Inspect and answer tickets"}
	tk.AddCommand(ticketsListCmd())
	tk.AddCommand(ticketsShowCmd())
	tk.AddCommand(ticketsReplyCmd())
	tk.AddCommand(ticketsSendCmd())
	return tk
}

func ticketsListCmd() *cobra.Command {
	var filter, search string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tickets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLoadedDesk(cmd.Context(), func(ctx context.Context, d *desk) error {
				tickets := d.Store.List(domain.ParseFilter(filter), search)
				if viper.GetBool("json") {
					return printJSON(tickets)
				}
				renderTickets(os.Stdout, tickets)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "all", "all, needs-supervision, auto-answered or answered")
	cmd.Flags().StringVar(&search, "search", "", "search title, description and sender")
	return cmd
}

func ticketsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a ticket and its conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTicketID(args[0])
			if err != nil {
				return err
			}
			return withLoadedDesk(cmd.Context(), func(ctx context.Context, d *desk) error {
				t, err := d.Store.Get(id)
				if err != nil {
					return err
				}
				return printTicket(t)
			})
		},
	}
}

func ticketsReplyCmd() *cobra.Command {
	var send bool
	cmd := &cobra.Command{
		Use:   "reply <id>",
		Short: "Draft a reply, optionally sending it right away",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTicketID(args[0])
			if err != nil {
				return err
			}
			return withLoadedDesk(cmd.Context(), func(ctx context.Context, d *desk) error {
				t, err := d.Actions.GenerateDraft(ctx, id)
				if err != nil {
					return err
				}
				if send {
					if t, err = d.Actions.SendResponse(ctx, id); err != nil {
						return err
					}
				}
				return printTicket(t)
			})
		},
	}
	cmd.Flags().BoolVar(&send, "send", false, "send the draft once generated")
	return cmd
}

func ticketsSendCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "send <id>",
		Short: "Send the ticket's drafted reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseTicketID(args[0])
			if err != nil {
				return err
			}
			return withLoadedDesk(cmd.Context(), func(ctx context.Context, d *desk) error {
				t, err := d.Actions.SendResponse(ctx, id)
				if err != nil {
					return err
				}
				return printTicket(t)
			})
		},
	}
}

func countsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "counts",
		Short: "Ticket counts per bucket",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withLoadedDesk(cmd.Context(), func(ctx context.Context, d *desk) error {
				c := d.Store.Counts()
				if viper.GetBool("json") {
					return printJSON(c)
				}
				renderCounts(os.Stdout, c)
				return nil
			})
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the email backend is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDesk(cmd.Context(), func(ctx context.Context, d *desk) error {
				ok := d.Gateway.CheckConnection(ctx)
				if viper.GetBool("json") {
					if err := printJSON(map[string]any{"gateway": d.Config.Gateway.BaseURL, "ok": ok}); err != nil {
						return err
					}
				} else if ok {
					fmt.Printf("email backend at %s is reachable\n", d.Config.Gateway.BaseURL)
				}
				if !ok {
					return fmt.Errorf("%s: %w", d.Config.Gateway.BaseURL, refresh.ErrServiceUnavailable)
				}
				return nil
			})
		},
	}
}

func agentsCmd() *cobra.Command {
	ag := &cobra.Command{
		Use:   "agents",
		Short: "List responder profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDesk(cmd.Context(), func(ctx context.Context, d *desk) error {
				profiles := d.Registry.Profiles()
				if viper.GetBool("json") {
					return printJSON(map[string]any{"default": d.Registry.Default().Name, "profiles": profiles})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Name", "Description", "Skills", "Default"})
				for _, p := range profiles {
					def := ""
					if p.Name == d.Registry.Default().Name {
						def = "yes"
					}
					tw.AppendRow(table.Row{p.Name, p.Description, strings.Join(p.Skills, ", "), def})
				}
				tw.Render()
				return nil
			})
		},
	}
	ag.AddCommand(agentsPickCmd())
	return ag
}

func agentsPickCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pick <message>",
		Short: "Ask the completion provider which profile should answer a message",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDesk(cmd.Context(), func(ctx context.Context, d *desk) error {
				p := d.Agents.Select(ctx, strings.Join(args, " "))
				return printJSONOrTable(p)
			})
		},
	}
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create ticketdesk.yml",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configInitCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(cfg)
			}
			out, err := config.Marshal(cfg)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := viper.GetString("config")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func journalCmd() *cobra.Command {
	j := &cobra.Command{Use: "journal", Short: "Operator activity journal"}
	j.AddCommand(journalTailCmd())
	return j
}

func journalTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent activity",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Journal.Path == "" {
				return errors.New("no journal configured; pass --journal or set journal.path")
			}
			j, err := journal.Open(cmd.Context(), cfg.Journal.Path)
			if err != nil {
				return err
			}
			defer j.Close()
			entries, err := j.Tail(cmd.Context(), n)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(entries)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Time", "Kind", "Ticket", "Details"})
			for _, e := range entries {
				ticket := ""
				if e.TicketID != 0 {
					ticket = strconv.Itoa(e.TicketID)
				}
				details, _ := json.Marshal(e.Payload)
				tw.AppendRow(table.Row{e.TS, e.Kind, ticket, string(details)})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "n", "n", 20, "number of entries")
	return cmd
}

// --- helpers ---

func parseTicketID(s string) (int, error) {
	id, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid ticket id %q", s)
	}
	return id, nil
}

func senderLabel(s domain.Sender) string {
	if s.Name == "" {
		return s.Email
	}
	return fmt.Sprintf("%s <%s>", s.Name, s.Email)
}

func printTicket(t domain.Ticket) error {
	if viper.GetBool("json") {
		return printJSON(t)
	}
	fmt.Printf("#%d %s [%s]\n", t.ID, t.Title, t.Status)
	fmt.Printf("From: %s\nCreated: %s  Last message: %s\n", senderLabel(t.Sender), t.Created, t.LastMessage)
	if t.Description != "" {
		fmt.Printf("\n%s\n", t.Description)
	}
	fmt.Println()
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"#", "Type", "From", "Time", "Content"})
	for i, m := range t.Messages {
		tw.AppendRow(table.Row{i + 1, m.Type, m.From, m.Timestamp, m.Content})
	}
	tw.Render()
	return nil
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
