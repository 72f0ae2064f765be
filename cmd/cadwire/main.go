package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/codewiresh/cadwire/internal/auth"
	"github.com/codewiresh/cadwire/internal/client"
	"github.com/codewiresh/cadwire/internal/commands"
	"github.com/codewiresh/cadwire/internal/config"
	"github.com/codewiresh/cadwire/internal/mcp"
	"github.com/codewiresh/cadwire/internal/node"
	"github.com/codewiresh/cadwire/internal/protocol"
	"github.com/codewiresh/cadwire/internal/registry"
	"github.com/codewiresh/cadwire/internal/store"
)

var (
	dataDirFlag   string
	transportFlag string
	addrFlag      string
	tokenFlag     string
	outputFlag    string
	logLevelFlag  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "cadwire",
		Short:         "Command bridge between AI agents and CAD/canvas hosts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if _, err := client.ParseFormat(outputFlag); err != nil {
				return err
			}
			switch transportFlag {
			case "auto", "socket", "http", "ws":
			default:
				return fmt.Errorf("unknown transport %q (want auto, socket, http or ws)", transportFlag)
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", config.DefaultDataDir(), "Directory holding config.toml, the pid file and the journal")
	rootCmd.PersistentFlags().StringVar(&transportFlag, "transport", "auto", "auto (socket for CAD, HTTP for canvas), socket, http or ws")
	rootCmd.PersistentFlags().StringVar(&addrFlag, "addr", "", "Override the socket address (--transport socket) or the HTTP address (http, ws)")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "Bearer token for the HTTP transport")
	rootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", client.FormatAuto, "Output format: json, yaml or table")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "debug, info, warn or error (default from config)")

	rootCmd.AddCommand(
		serveCmd(),
		stopCmd(),
		callCmd(),
		commandsCmd(),
		mcpCmd(),
		journalCmd(),
		configCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		var ce *client.CommandError
		if !errors.As(err, &ce) {
			fmt.Fprintf(os.Stderr, "[cadwire] error: %v\n", err)
		}
		os.Exit(1)
	}
}

// loadConfig reads the config and applies --log-level and --token.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(dataDirFlag)
	if err != nil {
		return nil, err
	}
	if logLevelFlag != "" {
		if _, err := config.ParseLevel(logLevelFlag); err != nil {
			return nil, err
		}
		cfg.Log.Level = logLevelFlag
	}
	if tokenFlag != "" {
		cfg.HTTP.Token = tokenFlag
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// ---------------------------------------------------------------------------
// serveCmd
// ---------------------------------------------------------------------------

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run both hosts: CAD over the socket, canvas over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			switch {
			case addrFlag == "":
			case transportFlag == "socket":
				cfg.Socket.Addr = addrFlag
			case transportFlag == "http" || transportFlag == "ws":
				cfg.HTTP.Addr = addrFlag
			default:
				return fmt.Errorf("--addr needs --transport socket or http")
			}

			n, err := node.NewNode(dataDirFlag, cfg)
			if err != nil {
				return fmt.Errorf("initializing node: %w", err)
			}
			defer n.Cleanup()

			ctx, cancel := signalContext()
			defer cancel()
			go func() {
				select {
				case <-n.Ready():
					slog.Info("cadwire ready", "socket", n.SocketAddr(), "http", n.HTTPAddr())
				case <-ctx.Done():
				}
			}()
			go func() {
				<-ctx.Done()
				fmt.Fprintln(os.Stderr, "[cadwire] shutting down...")
			}()
			return n.Run(ctx)
		},
	}
}

// ---------------------------------------------------------------------------
// stopCmd
// ---------------------------------------------------------------------------

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			pidPath := filepath.Join(dataDirFlag, "cadwire.pid")
			data, err := os.ReadFile(pidPath)
			if err != nil {
				return fmt.Errorf("reading pid file: %w (is cadwire serve running?)", err)
			}
			pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
			if err != nil {
				return fmt.Errorf("invalid pid file: %w", err)
			}
			if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
				if err == syscall.ESRCH {
					_ = os.Remove(pidPath)
					fmt.Fprintln(os.Stderr, "[cadwire] daemon already stopped (stale pid file removed)")
					return nil
				}
				return fmt.Errorf("sending SIGTERM to pid %d: %w", pid, err)
			}
			fmt.Fprintf(os.Stderr, "[cadwire] sent SIGTERM to daemon (pid %d)\n", pid)
			return nil
		},
	}
}

// ---------------------------------------------------------------------------
// callCmd
// ---------------------------------------------------------------------------

func callCmd() *cobra.Command {
	var saveImage string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "call <command> [json-params | -]",
		Short: "Send one command and print the response",
		Long: "Send one command to the host that serves it and print the full response.\n" +
			"Params are a JSON object, or - to read it from stdin.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			var params *protocol.Map
			if len(args) == 2 {
				if params, err = parseParams(args[1], cmd.InOrStdin()); err != nil {
					return err
				}
			}
			if timeout > 0 {
				cfg.Client.Timeout.Duration = timeout
			}

			d, err := dispatcher(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			ctx, cancel := signalContext()
			defer cancel()
			resp, err := client.Call(ctx, d, cmd.OutOrStdout(), args[0], params, outputFlag)
			if err != nil {
				return err
			}
			if saveImage != "" {
				ok, err := client.SaveSnapshotImage(resp.Result, saveImage)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("response carries no image (pass capture_image: true to scene-snapshot)")
				}
				fmt.Fprintf(os.Stderr, "[cadwire] image written to %s\n", saveImage)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&saveImage, "save-image", "", "Write a scene-snapshot PNG to this path")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Client timeout (default from config)")
	return cmd
}

func parseParams(arg string, stdin io.Reader) (*protocol.Map, error) {
	data := []byte(arg)
	if arg == "-" {
		var err error
		if data, err = io.ReadAll(stdin); err != nil {
			return nil, fmt.Errorf("reading params from stdin: %w", err)
		}
	}
	v, err := protocol.ParseValue(data)
	if err != nil {
		return nil, fmt.Errorf("parsing params: %w", err)
	}
	m, ok := v.(*protocol.Map)
	if !ok {
		return nil, fmt.Errorf("params must be a JSON object, got %s", v.Kind())
	}
	return m, nil
}

// dispatcher builds the caller side. CAD commands always go over the
// socket; --transport picks the canvas binding, and socket leaves the
// canvas host unreachable.
func dispatcher(ctx context.Context, cfg *config.Config) (client.Dispatcher, error) {
	timeout := cfg.Client.Timeout.Duration
	socketAddr, httpAddr := cfg.Socket.Addr, cfg.HTTP.Addr
	if addrFlag != "" {
		switch transportFlag {
		case "socket":
			socketAddr = addrFlag
		case "http", "ws":
			httpAddr = addrFlag
		default:
			return nil, fmt.Errorf("--addr needs --transport socket, http or ws")
		}
	}
	cad := client.NewSocketClient(socketAddr, timeout)
	if transportFlag == "socket" {
		return client.NewRouter(commands.CAD(), cad, nil), nil
	}

	baseURL := httpURL(httpAddr)
	var canvas client.Dispatcher
	if transportFlag == "ws" {
		dialCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		ws, err := client.DialWS(dialCtx, baseURL, cfg.HTTP.Token)
		if err != nil {
			cad.Close()
			return nil, err
		}
		canvas = ws
	} else {
		canvas = client.NewHTTPClient(baseURL, cfg.HTTP.Token, timeout)
	}
	return client.NewRouter(commands.All(), cad, canvas), nil
}

func httpURL(addr string) string {
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	return "http://" + addr
}

// ---------------------------------------------------------------------------
// commandsCmd
// ---------------------------------------------------------------------------

func commandsCmd() *cobra.Command {
	var remote bool
	var hostFilter string

	cmd := &cobra.Command{
		Use:   "commands",
		Short: "List the commands of both hosts",
		RunE: func(cmd *cobra.Command, args []string) error {
			var summaries []registry.Summary
			if remote {
				cfg, err := loadConfig()
				if err != nil {
					return err
				}
				addr := cfg.HTTP.Addr
				if addrFlag != "" {
					addr = addrFlag
				}
				c := client.NewHTTPClient(httpURL(addr), cfg.HTTP.Token, cfg.Client.Timeout.Duration)
				defer c.Close()
				if summaries, err = c.Commands(cmd.Context()); err != nil {
					return err
				}
			} else {
				reg, err := registry.New(commands.All()...)
				if err != nil {
					return err
				}
				summaries = reg.Summaries()
			}
			if hostFilter != "" {
				kept := summaries[:0]
				for _, s := range summaries {
					if string(s.Host) == hostFilter {
						kept = append(kept, s)
					}
				}
				summaries = kept
			}
			return client.PrintCommands(cmd.OutOrStdout(), summaries, outputFlag)
		},
	}
	cmd.Flags().BoolVar(&remote, "remote", false, "Fetch the catalog from the running daemon over HTTP")
	cmd.Flags().StringVar(&hostFilter, "host", "", "Only list commands of this host (cad or canvas)")
	return cmd
}

// ---------------------------------------------------------------------------
// mcpCmd
// ---------------------------------------------------------------------------

func mcpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve every command as an MCP tool over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext()
			defer cancel()
			d, err := dispatcher(ctx, cfg)
			if err != nil {
				return err
			}
			defer d.Close()

			descs := commands.All()
			if transportFlag == "socket" {
				descs = commands.CAD()
			}
			return mcp.Serve(ctx, d, descs)
		},
	}
}

// ---------------------------------------------------------------------------
// journalCmd
// ---------------------------------------------------------------------------

func journalCmd() *cobra.Command {
	var (
		limit  int
		name   string
		status string
		host   string
		since  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show recently executed commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if !cfg.Journal.Enabled {
				return fmt.Errorf("journal disabled; set enabled = true under [journal] in %s", filepath.Join(dataDirFlag, "config.toml"))
			}
			j, err := store.NewSQLiteJournal(cfg.Journal.Path, 0)
			if err != nil {
				return err
			}
			defer j.Close()

			f := store.Filter{Host: host, Name: name, Status: status, Limit: limit}
			if since > 0 {
				f.Since = time.Now().Add(-since)
			}
			entries, err := j.List(cmd.Context(), f)
			if err != nil {
				return err
			}
			return client.PrintJournal(cmd.OutOrStdout(), entries, outputFlag)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum entries to show")
	cmd.Flags().StringVar(&name, "name", "", "Only this command")
	cmd.Flags().StringVar(&status, "status", "", "Only ok or error")
	cmd.Flags().StringVar(&host, "host", "", "Only cad or canvas")
	cmd.Flags().DurationVar(&since, "since", 0, "Only entries newer than this")
	return cmd
}

// ---------------------------------------------------------------------------
// configCmd
// ---------------------------------------------------------------------------

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or initialize config.toml",
	}

	var force, withToken bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config.toml to the data dir",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := filepath.Join(dataDirFlag, "config.toml")
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			cfg := config.Default()
			if withToken {
				token, err := auth.GenerateToken()
				if err != nil {
					return err
				}
				cfg.HTTP.Token = token
			}
			if err := cfg.Save(dataDirFlag); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "[cadwire] wrote %s\n", path)
			if withToken {
				fmt.Fprintf(os.Stderr, "[cadwire] http token: %s\n", cfg.HTTP.Token)
			}
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config.toml")
	initCmd.Flags().BoolVar(&withToken, "with-token", false, "Generate a bearer token for the HTTP transport")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}
