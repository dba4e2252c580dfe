package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shanmukanaks/protocol/consensus"
	"github.com/shanmukanaks/protocol/node"
)

// exitError carries a process exit code out of a cobra RunE.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func fail(code int, format string, args ...any) error {
	return &exitError{code: code, err: fmt.Errorf(format, args...)}
}

type globalFlags struct {
	configPath string
	dataDir    string
	logLevel   string
	bind       string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	if err := root.ExecuteContext(context.Background()); err != nil {
		_, _ = fmt.Fprintln(stderr, err)
		var ee *exitError
		if errors.As(err, &ee) {
			return ee.code
		}
		return 1
	}
	return 0
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:           "exchange-node",
		Short:         "Bitcoin-to-token swap ledger node",
		Long:          `Runs the swap ledger with its light client, HTTP API and notification sinks.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "path to a YAML config file")
	pf.StringVar(&g.dataDir, "datadir", "", "override data_dir")
	pf.StringVar(&g.logLevel, "log-level", "", "override log_level: debug|info|warn|error")
	pf.StringVar(&g.bind, "bind", "", "override api.bind_addr host:port")

	root.AddCommand(
		newRunCmd(&g),
		newStatusCmd(&g),
		newConfigCmd(&g),
		newHashVaultCmd(),
	)
	return root
}

// loadConfig applies file, environment and flag values in that order.
func (g *globalFlags) loadConfig() (node.Config, error) {
	cfg, err := node.LoadConfig(g.configPath)
	if err != nil {
		return node.Config{}, fail(2, "%v", err)
	}
	if g.dataDir != "" {
		cfg.DataDir = g.dataDir
	}
	if g.logLevel != "" {
		cfg.LogLevel = g.logLevel
	}
	if g.bind != "" {
		cfg.API.BindAddr = g.bind
	}
	if err := node.ValidateConfig(cfg); err != nil {
		return node.Config{}, fail(2, "invalid config: %v", err)
	}
	return cfg, nil
}

func (g *globalFlags) openService(cmd *cobra.Command) (*node.Service, node.Config, error) {
	cfg, err := g.loadConfig()
	if err != nil {
		return nil, cfg, err
	}
	log, err := node.NewLogger(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())
	if err != nil {
		return nil, cfg, fail(2, "%v", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return nil, cfg, fail(2, "datadir create failed: %v", err)
	}
	svc, err := node.NewService(cfg, log)
	if err != nil {
		return nil, cfg, fail(2, "service init failed: %v", err)
	}
	return svc, cfg, nil
}

func newRunCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Serve the API and watch for light client forks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, _, err := g.openService(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := svc.Run(ctx); err != nil {
				return fail(1, "%v", err)
			}
			return nil
		},
	}
}

type statusOutput struct {
	Network       string          `json:"network"`
	DataDir       string          `json:"data_dir"`
	Ledger        json.RawMessage `json:"ledger"`
	LightClient   string          `json:"light_client_root"`
	BaseHeight    uint32          `json:"base_height"`
	ChainTip      uint32          `json:"chain_tip_height"`
	CommittedTip  *uint32         `json:"committed_tip_height,omitempty"`
	StoredHeaders int             `json:"stored_headers"`
}

func newStatusCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the persisted ledger and light client state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, cfg, err := g.openService(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			snap, err := svc.Exchange().Snapshot()
			if err != nil {
				return fail(1, "snapshot: %v", err)
			}
			ledger, err := json.Marshal(snap)
			if err != nil {
				return err
			}
			root := svc.LightClient().Root()
			out := statusOutput{
				Network:       cfg.Network,
				DataDir:       cfg.DataDir,
				Ledger:        ledger,
				LightClient:   hex.EncodeToString(root[:]),
				BaseHeight:    svc.LightClient().BaseHeight(),
				ChainTip:      svc.Chain().Tip().Height,
				StoredHeaders: len(svc.Chain().Headers()),
			}
			if leaf, ok := svc.Chain().LeafForRoot(root); ok {
				out.CommittedTip = &leaf.Height
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

func newConfigCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			raw, err := cfg.Marshal()
			if err != nil {
				return fail(1, "config encode failed: %v", err)
			}
			_, err = cmd.OutOrStdout().Write(raw)
			return err
		},
	}
}

func newHashVaultCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-vault [file]",
		Short: "Print the commitment of a JSON-encoded deposit vault",
		Long:  `Reads a vault witness from file, or stdin when no file is given, and prints its commitment hash.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return fail(2, "open vault: %v", err)
				}
				defer f.Close()
				in = f
			}
			var v consensus.DepositVault
			if err := json.NewDecoder(in).Decode(&v); err != nil {
				return fail(2, "decode vault: %v", err)
			}
			h, err := consensus.HashVault(&v)
			if err != nil {
				return fail(2, "hash vault: %v", err)
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "0x%s\n", hex.EncodeToString(h[:]))
			return err
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
