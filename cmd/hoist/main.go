// Package main is the entrypoint for the hoist tool server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	// Import tools to register them
	_ "github.com/hoistdev/hoist/internal/tool/exectool"
	_ "github.com/hoistdev/hoist/internal/tool/factstool"
	_ "github.com/hoistdev/hoist/internal/tool/filetool"
	_ "github.com/hoistdev/hoist/internal/tool/pkgtool"
	_ "github.com/hoistdev/hoist/internal/tool/servicetool"
	_ "github.com/hoistdev/hoist/internal/tool/sessiontool"

	"github.com/hoistdev/hoist/internal/auth"
	"github.com/hoistdev/hoist/internal/config"
	"github.com/hoistdev/hoist/internal/engine"
	"github.com/hoistdev/hoist/internal/server"
	"github.com/hoistdev/hoist/internal/session"
	"github.com/hoistdev/hoist/internal/tool"
	"github.com/hoistdev/hoist/internal/transport/sshx"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags
var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "hoist",
	Short: "Hoist - remote host automation over SSH/SFTP",
	Long: `Hoist automates remote hosts over SSH and SFTP through a
tool-call interface: command execution, file transfer, package and
service management. Many sessions are multiplexed behind short opaque
handles with TTL expiry and LRU eviction.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (YAML); HOIST_* env vars override it")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(versionCmd)
}

// versionCmd prints build information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("hoist %s (commit: %s, built: %s)\n", version, commit, date)
	},
}

// serveCmd runs the stdio tool-call loop.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve tool calls on stdin/stdout",
	Long: `Read line-delimited JSON tool calls on stdin and write one JSON
response per line on stdout.

Example request:
  {"id":1,"tool":"session.open","params":{"host":"db1","username":"ops","password":"s3cret"}}`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := cfg.Logger()
	log := logger.WithField("component", "hoist")

	resolverOpts := []auth.Option{}
	if cfg.KeyDir != "" {
		resolverOpts = append(resolverOpts, auth.WithKeyDir(cfg.KeyDir))
	}
	resolver := auth.NewResolver(logger.WithField("component", "auth"), resolverOpts...)

	dialer := sshx.NewDialer(logger.WithField("component", "ssh"))

	sessions := session.NewManager(resolver, dialer, cfg.SessionConfig(),
		logger.WithField("component", "session"))
	sessions.Start()
	defer sessions.Stop()

	eng := engine.New(sessions, logger.WithField("component", "engine"))

	deps := &tool.Deps{
		Sessions: sessions,
		Engine:   eng,
		Config:   cfg,
		Log:      log,
	}

	// Stop serving on interrupt; Stop() then closes every session.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("interrupted, shutting down")
		cancel()
	}()

	log.WithField("tools", len(tool.List())).Info("serving tool calls on stdio")
	return server.New(deps).Serve(ctx, os.Stdin, os.Stdout)
}

// toolsCmd lists available tools
var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List available tools",
	Long:  `Display a list of all tools the server dispatches.`,
	Run: func(cmd *cobra.Command, args []string) {
		names := tool.List()
		if len(names) == 0 {
			fmt.Println("No tools registered.")
			return
		}

		fmt.Println("Available tools:")
		fmt.Println()
		for _, name := range names {
			fmt.Printf("  %-20s %s\n", name, tool.Describe(name))
		}
		fmt.Println()
		fmt.Printf("Total: %d tools\n", len(names))
	},
}
