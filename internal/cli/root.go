// Package cli implements the dockge command line.
package cli

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/griffithind/dockge/internal/db"
	"github.com/griffithind/dockge/internal/server"
	"github.com/griffithind/dockge/internal/util"
	"github.com/griffithind/dockge/internal/version"
)

var verbose bool

// rootCmd runs the server; dockge is one long-running command plus a
// few maintenance subcommands.
var rootCmd = &cobra.Command{
	Use:   "dockge",
	Short: "A self-hosted Docker Compose control plane",
	Long: `Dockge watches a directory of compose stacks, drives the docker
compose CLI on behalf of browser clients, streams terminal output back
in real time and can federate with other Dockge instances.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		util.SetVerbose(verbose)
	},
	RunE: runServe,
}

// Execute runs the CLI. Called by main.main().
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		util.Error("%v", err)
	}
	return err
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.Int("port", 5001, "port to listen on")
	flags.String("hostname", "", "hostname to bind (default: all interfaces)")
	flags.String("data-dir", defaultDataDir(), "directory for the database and secrets")
	flags.String("stacks-dir", defaultStacksDir(), "directory containing the compose stacks")
	flags.Bool("enable-console", false, "allow the web console terminal")
	flags.String("frontend-dir", defaultFrontendDir(), "directory of the built web UI")

	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Every flag is mirrored as DOCKGE_* in the environment.
	viper.SetEnvPrefix("DOCKGE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if err := viper.BindPFlags(flags); err != nil {
		panic(err)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := server.Config{
		Hostname:      viper.GetString("hostname"),
		Port:          viper.GetInt("port"),
		DataDir:       viper.GetString("data-dir"),
		StacksDir:     viper.GetString("stacks-dir"),
		EnableConsole: viper.GetBool("enable-console"),
		FrontendDir:   viper.GetString("frontend-dir"),
		Version:       version.Version,
		IsContainer:   runningInContainer(),
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.StacksDir, 0o755); err != nil {
		return err
	}

	store, err := db.Open(cfg.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.InitSecrets(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return server.New(cfg, store).Run(ctx)
}

func defaultDataDir() string {
	if runningInContainer() {
		return "/app/data"
	}
	return "./data"
}

func defaultStacksDir() string {
	if runtime.GOOS == "windows" {
		return "./stacks"
	}
	return "/opt/stacks"
}

// defaultFrontendDir resolves the bundled UI next to the binary.
func defaultFrontendDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "./frontend-dist"
	}
	return filepath.Join(filepath.Dir(exe), "frontend-dist")
}

func runningInContainer() bool {
	_, err := os.Stat("/.dockerenv")
	return err == nil
}
