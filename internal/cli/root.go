// Package cli implements the dslockctl command line client.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"dslock/pkg/lockclient"
)

// Version is the dslockctl version, overridden at build time.
var Version = "dev"

type app struct {
	v      *viper.Viper
	out    io.Writer
	client *lockclient.Client
}

// NewRootCmd builds the dslockctl command tree writing results to out.
func NewRootCmd(out io.Writer) *cobra.Command {
	a := &app{v: viper.New(), out: out}

	root := &cobra.Command{
		Use:   "dslockctl",
		Short: "inspect and administer dslock locks",
		Long: fmt.Sprintf(`dslockctl (%s)

Command line client for the dslock API: inspect lock keys, release stuck
leases and drive the guarded submission endpoints.`, Version),
		SilenceUsage: true,
	}

	root.PersistentFlags().String("endpoint", "http://localhost:8080", "base URL of the dslock API")
	root.PersistentFlags().Duration("timeout", 5*time.Second, "request timeout")
	root.PersistentFlags().Int("retries", 2, "retries for network errors and 5xx answers")
	root.PersistentFlags().StringP("output", "o", "text", "output format (text, json)")

	root.AddCommand(
		a.statusCmd(),
		a.countCmd(),
		a.releaseCmd(),
		a.submitCmd(),
		a.processCmd(),
		a.versionCmd(),
	)

	return root
}

// setup binds flags and environment, then builds the API client.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	a.v.SetEnvPrefix("dslockctl")
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	switch a.v.GetString("output") {
	case "text", "json":
	default:
		return fmt.Errorf("invalid output format %q", a.v.GetString("output"))
	}

	cfg := lockclient.DefaultConfig(a.v.GetString("endpoint"))
	cfg.Timeout = a.v.GetDuration("timeout")
	cfg.Retry.MaxAttempts = a.v.GetInt("retries")
	a.client = lockclient.New(cfg, zap.NewNop())

	return nil
}

// print writes v as JSON or through the text formatter.
func (a *app) print(v any, text func(io.Writer)) error {
	if a.v.GetString("output") == "json" {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")

		return enc.Encode(v)
	}
	text(a.out)

	return nil
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dslockctl",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(a.out, "dslockctl %s\n", Version)
		},
	}
}
