package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func newRootCmd() *cobra.Command {
	a := newApp()
	cmd := &cobra.Command{
		Use:          "bo",
		Short:        "Fixaren back-office sales pipeline",
		Long:         "bo manages the sales pipeline: stages, deals, the activity ledger and automation.",
		SilenceUsage: true,
	}

	flags := cmd.PersistentFlags()
	flags.StringP("config", "c", defaultConfigPath, "path to backoffice config file")
	flags.String("tenant", "", "tenant id (env BO_TENANT)")
	flags.String("user", "cli", "acting user id (env BO_USER)")
	flags.Bool("json", false, "output JSON")
	for _, name := range []string{"config", "tenant", "user", "json"} {
		_ = a.v.BindPFlag(name, flags.Lookup(name))
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newDBCmd(a))
	cmd.AddCommand(newStageCmd(a))
	cmd.AddCommand(newDealCmd(a))
	cmd.AddCommand(newActivityCmd(a))
	cmd.AddCommand(newAutomationCmd(a))
	cmd.AddCommand(newStatsCmd(a))
	cmd.AddCommand(newSweepCmd(a))
	cmd.AddCommand(newTokenCmd(a))
	return cmd
}

// app carries the settings shared by all commands.
type app struct {
	v *viper.Viper
}

func newApp() *app {
	v := viper.New()
	v.SetEnvPrefix("BO")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()
	return &app{v: v}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "bo %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
