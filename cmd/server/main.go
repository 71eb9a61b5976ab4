package main

import (
	"fmt"
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const releaseVersion = "1.0.0"

func main() {
	log.SetFlags(0)
	// A .env file is a convenience for development; absence is fine.
	_ = godotenv.Load()
	cobra.CheckErr(newCmd().Execute())
}

type flags struct {
	port       int
	listen     string
	verbosity  int
	configFile string
	statsDB    string
}

func newCmd() *cobra.Command {
	cfg := &flags{}

	v := viper.New()
	v.SetEnvPrefix("YGAME")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:     "ygame-server",
		Short:   "Websocket game coordination server",
		Args:    cobra.ExactArgs(0),
		Version: releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, cfg)
		},
	}

	fs := cmd.Flags()
	fs.IntVarP(&cfg.port, "port", "p", 8000, "listen to given port (env: YGAME_PORT)")
	fs.StringVarP(&cfg.listen, "listen", "l", "127.0.0.1", "socket address to listen to (env: YGAME_LISTEN)")
	fs.CountVarP(&cfg.verbosity, "verbose", "v", "set the level of verbosity (max 4)")
	fs.StringVar(&cfg.configFile, "config", "", "path to a YAML config file")
	fs.StringVar(&cfg.statsDB, "stats-db", "", "path to the SQLite game-history database (env: YGAME_STATS_DB)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
