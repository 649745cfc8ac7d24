package main

import (
	"fmt"
	"os"
	"time"

	"github.com/amoylab/gameroom/pkg/version"

	"github.com/spf13/cobra"
)

var (
	configPath string

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of gameroom",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gameroom version %s\n", version.Get())
		},
	}

	tokenIdentity string
	tokenName     string
	tokenTTL      time.Duration

	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Mint an identity token for development",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runToken(cmd.OutOrStdout(), tokenIdentity, tokenName, tokenTTL)
		},
	}

	sweepSignal bool

	sweepCmd = &cobra.Command{
		Use:   "sweep",
		Short: "Reclaim idle sessions and purge expired ones",
		Long: `Runs one reclaim and purge pass against the configured store. With --signal
the running server is asked to sweep instead, through its PID file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd.Context(), cmd.OutOrStdout(), sweepSignal)
		},
	}

	rootCmd = &cobra.Command{
		Use:   "gameroom",
		Short: "Two-seat game room coordinator",
		Long:  `gameroom pairs two players into a live session, lets others observe, and relays turns over websockets`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "conf", "c", "gameroom.yaml", "path to configuration file")

	tokenCmd.Flags().StringVar(&tokenIdentity, "identity", "", "stable identity carried by the token")
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "display name carried by the token")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime, defaults to jwt.duration")
	_ = tokenCmd.MarkFlagRequired("identity")

	sweepCmd.Flags().BoolVar(&sweepSignal, "signal", false, "signal the running server instead of sweeping in-process")

	rootCmd.AddCommand(versionCmd, tokenCmd, sweepCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
