package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/overmindtech/decommission/decom"
	"github.com/overmindtech/decommission/logging"
	"github.com/overmindtech/decommission/tracing"
	"github.com/overmindtech/pterm"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	cfgFile  string
	logLevel string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "ec2-decommission",
	Short: "Back up and terminate tagged EC2 instances",
	Long: `Finds the EC2 instances matching the given filters, disables their
termination and stop protection (after asking), creates an AMI of each one and
then terminates only the instances whose AMI was created successfully.

Every destructive step waits for the operator to confirm it.`,
	Version:       tracing.Version(),
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          Decommission,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := execute(context.Background(), rootCmd); err != nil {
		if errors.Is(err, decom.ErrProtectionsDeclined) {
			pterm.Info.Println("Come back once protections are disabled.")
		} else {
			pterm.Error.Println(err)
		}
		os.Exit(1)
	}
}

// shutdownTracer flushes spans and sentry events. Replaced in tests
var shutdownTracer = tracing.ShutdownTracer

// execute runs cmd and then shuts tracing down, also when the command failed.
// Cobra skips post-run hooks after an error so this can't be one
func execute(ctx context.Context, cmd *cobra.Command) error {
	defer shutdownTracer(ctx)
	return cmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	// General config
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "info", "Set the log level. Valid values: panic, fatal, error, warn, info, debug, trace")
	rootCmd.PersistentFlags().Bool("json-log", false, "Set to true to emit logs as json for easier parsing.")

	addFilterFlags(rootCmd)
	addAWSFlags(rootCmd)

	// decommissioning
	rootCmd.PersistentFlags().String("image-name-prefix", decom.DefaultImageNamePrefix, "Prefix for the names of the AMIs that are created")
	rootCmd.PersistentFlags().Duration("backup-retry-delay", decom.DefaultBackupRetryDelay, "How long to wait before retrying a failed AMI creation. It is only ever retried once")
	rootCmd.PersistentFlags().Duration("terminate-settle-delay", decom.DefaultTerminateSettleDelay, "How long to wait after each termination request before the result is checked")
	rootCmd.PersistentFlags().Bool("strict-protections", false, "Stop before backing anything up if any instance is still protected after protections were disabled")

	// tracing
	rootCmd.PersistentFlags().Bool("otel", false, "If specified, configures opentelemetry using its default environment configs.")
	rootCmd.PersistentFlags().String("honeycomb-api-key", "", "If specified, configures opentelemetry libraries to submit traces to honeycomb")
	rootCmd.PersistentFlags().String("sentry-dsn", "", "If specified, configures sentry libraries to capture errors")
	rootCmd.PersistentFlags().String("run-mode", "release", "Set the run mode for this service, 'release', 'debug' or 'test'. Defaults to 'release'.")
	rootCmd.PersistentFlags().Bool("stdout-trace-dump", false, "Dump all otel traces to stdout for debugging.")

	// Bind these to viper
	cobra.CheckErr(viper.BindPFlags(rootCmd.PersistentFlags()))

	// Run this before we do anything to set up the loglevel
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if err := logging.Configure(log.StandardLogger(), logLevel, viper.GetBool("json-log")); err != nil {
			log.WithFields(log.Fields{
				"error": err,
			}).Error("Could not parse log level")
		}

		PTermSetup()

		// Bind flags that haven't been set to the values from viper of we have them
		cmd.PersistentFlags().VisitAll(func(f *pflag.Flag) {
			if f.DefValue != "" || f.Changed {
				err := viper.BindPFlag(f.Name, f)
				if err != nil {
					log.WithError(err).Fatal("could not bind flag to viper")
				}
			}
		})

		if tracingEnabled() {
			if err := tracing.InitTracerWithUpstreams("ec2-decommission", viper.GetString("honeycomb-api-key"), viper.GetString("sentry-dsn")); err != nil {
				log.Fatal(err)
			}
		}
	}
}

// tracingEnabled is true when any telemetry upstream has been configured
func tracingEnabled() bool {
	return viper.GetBool("otel") ||
		viper.GetBool("stdout-trace-dump") ||
		viper.GetString("honeycomb-api-key") != "" ||
		viper.GetString("sentry-dsn") != ""
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	replacer := strings.NewReplacer("-", "_")

	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv() // read in environment variables that match

	if cfgFile == "" {
		return
	}

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		log.Infof("Using config file: %v", viper.ConfigFileUsed())
	} else {
		log.WithError(err).Warn(fmt.Sprintf("Could not read config file %v", cfgFile))
	}
}
