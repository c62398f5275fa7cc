package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/overmindtech/decommission/awsconfig"
	"github.com/overmindtech/decommission/decom"
	"github.com/overmindtech/decommission/logging"
	"github.com/overmindtech/decommission/tracing"
	"github.com/overmindtech/pterm"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func authConfigFromViper() awsconfig.AuthConfig {
	return awsconfig.AuthConfig{
		Strategy:        viper.GetString("aws-access-strategy"),
		AccessKeyID:     viper.GetString("aws-access-key-id"),
		SecretAccessKey: viper.GetString("aws-secret-access-key"),
		ExternalID:      viper.GetString("aws-external-id"),
		TargetRoleARN:   viper.GetString("aws-target-role-arn"),
		Profile:         viper.GetString("aws-profile"),
		Region:          viper.GetString("aws-region"),
	}
}

// Decommission runs the whole decommissioning sequence against the configured
// account and region
func Decommission(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()

	runID := uuid.New().String()
	ctx = tracing.ContextWithRunID(ctx, runID)

	ctx, span := tracing.Tracer().Start(ctx, "CLI Decommission", trace.WithAttributes(
		attribute.String("decom.run-id", runID),
		attribute.StringSlice("decom.filters", viper.GetStringSlice("filter")),
		attribute.String("decom.strategy", viper.GetString("aws-access-strategy")),
	))
	defer span.End()
	defer tracing.RecoverToError(ctx, "Decommission", &err)

	defer func() {
		if err != nil && !errors.Is(err, decom.ErrProtectionsDeclined) {
			sentry.CaptureException(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	filters, err := parseFilters(viper.GetStringSlice("filter"))
	if err != nil {
		return err
	}

	authConfig := authConfigFromViper()
	cfg, err := authConfig.AWSConfig(ctx)
	if err != nil {
		return fmt.Errorf("error loading AWS config: %w", err)
	}

	identity, err := awsconfig.CallerIdentity(ctx, sts.NewFromConfig(cfg), cfg.Region)
	if err != nil {
		return err
	}

	log.AddHook(logging.RunFieldsHook{Fields: logging.RunFields(runID, identity.Account, cfg.Region)})
	span.SetAttributes(
		attribute.String("decom.aws.account", identity.Account),
		attribute.String("decom.aws.region", cfg.Region),
	)

	log.WithContext(ctx).WithFields(log.Fields{
		"principal":          identity.ARN,
		"filters":            viper.GetStringSlice("filter"),
		"image-name-prefix":  viper.GetString("image-name-prefix"),
		"strict-protections": viper.GetBool("strict-protections"),
	}).Info("Starting decommission run")
	pterm.Info.Printfln("Acting as %v in account %v (%v)", identity.ARN, identity.Account, cfg.Region)

	client := awsconfig.NewEC2Client(cfg)
	reporter := newTerminalReporter(os.Stdout)

	backupper := decom.NewBackupper(client)
	backupper.Prefix = viper.GetString("image-name-prefix")
	backupper.RetryDelay = viper.GetDuration("backup-retry-delay")
	backupper.Progress = reporter

	terminator := decom.NewTerminator(client)
	terminator.SettleDelay = viper.GetDuration("terminate-settle-delay")
	terminator.Progress = reporter

	o := &decom.Orchestrator{
		Client:            client,
		Filters:           filters,
		Operator:          newTerminalOperator(os.Stdin, os.Stdout),
		Reporter:          reporter,
		Backupper:         backupper,
		Terminator:        terminator,
		StrictProtections: viper.GetBool("strict-protections"),
		RunID:             runID,
	}

	result, err := o.Run(ctx)
	if result != nil && result.State != decom.StateAborted && len(result.Backups) > 0 {
		reporter.ReportSummary(result.Summary())
	}
	if err != nil {
		return err
	}

	log.WithContext(ctx).WithField("state", result.State).Info("Decommission run finished")
	return nil
}
