// Package awsconfig turns the credential options given on the command line
// into an aws.Config and the clients built from it
package awsconfig

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/credentials/stscreds"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	StrategyDefaults   = "defaults"
	StrategyAccessKey  = "access-key"
	StrategyExternalID = "external-id"
	StrategySSOProfile = "sso-profile"
)

const appID = "ec2-decommission"

// AuthConfig holds how to authenticate against AWS
type AuthConfig struct {
	Strategy        string
	AccessKeyID     string
	SecretAccessKey string
	ExternalID      string
	TargetRoleARN   string
	Profile         string

	// Region to operate in. Blank means the SDK works it out from the
	// environment or shared config
	Region string
}

// Validate checks that the options required by the strategy are set, and that
// the ones belonging to other strategies are not
func (c AuthConfig) Validate() error {
	switch c.Strategy {
	case StrategyDefaults, "":
		return nil
	case StrategyAccessKey:
		if c.AccessKeyID == "" {
			return errors.New("with access-key strategy, aws-access-key-id cannot be blank")
		}
		if c.SecretAccessKey == "" {
			return errors.New("with access-key strategy, aws-secret-access-key cannot be blank")
		}
		if c.ExternalID != "" {
			return errors.New("with access-key strategy, aws-external-id must be blank")
		}
		if c.TargetRoleARN != "" {
			return errors.New("with access-key strategy, aws-target-role-arn must be blank")
		}
		if c.Profile != "" {
			return errors.New("with access-key strategy, aws-profile must be blank")
		}
	case StrategyExternalID:
		if c.AccessKeyID != "" {
			return errors.New("with external-id strategy, aws-access-key-id must be blank")
		}
		if c.SecretAccessKey != "" {
			return errors.New("with external-id strategy, aws-secret-access-key must be blank")
		}
		if c.ExternalID == "" {
			return errors.New("with external-id strategy, aws-external-id cannot be blank")
		}
		if c.TargetRoleARN == "" {
			return errors.New("with external-id strategy, aws-target-role-arn cannot be blank")
		}
		if c.Profile != "" {
			return errors.New("with external-id strategy, aws-profile must be blank")
		}
	case StrategySSOProfile:
		if c.AccessKeyID != "" {
			return errors.New("with sso-profile strategy, aws-access-key-id must be blank")
		}
		if c.SecretAccessKey != "" {
			return errors.New("with sso-profile strategy, aws-secret-access-key must be blank")
		}
		if c.ExternalID != "" {
			return errors.New("with sso-profile strategy, aws-external-id must be blank")
		}
		if c.TargetRoleARN != "" {
			return errors.New("with sso-profile strategy, aws-target-role-arn must be blank")
		}
		if c.Profile == "" {
			return errors.New("with sso-profile strategy, aws-profile cannot be blank")
		}
	default:
		return fmt.Errorf("invalid aws-access-strategy %q", c.Strategy)
	}

	return nil
}

// AWSConfig loads an aws.Config for the configured strategy. The HTTP client is
// instrumented so that every API call shows up as a span
func (c AuthConfig) AWSConfig(ctx context.Context) (aws.Config, error) {
	if err := c.Validate(); err != nil {
		return aws.Config{}, err
	}

	options := []func(*config.LoadOptions) error{
		config.WithAppID(appID),
		config.WithHTTPClient(&http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}),
	}
	if c.Region != "" {
		options = append(options, config.WithRegion(c.Region))
	}

	switch c.Strategy {
	case StrategyAccessKey:
		options = append(options, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, ""),
		))
	case StrategyExternalID:
		assumeConfig, err := config.LoadDefaultConfig(ctx, options...)
		if err != nil {
			return aws.Config{}, fmt.Errorf("could not load default config from environment: %w", err)
		}

		options = append(options, config.WithCredentialsProvider(aws.NewCredentialsCache(
			stscreds.NewAssumeRoleProvider(
				sts.NewFromConfig(assumeConfig),
				c.TargetRoleARN,
				func(aro *stscreds.AssumeRoleOptions) {
					aro.ExternalID = aws.String(c.ExternalID)
				},
			)),
		))
	case StrategySSOProfile:
		options = append(options, config.WithSharedConfigProfile(c.Profile))
	}

	cfg, err := config.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("error loading AWS config: %w", err)
	}

	if cfg.Region == "" {
		return aws.Config{}, errors.New("no AWS region configured, set aws-region or AWS_REGION")
	}

	return cfg, nil
}

// NewEC2Client creates an EC2 client. Read calls use adaptive retries,
// mutating calls turn retries off per call
func NewEC2Client(cfg aws.Config) *ec2.Client {
	return ec2.NewFromConfig(cfg, func(o *ec2.Options) {
		o.RetryMode = aws.RetryModeAdaptive
	})
}

// Identity is who the run is acting as
type Identity struct {
	Account string
	ARN     string
	UserID  string
}

// STSClient is the part of the STS API used here
type STSClient interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// CallerIdentity looks up the account and principal the credentials belong
// to. This also confirms that the credentials work before anything else is
// attempted
func CallerIdentity(ctx context.Context, client STSClient, region string) (Identity, error) {
	out, err := client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		log.WithContext(ctx).WithError(err).WithField("region", region).Error("Error retrieving account information")
		return Identity{}, fmt.Errorf("error getting caller identity for region %v: %w", region, err)
	}

	return Identity{
		Account: aws.ToString(out.Account),
		ARN:     aws.ToString(out.Arn),
		UserID:  aws.ToString(out.UserId),
	}, nil
}
