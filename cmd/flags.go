package cmd

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/spf13/cobra"
)

// defaultFilters select the instances this tool was written for
var defaultFilters = []string{
	"tag:Project=Automation",
	"tag:Environment=Test,Dev",
}

// Adds the flags that select which instances are decommissioned
func addFilterFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringArray("filter", defaultFilters, "An EC2 filter in name=value1,value2 format, e.g. tag:Environment=Test,Dev. Instances must match every filter. Can be repeated.")
}

// Adds the flags that control how AWS is accessed
func addAWSFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("aws-region", "", "The AWS region to operate in. Defaults to the region from the environment or shared config.")
	cmd.PersistentFlags().String("aws-access-strategy", "defaults", "The strategy to use to access this customer's AWS account. Valid values: 'access-key', 'external-id', 'sso-profile', 'defaults'.")
	cmd.PersistentFlags().String("aws-access-key-id", "", "The ID of the access key to use")
	cmd.PersistentFlags().String("aws-secret-access-key", "", "The secret access key to use for auth")
	cmd.PersistentFlags().String("aws-external-id", "", "The external ID to use when assuming the customer's role")
	cmd.PersistentFlags().String("aws-target-role-arn", "", "The role to assume in the customer's account")
	cmd.PersistentFlags().String("aws-profile", "", "The AWS SSO Profile to use. Defaults to $AWS_PROFILE, then whatever the AWS SDK's SSO config defaults to")
}

// parseFilters converts name=value1,value2 strings into EC2 filters
func parseFilters(args []string) ([]types.Filter, error) {
	filters := make([]types.Filter, 0, len(args))
	for _, arg := range args {
		name, rawValues, ok := strings.Cut(arg, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid filter format: %q (expected name=value1,value2)", arg)
		}

		var values []string
		for v := range strings.SplitSeq(rawValues, ",") {
			v = strings.TrimSpace(v)
			if v != "" {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			return nil, fmt.Errorf("invalid filter format: %q (filter %v has no values)", arg, name)
		}

		filters = append(filters, types.Filter{
			Name:   aws.String(name),
			Values: values,
		})
	}
	return filters, nil
}
