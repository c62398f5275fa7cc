package decom

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/overmindtech/decommission/tracing"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// ListInstances returns every instance matching the filters that is in an
// actionable state, along with the state of its protection flags. All pages
// are collected before returning. Errors from EC2 are returned as-is (wrapped)
// since nothing downstream can work without an accurate inventory
func ListInstances(ctx context.Context, client EC2Client, filters []types.Filter) ([]InstanceRecord, error) {
	if len(filters) == 0 {
		return nil, ErrEmptyFilter
	}

	ctx, span := tracing.Tracer().Start(ctx, "decom.ListInstances")
	defer span.End()

	paginator := ec2.NewDescribeInstancesPaginator(client, &ec2.DescribeInstancesInput{
		Filters: filters,
	})

	raw := make([]types.Instance, 0)
	pages := 0
	for paginator.HasMorePages() {
		out, err := paginator.NextPage(ctx)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("error describing instances: %w", err)
		}
		pages++

		for _, reservation := range out.Reservations {
			raw = append(raw, reservation.Instances...)
		}
	}

	records := make([]InstanceRecord, 0, len(raw))
	for _, instance := range raw {
		id := aws.ToString(instance.InstanceId)

		var state types.InstanceStateName
		if instance.State != nil {
			state = instance.State.Name
		}

		if !actionableStates[state] {
			log.WithContext(ctx).WithFields(log.Fields{
				"instance-id": id,
				"state":       state,
			}).Debug("Ignoring instance that is not in an actionable state")
			continue
		}

		termination, err := readProtection(ctx, client, id, types.InstanceAttributeNameDisableApiTermination)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}

		stop, err := readProtection(ctx, client, id, types.InstanceAttributeNameDisableApiStop)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}

		records = append(records, InstanceRecord{
			ID:                   id,
			Name:                 tagValue("Name", instance.Tags),
			State:                state,
			TerminationProtected: termination,
			StopProtected:        stop,
		})
	}

	span.SetAttributes(
		attribute.Int("decom.pages", pages),
		attribute.Int("decom.instances.seen", len(raw)),
		attribute.Int("decom.instances.actionable", len(records)),
	)

	return records, nil
}

// tagValue returns the value of the tag with the given key, or NameUnknown if
// there isn't one
func tagValue(key string, tags []types.Tag) string {
	for _, tag := range tags {
		if aws.ToString(tag.Key) == key && tag.Value != nil {
			return *tag.Value
		}
	}
	return NameUnknown
}

func readProtection(ctx context.Context, client EC2Client, instanceID string, attr types.InstanceAttributeName) (bool, error) {
	out, err := client.DescribeInstanceAttribute(ctx, &ec2.DescribeInstanceAttributeInput{
		InstanceId: &instanceID,
		Attribute:  attr,
	})
	if err != nil {
		return false, fmt.Errorf("error reading %v for instance %v: %w", attr, instanceID, err)
	}

	var value *types.AttributeBooleanValue
	switch attr {
	case types.InstanceAttributeNameDisableApiTermination:
		value = out.DisableApiTermination
	case types.InstanceAttributeNameDisableApiStop:
		value = out.DisableApiStop
	}

	if value == nil {
		return false, nil
	}
	return aws.ToBool(value.Value), nil
}
