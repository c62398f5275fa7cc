package decom

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/overmindtech/decommission/tracing"
	log "github.com/sirupsen/logrus"
)

// AnyProtected returns true if any of the records has a protection flag set
func AnyProtected(records []InstanceRecord) bool {
	for _, r := range records {
		if r.Protected() {
			return true
		}
	}
	return false
}

// ClearProtections disables the requested protection flags on a single
// instance. EC2 only allows one attribute per call so each flag is a separate
// request
func ClearProtections(ctx context.Context, client EC2Client, instanceID string, clearTermination, clearStop bool) error {
	if clearTermination {
		_, err := client.ModifyInstanceAttribute(ctx, &ec2.ModifyInstanceAttributeInput{
			InstanceId:            aws.String(instanceID),
			DisableApiTermination: &types.AttributeBooleanValue{Value: aws.Bool(false)},
		})
		if err != nil {
			return fmt.Errorf("error disabling termination protection on %v: %w", instanceID, err)
		}
	}

	if clearStop {
		_, err := client.ModifyInstanceAttribute(ctx, &ec2.ModifyInstanceAttributeInput{
			InstanceId:     aws.String(instanceID),
			DisableApiStop: &types.AttributeBooleanValue{Value: aws.Bool(false)},
		})
		if err != nil {
			return fmt.Errorf("error disabling stop protection on %v: %w", instanceID, err)
		}
	}

	return nil
}

// ClearFailure records an instance whose protections could not be cleared
type ClearFailure struct {
	InstanceID string
	Err        error
}

// ClearAll clears both protection flags on every record, whether or not it
// is currently protected. Failures don't stop the batch, they are returned so
// the caller can report them
func ClearAll(ctx context.Context, client EC2Client, records []InstanceRecord) []ClearFailure {
	ctx, span := tracing.Tracer().Start(ctx, "decom.ClearAll")
	defer span.End()

	var failures []ClearFailure
	for _, r := range records {
		err := ClearProtections(ctx, client, r.ID, true, true)
		if err != nil {
			span.RecordError(err)
			log.WithContext(ctx).WithError(err).WithFields(log.Fields{
				"instance-id":   r.ID,
				"instance-name": r.Name,
			}).Error("Could not clear instance protections")
			failures = append(failures, ClearFailure{InstanceID: r.ID, Err: err})
			continue
		}

		log.WithContext(ctx).WithFields(log.Fields{
			"instance-id":   r.ID,
			"instance-name": r.Name,
		}).Info("Cleared instance protections")
	}

	return failures
}
