package decom

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/overmindtech/decommission/tracing"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const DefaultTerminateSettleDelay = 3 * time.Second

// Terminator terminates instances that have been backed up.
//
// A termination is considered successful when EC2 reports the instance as
// shutting-down after the call. This only confirms that termination has
// started, the instance is not polled until it is actually terminated.
type Terminator struct {
	Client EC2Client

	// SettleDelay is how long to wait after each TerminateInstances call
	// before inspecting the reported state
	SettleDelay time.Duration

	Sleep    func(time.Duration)
	Progress Progress
}

// NewTerminator returns a Terminator with the default settle delay
func NewTerminator(client EC2Client) *Terminator {
	return &Terminator{
		Client:      client,
		SettleDelay: DefaultTerminateSettleDelay,
		Sleep:       time.Sleep,
	}
}

func (t *Terminator) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	if t.Sleep == nil {
		time.Sleep(d)
		return
	}
	t.Sleep(d)
}

func (t *Terminator) progress() Progress {
	if t.Progress == nil {
		return noProgress{}
	}
	return t.Progress
}

// Terminate terminates every instance whose backup succeeded. Outcomes with
// Succeeded == false are skipped here rather than relying on the caller, so
// an instance can never be terminated without an image. Each instance is
// attempted exactly once
func (t *Terminator) Terminate(ctx context.Context, backups []BackupOutcome) []TerminationOutcome {
	ctx, span := tracing.Tracer().Start(ctx, "decom.Terminate")
	defer span.End()

	outcomes := make([]TerminationOutcome, 0, len(backups))
	skipped := 0
	failed := 0
	for _, b := range backups {
		if !b.Succeeded || b.ImageID == nil {
			skipped++
			log.WithContext(ctx).WithFields(log.Fields{
				"instance-id":   b.InstanceID,
				"instance-name": b.InstanceName,
			}).Info("Not terminating instance without a successful backup")
			continue
		}

		outcome := t.terminateOne(ctx, b)
		if !outcome.Succeeded {
			failed++
		}
		outcomes = append(outcomes, outcome)
	}

	span.SetAttributes(
		attribute.Int("decom.terminate.total", len(outcomes)),
		attribute.Int("decom.terminate.skipped", skipped),
		attribute.Int("decom.terminate.failed", failed),
	)

	return outcomes
}

func (t *Terminator) terminateOne(ctx context.Context, b BackupOutcome) TerminationOutcome {
	outcome := TerminationOutcome{
		InstanceID:   b.InstanceID,
		InstanceName: b.InstanceName,
	}

	lf := log.Fields{
		"instance-id":   b.InstanceID,
		"instance-name": b.InstanceName,
		"image-id":      b.ImageIDOrNone(),
	}

	t.progress().Info(fmt.Sprintf("Terminating %v (%v)...", b.InstanceName, b.InstanceID))

	out, err := t.Client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{b.InstanceID},
	}, withoutSDKRetries)
	if err != nil {
		log.WithContext(ctx).WithError(err).WithFields(lf).Error("Could not terminate instance")
		t.progress().Warn(fmt.Sprintf("Failed to terminate %v (%v): %v", b.InstanceName, b.InstanceID, err))
		return outcome
	}

	t.sleep(t.SettleDelay)

	outcome.State = reportedState(out, b.InstanceID)
	outcome.Succeeded = outcome.State == types.InstanceStateNameShuttingDown

	if outcome.Succeeded {
		log.WithContext(ctx).WithFields(lf).Info("Instance is shutting down")
		t.progress().Info(fmt.Sprintf("Termination of %v (%v) has started", b.InstanceName, b.InstanceID))
	} else {
		log.WithContext(ctx).WithFields(lf).WithField("state", outcome.State).Error("Instance did not start shutting down")
		t.progress().Warn(fmt.Sprintf("Failed to terminate %v (%v), state is %q", b.InstanceName, b.InstanceID, outcome.State))
	}

	return outcome
}

// reportedState finds the current state of an instance in the response to a
// TerminateInstances call
func reportedState(out *ec2.TerminateInstancesOutput, instanceID string) types.InstanceStateName {
	if out == nil {
		return ""
	}
	for _, change := range out.TerminatingInstances {
		if change.InstanceId != nil && *change.InstanceId != instanceID {
			continue
		}
		if change.CurrentState != nil {
			return change.CurrentState.Name
		}
	}
	return ""
}
