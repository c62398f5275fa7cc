package decom

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/google/uuid"
	"github.com/overmindtech/decommission/tracing"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// State is a step in a decommissioning run
type State string

const (
	StateStart              State = "START"
	StateListed             State = "LISTED"
	StateAborted            State = "ABORTED"
	StateProtectionsCleared State = "PROTECTIONS_CLEARED"
	StateRelisted           State = "RELISTED"
	StateConfirmedBackup    State = "CONFIRMED_BACKUP"
	StateBackedUp           State = "BACKED_UP"
	StateConfirmedTerminate State = "CONFIRMED_TERMINATE"
	StateTerminated         State = "TERMINATED"
	StateEnd                State = "END"
)

// DisableProtectionsQuestion is what the operator is asked when protected
// instances are found
const DisableProtectionsQuestion = `Do you want to disable "all protections" for all instances?`

// Operator is the human in the loop
type Operator interface {
	// Confirm asks a yes/no question. Anything other than an explicit yes
	// is a no
	Confirm(ctx context.Context, question string) (bool, error)
	// Pause blocks until the operator is ready to continue
	Pause(ctx context.Context, message string) error
}

// Reporter shows the results of each stage. Rendering problems must not
// affect the run so none of these return errors
type Reporter interface {
	ReportInstances(title string, records []InstanceRecord)
	ReportBackups(outcomes []BackupOutcome)
	ReportTerminations(outcomes []TerminationOutcome)
	Message(msg string)
}

// Result describes what a run did
type Result struct {
	RunID        string
	State        State
	Transitions  []State
	Instances    []InstanceRecord
	ClearErrors  []ClearFailure
	Backups      []BackupOutcome
	Terminations []TerminationOutcome
}

func (r *Result) moveTo(ctx context.Context, s State) {
	r.State = s
	r.Transitions = append(r.Transitions, s)

	trace.SpanFromContext(ctx).AddEvent("state", trace.WithAttributes(
		attribute.String("decom.state", string(s)),
	))
	log.WithContext(ctx).WithField("state", s).Debug("Run state changed")
}

// Orchestrator runs the whole list → protect → backup → terminate sequence.
// It is the only thing that holds state across stages
type Orchestrator struct {
	Client  EC2Client
	Filters []types.Filter

	Operator Operator
	Reporter Reporter

	Backupper  *Backupper
	Terminator *Terminator

	// StrictProtections aborts the run if any instance is still protected
	// after protections have been cleared
	StrictProtections bool

	// RunID identifies runs in logs and image tags. Each Run generates its
	// own id when this is empty
	RunID string
}

// Run executes the full sequence. It returns ErrProtectionsDeclined if the
// operator refuses to disable protections, and any listing error as-is.
// Individual backup and termination failures are not errors, they are
// reported in the Result
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	runID := o.RunID
	if runID == "" {
		runID = uuid.New().String()
	}

	ctx, span := tracing.Tracer().Start(ctx, "decom.Run", trace.WithAttributes(
		attribute.String("decom.run-id", runID),
	))
	defer span.End()

	result := &Result{RunID: runID}
	result.moveTo(ctx, StateStart)

	// copied so the run id never leaks into the caller's Backupper
	var backupper Backupper
	if o.Backupper != nil {
		backupper = *o.Backupper
	} else {
		backupper = *NewBackupper(o.Client)
	}
	if backupper.RunID == "" {
		backupper.RunID = runID
	}
	terminator := o.Terminator
	if terminator == nil {
		terminator = NewTerminator(o.Client)
	}

	instances, err := ListInstances(ctx, o.Client, o.Filters)
	if err != nil {
		span.RecordError(err)
		return result, err
	}
	result.Instances = instances
	result.moveTo(ctx, StateListed)

	o.Reporter.ReportInstances("Instances", instances)
	o.Reporter.Message(fmt.Sprintf("Total: %d", len(instances)))

	if len(instances) == 0 {
		result.moveTo(ctx, StateEnd)
		return result, nil
	}

	if AnyProtected(instances) {
		o.Reporter.Message("Found protections enabled on some instances.")

		ok, err := o.Operator.Confirm(ctx, DisableProtectionsQuestion)
		if err != nil {
			result.moveTo(ctx, StateAborted)
			return result, fmt.Errorf("error reading confirmation: %w", err)
		}
		if !ok {
			log.WithContext(ctx).Warn("Operator declined to disable protections")
			result.moveTo(ctx, StateAborted)
			return result, ErrProtectionsDeclined
		}

		result.ClearErrors = ClearAll(ctx, o.Client, instances)
		result.moveTo(ctx, StateProtectionsCleared)

		instances, err = ListInstances(ctx, o.Client, o.Filters)
		if err != nil {
			span.RecordError(err)
			return result, err
		}
		result.Instances = instances
		result.moveTo(ctx, StateRelisted)

		o.Reporter.ReportInstances("Instances (after clearing protections)", instances)

		if err := o.checkStillProtected(ctx, instances); err != nil {
			result.moveTo(ctx, StateAborted)
			return result, err
		}

		if len(instances) == 0 {
			o.Reporter.Message("No instances left to decommission.")
			result.moveTo(ctx, StateEnd)
			return result, nil
		}
	} else {
		o.Reporter.Message("No protections are enabled on any instance.")
	}

	if err := o.Operator.Pause(ctx, "Press enter to continue to back up the instances..."); err != nil {
		result.moveTo(ctx, StateAborted)
		return result, fmt.Errorf("error waiting for operator: %w", err)
	}
	result.moveTo(ctx, StateConfirmedBackup)

	result.Backups = backupper.Backup(ctx, instances)
	result.moveTo(ctx, StateBackedUp)
	o.Reporter.ReportBackups(result.Backups)

	if err := o.Operator.Pause(ctx, "Press enter to continue to terminate the instances..."); err != nil {
		result.moveTo(ctx, StateAborted)
		return result, fmt.Errorf("error waiting for operator: %w", err)
	}
	result.moveTo(ctx, StateConfirmedTerminate)

	result.Terminations = terminator.Terminate(ctx, result.Backups)
	result.moveTo(ctx, StateTerminated)
	o.Reporter.ReportTerminations(result.Terminations)

	result.moveTo(ctx, StateEnd)
	return result, nil
}

// checkStillProtected warns about any instance that kept its protections. In
// strict mode this stops the run
func (o *Orchestrator) checkStillProtected(ctx context.Context, instances []InstanceRecord) error {
	remaining := 0
	for _, r := range instances {
		if !r.Protected() {
			continue
		}
		remaining++
		log.WithContext(ctx).WithFields(log.Fields{
			"instance-id":           r.ID,
			"instance-name":         r.Name,
			"termination-protected": r.TerminationProtected,
			"stop-protected":        r.StopProtected,
		}).Warn("Instance is still protected")
	}

	if remaining == 0 {
		return nil
	}

	o.Reporter.Message(fmt.Sprintf("%d instance(s) are still protected.", remaining))
	if o.StrictProtections {
		return fmt.Errorf("%w: %d instance(s)", ErrProtectionsRemain, remaining)
	}
	return nil
}

// Summary counts the successes and failures of a run
type Summary struct {
	Instances         int
	BackedUp          int
	BackupFailed      int
	Terminated        int
	TerminationFailed int
}

// Summary tallies the outcomes in a result
func (r *Result) Summary() Summary {
	s := Summary{Instances: len(r.Instances)}
	for _, b := range r.Backups {
		if b.Succeeded {
			s.BackedUp++
		} else {
			s.BackupFailed++
		}
	}
	for _, t := range r.Terminations {
		if t.Succeeded {
			s.Terminated++
		} else {
			s.TerminationFailed++
		}
	}
	return s
}
