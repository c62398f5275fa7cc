package decom

import (
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
)

// NameUnknown is used for instances that don't carry a Name tag
const NameUnknown = "N/A"

// actionableStates are the only lifecycle states that enter the pipeline.
// Anything else (pending, shutting-down, terminated) is dropped at listing
// time
var actionableStates = map[types.InstanceStateName]bool{
	types.InstanceStateNameRunning:  true,
	types.InstanceStateNameStopping: true,
	types.InstanceStateNameStopped:  true,
}

// InstanceRecord is a snapshot of an instance taken at listing time. Records
// are never updated, re-listing produces a fresh set
type InstanceRecord struct {
	ID                   string
	Name                 string
	State                types.InstanceStateName
	TerminationProtected bool
	StopProtected        bool
}

// Protected returns true if either protection flag is set
func (r InstanceRecord) Protected() bool {
	return r.TerminationProtected || r.StopProtected
}

func (r InstanceRecord) TableHeader() []string {
	return []string{"name", "id", "state", "termination_protection", "stop_protection"}
}

func (r InstanceRecord) TableRow() []string {
	return []string{
		r.Name,
		r.ID,
		string(r.State),
		strconv.FormatBool(r.TerminationProtected),
		strconv.FormatBool(r.StopProtected),
	}
}

// BackupOutcome is the result of backing up a single instance. ImageID is nil
// whenever the image could not be created
type BackupOutcome struct {
	InstanceID   string
	InstanceName string
	ImageID      *string
	ImageName    string
	Succeeded    bool
}

// ImageIDOrNone returns the image ID, or "-" if there isn't one
func (o BackupOutcome) ImageIDOrNone() string {
	if o.ImageID == nil {
		return "-"
	}
	return *o.ImageID
}

func (o BackupOutcome) TableHeader() []string {
	return []string{"instance_name", "instance_id", "ami_id", "ami_name", "backup_completed"}
}

func (o BackupOutcome) TableRow() []string {
	return []string{
		o.InstanceName,
		o.InstanceID,
		o.ImageIDOrNone(),
		o.ImageName,
		strconv.FormatBool(o.Succeeded),
	}
}

// TerminationOutcome is the result of terminating a single instance. State is
// whatever the provider reported straight after the call, it is empty if the
// call itself failed
type TerminationOutcome struct {
	InstanceID   string
	InstanceName string
	State        types.InstanceStateName
	Succeeded    bool
}

func (o TerminationOutcome) TableHeader() []string {
	return []string{"instance_name", "instance_id", "state", "terminate_completed"}
}

func (o TerminationOutcome) TableRow() []string {
	state := string(o.State)
	if state == "" {
		state = "-"
	}
	return []string{
		o.InstanceName,
		o.InstanceID,
		state,
		strconv.FormatBool(o.Succeeded),
	}
}

// Row is anything that can be rendered as a line in a table
type Row interface {
	TableHeader() []string
	TableRow() []string
}

// Rows converts a slice of records into a slice of Rows for rendering
func Rows[T Row](records []T) []Row {
	rows := make([]Row, 0, len(records))
	for _, r := range records {
		rows = append(rows, r)
	}
	return rows
}
