package decom

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/cenkalti/backoff/v5"
	"github.com/overmindtech/decommission/tracing"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultImageNamePrefix   = "ec2-decommission"
	DefaultBackupRetryDelay  = 5 * time.Second
	backupMaxTries           = 2
	imageNameTimestampFormat = "20060102150405"
)

// Tag keys added to every image alongside its Name
const (
	TagSourceInstance = "decommission:source-instance"
	TagRunID          = "decommission:run-id"
)

var errNoImageID = errors.New("CreateImage returned no image ID")

// ImageName builds the name of the image for an instance. The instance ID
// keeps names unique across instances processed within the same second
func ImageName(prefix, instanceID string, t time.Time) string {
	return fmt.Sprintf("%v_%v_%v", prefix, instanceID, t.Format(imageNameTimestampFormat))
}

// Backupper creates a machine image for each instance it's given
type Backupper struct {
	Client EC2Client

	// Prefix for image names, defaults to DefaultImageNamePrefix
	Prefix string
	// RetryDelay is how long to wait before the single retry of a failed
	// CreateImage call
	RetryDelay time.Duration
	// RunID is added as a tag to each image so they can be traced back to a
	// run. Optional
	RunID string

	Now      func() time.Time
	Progress Progress
}

// NewBackupper returns a Backupper with the default prefix and retry delay
func NewBackupper(client EC2Client) *Backupper {
	return &Backupper{
		Client:     client,
		Prefix:     DefaultImageNamePrefix,
		RetryDelay: DefaultBackupRetryDelay,
		Now:        time.Now,
	}
}

func (b *Backupper) prefix() string {
	if b.Prefix == "" {
		return DefaultImageNamePrefix
	}
	return b.Prefix
}

func (b *Backupper) now() time.Time {
	if b.Now == nil {
		return time.Now()
	}
	return b.Now()
}

func (b *Backupper) progress() Progress {
	if b.Progress == nil {
		return noProgress{}
	}
	return b.Progress
}

// Backup creates an image for each record in order. It always returns exactly
// one outcome per record, in the same order. A failure on one instance does
// not affect the others
func (b *Backupper) Backup(ctx context.Context, records []InstanceRecord) []BackupOutcome {
	ctx, span := tracing.Tracer().Start(ctx, "decom.Backup")
	defer span.End()

	outcomes := make([]BackupOutcome, 0, len(records))
	failed := 0
	for _, r := range records {
		outcome := b.backupOne(ctx, r)
		if !outcome.Succeeded {
			failed++
		}
		outcomes = append(outcomes, outcome)
	}

	span.SetAttributes(
		attribute.Int("decom.backup.total", len(records)),
		attribute.Int("decom.backup.failed", failed),
	)

	return outcomes
}

func (b *Backupper) backupOne(ctx context.Context, r InstanceRecord) BackupOutcome {
	now := b.now()
	name := ImageName(b.prefix(), r.ID, now)
	description := fmt.Sprintf("AMI created on %v by %v.", now.Format(time.DateTime), b.prefix())

	outcome := BackupOutcome{
		InstanceID:   r.ID,
		InstanceName: r.Name,
		ImageName:    name,
	}

	lf := log.Fields{
		"instance-id":   r.ID,
		"instance-name": r.Name,
		"image-name":    name,
	}

	// The same name and description are used for the retry
	input := &ec2.CreateImageInput{
		InstanceId:  aws.String(r.ID),
		Name:        aws.String(name),
		Description: aws.String(description),
		NoReboot:    aws.Bool(true),
		DryRun:      aws.Bool(false),
	}

	imageID, err := backoff.Retry(ctx,
		func() (string, error) {
			b.progress().Info(fmt.Sprintf("Creating image from instance %v (%v)...", r.Name, r.ID))

			out, err := b.Client.CreateImage(ctx, input, withoutSDKRetries)
			if err != nil {
				return "", err
			}
			if out == nil || out.ImageId == nil {
				return "", backoff.Permanent(errNoImageID)
			}
			return *out.ImageId, nil
		},
		backoff.WithBackOff(backoff.NewConstantBackOff(b.RetryDelay)),
		backoff.WithMaxTries(backupMaxTries),
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.WithContext(ctx).WithError(err).WithFields(lf).WithFields(log.Fields{
				"transient": IsTransient(err),
				"wait":      wait.String(),
			}).Warn("Image creation failed, retrying")
			b.progress().Warn(fmt.Sprintf("Creating image failed, retrying: %v", err))
		}),
	)
	if err != nil {
		log.WithContext(ctx).WithError(err).WithFields(lf).Error("Image creation failed, skipping instance")
		b.progress().Warn(fmt.Sprintf("Creating image failed again: %v", err))
		b.progress().Warn(fmt.Sprintf("Skipped instance %v (%v)", r.Name, r.ID))
		return outcome
	}

	outcome.ImageID = aws.String(imageID)
	outcome.Succeeded = true

	b.tagImage(ctx, r, imageID, name)

	log.WithContext(ctx).WithFields(lf).WithField("image-id", imageID).Info("Image creation requested")
	b.progress().Info(fmt.Sprintf("Image %v created for instance %v (%v)", imageID, r.Name, r.ID))

	return outcome
}

// tagImage names the image. This is cosmetic, failures are only logged
func (b *Backupper) tagImage(ctx context.Context, r InstanceRecord, imageID, name string) {
	tags := []types.Tag{
		{Key: aws.String("Name"), Value: aws.String(name)},
		{Key: aws.String(TagSourceInstance), Value: aws.String(r.ID)},
	}
	if b.RunID != "" {
		tags = append(tags, types.Tag{Key: aws.String(TagRunID), Value: aws.String(b.RunID)})
	}

	_, err := b.Client.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{imageID},
		Tags:      tags,
	})
	if err != nil {
		log.WithContext(ctx).WithError(err).WithFields(log.Fields{
			"instance-id": r.ID,
			"image-id":    imageID,
		}).Warn("Could not tag image")
		b.progress().Warn(fmt.Sprintf("Could not tag image %v: %v", imageID, err))
	}
}
