package decom

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, time.March, 5, 14, 7, 9, 0, time.UTC)

func testBackupper(client EC2Client) *Backupper {
	b := NewBackupper(client)
	b.RetryDelay = 0
	b.Now = func() time.Time { return testNow }
	return b
}

type testProgress struct {
	infos []string
	warns []string
}

func (p *testProgress) Info(msg string) { p.infos = append(p.infos, msg) }
func (p *testProgress) Warn(msg string) { p.warns = append(p.warns, msg) }

func TestImageName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ec2-decommission_i-0abc_20240305140709", ImageName(DefaultImageNamePrefix, "i-0abc", testNow))

	// different instances in the same second must not collide
	assert.NotEqual(t, ImageName("p", "i-1", testNow), ImageName("p", "i-2", testNow))
}

func TestBackupSuccess(t *testing.T) {
	t.Parallel()

	client := newTestEC2Client()
	b := testBackupper(client)
	b.RunID = "run-1"

	outcomes := b.Backup(context.Background(), []InstanceRecord{
		{ID: "i-1", Name: "web"},
		{ID: "i-2", Name: "db"},
	})

	require.Len(t, outcomes, 2)
	assert.Equal(t, BackupOutcome{
		InstanceID:   "i-1",
		InstanceName: "web",
		ImageID:      aws.String("ami-0001"),
		ImageName:    "ec2-decommission_i-1_20240305140709",
		Succeeded:    true,
	}, outcomes[0])
	assert.Equal(t, "ami-0002", outcomes[1].ImageIDOrNone())
	assert.NotEqual(t, outcomes[0].ImageName, outcomes[1].ImageName)

	t.Run("create image input", func(t *testing.T) {
		require.Len(t, client.createImageInputs, 2)
		input := client.createImageInputs[0]
		assert.Equal(t, "i-1", aws.ToString(input.InstanceId))
		assert.Equal(t, "ec2-decommission_i-1_20240305140709", aws.ToString(input.Name))
		assert.Equal(t, "AMI created on 2024-03-05 14:07:09 by ec2-decommission.", aws.ToString(input.Description))
		assert.True(t, aws.ToBool(input.NoReboot))
		assert.False(t, aws.ToBool(input.DryRun))
	})

	t.Run("sdk retries are disabled", func(t *testing.T) {
		assert.Equal(t, []int{1, 1}, client.retryMaxAttempts)
	})

	t.Run("images are tagged", func(t *testing.T) {
		require.Len(t, client.createTagsInputs, 2)
		input := client.createTagsInputs[0]
		assert.Equal(t, []string{"ami-0001"}, input.Resources)

		tags := map[string]string{}
		for _, tag := range input.Tags {
			tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
		}
		assert.Equal(t, map[string]string{
			"Name":            "ec2-decommission_i-1_20240305140709",
			TagSourceInstance: "i-1",
			TagRunID:          "run-1",
		}, tags)
	})
}

func TestBackupRetry(t *testing.T) {
	t.Parallel()

	t.Run("one transient failure is retried once", func(t *testing.T) {
		t.Parallel()

		client := newTestEC2Client()
		client.createImageFailures["i-1"] = 1
		progress := &testProgress{}
		b := testBackupper(client)
		b.Progress = progress

		outcomes := b.Backup(context.Background(), []InstanceRecord{{ID: "i-1", Name: "web"}})

		require.Len(t, outcomes, 1)
		assert.True(t, outcomes[0].Succeeded)
		assert.Equal(t, "ami-0001", outcomes[0].ImageIDOrNone())
		assert.Equal(t, 2, client.count("CreateImage"))

		// the retry reuses the same name and description
		require.Len(t, client.createImageInputs, 2)
		assert.Equal(t, client.createImageInputs[0].Name, client.createImageInputs[1].Name)
		assert.Equal(t, client.createImageInputs[0].Description, client.createImageInputs[1].Description)

		assert.NotEmpty(t, progress.warns)
	})

	t.Run("two failures give up", func(t *testing.T) {
		t.Parallel()

		client := newTestEC2Client()
		client.createImageFailures["i-1"] = 5
		b := testBackupper(client)

		outcomes := b.Backup(context.Background(), []InstanceRecord{{ID: "i-1", Name: "web"}})

		require.Len(t, outcomes, 1)
		assert.False(t, outcomes[0].Succeeded)
		assert.Nil(t, outcomes[0].ImageID)
		assert.Equal(t, "-", outcomes[0].ImageIDOrNone())
		assert.Equal(t, "ec2-decommission_i-1_20240305140709", outcomes[0].ImageName)

		// exactly one retry, never more
		assert.Equal(t, 2, client.count("CreateImage"))
		assert.Zero(t, client.count("CreateTags"))
	})

	t.Run("permanent errors are still retried once", func(t *testing.T) {
		t.Parallel()

		client := newTestEC2Client()
		client.createImageErr = &smithy.GenericAPIError{Code: "InvalidInstanceID.NotFound", Message: "nope"}
		b := testBackupper(client)

		outcomes := b.Backup(context.Background(), []InstanceRecord{{ID: "i-1"}})

		assert.False(t, outcomes[0].Succeeded)
		assert.Equal(t, 2, client.count("CreateImage"))
	})

	t.Run("the retry waits for the delay", func(t *testing.T) {
		t.Parallel()

		delay := 50 * time.Millisecond
		client := newTestEC2Client()
		client.createImageFailures["i-1"] = 1
		b := testBackupper(client)
		b.RetryDelay = delay

		start := time.Now()
		outcomes := b.Backup(context.Background(), []InstanceRecord{{ID: "i-1"}})
		elapsed := time.Since(start)

		assert.True(t, outcomes[0].Succeeded)
		assert.Equal(t, 2, client.count("CreateImage"))
		assert.GreaterOrEqual(t, elapsed, delay)
	})

	t.Run("no wait when the first attempt works", func(t *testing.T) {
		t.Parallel()

		client := newTestEC2Client()
		b := testBackupper(client)
		b.RetryDelay = time.Minute

		done := make(chan []BackupOutcome, 1)
		go func() {
			done <- b.Backup(context.Background(), []InstanceRecord{{ID: "i-1"}})
		}()

		select {
		case outcomes := <-done:
			assert.True(t, outcomes[0].Succeeded)
		case <-time.After(5 * time.Second):
			t.Fatal("backup waited for the retry delay without failing")
		}
	})
}

func TestBackupFailureIsolation(t *testing.T) {
	t.Parallel()

	client := newTestEC2Client()
	client.createImageFailures["i-2"] = 2
	b := testBackupper(client)

	records := []InstanceRecord{
		{ID: "i-1", Name: "a"},
		{ID: "i-2", Name: "b"},
		{ID: "i-3", Name: "c"},
	}
	outcomes := b.Backup(context.Background(), records)

	require.Len(t, outcomes, len(records))
	for i, r := range records {
		assert.Equal(t, r.ID, outcomes[i].InstanceID, "outcomes must keep input order")
	}
	assert.True(t, outcomes[0].Succeeded)
	assert.False(t, outcomes[1].Succeeded)
	assert.True(t, outcomes[2].Succeeded)
}

func TestBackupTagFailureIsCosmetic(t *testing.T) {
	t.Parallel()

	client := newTestEC2Client()
	client.tagErr = errors.New("tagging is down")
	progress := &testProgress{}
	b := testBackupper(client)
	b.Progress = progress

	outcomes := b.Backup(context.Background(), []InstanceRecord{{ID: "i-1", Name: "web"}})

	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Succeeded)
	assert.Equal(t, "ami-0001", outcomes[0].ImageIDOrNone())
	assert.Equal(t, 1, client.count("CreateImage"))
	assert.NotEmpty(t, progress.warns)
}

func TestBackupEmpty(t *testing.T) {
	t.Parallel()

	client := newTestEC2Client()
	outcomes := testBackupper(client).Backup(context.Background(), nil)

	assert.Empty(t, outcomes)
	assert.Empty(t, client.calls)
}

func TestBackupOutcomeRow(t *testing.T) {
	t.Parallel()

	failed := BackupOutcome{InstanceID: "i-1", InstanceName: "web", ImageName: "x"}
	assert.Equal(t, []string{"web", "i-1", "-", "x", "false"}, failed.TableRow())
	assert.Len(t, failed.TableHeader(), len(failed.TableRow()))

	record := InstanceRecord{ID: "i-1", Name: "web", State: types.InstanceStateNameRunning, StopProtected: true}
	assert.Equal(t, []string{"web", "i-1", "running", "false", "true"}, record.TableRow())
	assert.Len(t, record.TableHeader(), len(record.TableRow()))
}
