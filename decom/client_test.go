package decom

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"
)

var errThrottled = &smithy.GenericAPIError{
	Code:    "RequestLimitExceeded",
	Message: "Request limit exceeded.",
	Fault:   smithy.FaultClient,
}

type testProtections struct {
	termination bool
	stop        bool
}

// testEC2Client is an in-memory EC2 that records every call made to it
type testEC2Client struct {
	instances   []types.Instance
	protections map[string]*testProtections

	// pageSize controls how many instances are returned per
	// DescribeInstances page. Zero means everything in one page
	pageSize int

	describeErr error
	attrErr     error
	modifyErr   map[string]error

	// createImageFailures is how many times CreateImage fails for an
	// instance before succeeding
	createImageFailures map[string]int
	createImageErr      error
	tagErr              error

	terminateState map[string]types.InstanceStateName
	terminateErr   map[string]error

	calls             []string
	describeInputs    []*ec2.DescribeInstancesInput
	createImageInputs []*ec2.CreateImageInput
	createTagsInputs  []*ec2.CreateTagsInput
	retryMaxAttempts  []int
	imageCount        int
}

func newTestEC2Client(instances ...types.Instance) *testEC2Client {
	c := &testEC2Client{
		instances:           instances,
		protections:         map[string]*testProtections{},
		modifyErr:           map[string]error{},
		createImageFailures: map[string]int{},
		terminateState:      map[string]types.InstanceStateName{},
		terminateErr:        map[string]error{},
	}
	for _, i := range instances {
		c.protections[aws.ToString(i.InstanceId)] = &testProtections{}
	}
	return c
}

func testInstance(id, name string, state types.InstanceStateName) types.Instance {
	i := types.Instance{
		InstanceId: aws.String(id),
		State:      &types.InstanceState{Name: state},
	}
	if name != "" {
		i.Tags = []types.Tag{
			{Key: aws.String("Environment"), Value: aws.String("Dev")},
			{Key: aws.String("Name"), Value: aws.String(name)},
		}
	}
	return i
}

func (c *testEC2Client) protect(id string, termination, stop bool) *testEC2Client {
	c.protections[id] = &testProtections{termination: termination, stop: stop}
	return c
}

// mutatingCalls returns the calls that change something in the account
func (c *testEC2Client) mutatingCalls() []string {
	var out []string
	for _, call := range c.calls {
		op, _, _ := strings.Cut(call, ":")
		switch op {
		case "ModifyInstanceAttribute", "CreateImage", "CreateTags", "TerminateInstances":
			out = append(out, call)
		}
	}
	return out
}

// count returns how many times an operation was called
func (c *testEC2Client) count(op string) int {
	n := 0
	for _, call := range c.calls {
		if name, _, _ := strings.Cut(call, ":"); name == op {
			n++
		}
	}
	return n
}

func (c *testEC2Client) recordRetryOptions(optFns []func(*ec2.Options)) {
	opts := ec2.Options{RetryMaxAttempts: 3}
	for _, fn := range optFns {
		fn(&opts)
	}
	c.retryMaxAttempts = append(c.retryMaxAttempts, opts.RetryMaxAttempts)
}

func (c *testEC2Client) DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error) {
	c.calls = append(c.calls, "DescribeInstances")
	c.describeInputs = append(c.describeInputs, params)

	if c.describeErr != nil {
		return nil, c.describeErr
	}

	start := 0
	if params.NextToken != nil {
		var err error
		start, err = strconv.Atoi(*params.NextToken)
		if err != nil {
			return nil, fmt.Errorf("bad token %q", *params.NextToken)
		}
	}

	end := len(c.instances)
	if c.pageSize > 0 && start+c.pageSize < end {
		end = start + c.pageSize
	}

	out := &ec2.DescribeInstancesOutput{}
	if end > start {
		out.Reservations = []types.Reservation{
			{Instances: c.instances[start:end]},
		}
	}
	if end < len(c.instances) {
		out.NextToken = aws.String(strconv.Itoa(end))
	}

	return out, nil
}

func (c *testEC2Client) DescribeInstanceAttribute(ctx context.Context, params *ec2.DescribeInstanceAttributeInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstanceAttributeOutput, error) {
	id := aws.ToString(params.InstanceId)
	c.calls = append(c.calls, "DescribeInstanceAttribute:"+id+":"+string(params.Attribute))

	if c.attrErr != nil {
		return nil, c.attrErr
	}

	p, ok := c.protections[id]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "InvalidInstanceID.NotFound", Message: id}
	}

	out := &ec2.DescribeInstanceAttributeOutput{InstanceId: params.InstanceId}
	switch params.Attribute {
	case types.InstanceAttributeNameDisableApiTermination:
		out.DisableApiTermination = &types.AttributeBooleanValue{Value: aws.Bool(p.termination)}
	case types.InstanceAttributeNameDisableApiStop:
		out.DisableApiStop = &types.AttributeBooleanValue{Value: aws.Bool(p.stop)}
	default:
		return nil, errors.New("unsupported attribute")
	}

	return out, nil
}

func (c *testEC2Client) ModifyInstanceAttribute(ctx context.Context, params *ec2.ModifyInstanceAttributeInput, optFns ...func(*ec2.Options)) (*ec2.ModifyInstanceAttributeOutput, error) {
	id := aws.ToString(params.InstanceId)
	c.calls = append(c.calls, "ModifyInstanceAttribute:"+id)

	if err := c.modifyErr[id]; err != nil {
		return nil, err
	}

	p, ok := c.protections[id]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "InvalidInstanceID.NotFound", Message: id}
	}

	if params.DisableApiTermination != nil {
		p.termination = aws.ToBool(params.DisableApiTermination.Value)
	}
	if params.DisableApiStop != nil {
		p.stop = aws.ToBool(params.DisableApiStop.Value)
	}

	return &ec2.ModifyInstanceAttributeOutput{}, nil
}

func (c *testEC2Client) CreateImage(ctx context.Context, params *ec2.CreateImageInput, optFns ...func(*ec2.Options)) (*ec2.CreateImageOutput, error) {
	id := aws.ToString(params.InstanceId)
	c.calls = append(c.calls, "CreateImage:"+id)
	c.createImageInputs = append(c.createImageInputs, params)
	c.recordRetryOptions(optFns)

	if c.createImageErr != nil {
		return nil, c.createImageErr
	}

	if c.createImageFailures[id] > 0 {
		c.createImageFailures[id]--
		return nil, errThrottled
	}

	c.imageCount++
	return &ec2.CreateImageOutput{
		ImageId: aws.String(fmt.Sprintf("ami-%04d", c.imageCount)),
	}, nil
}

func (c *testEC2Client) CreateTags(ctx context.Context, params *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error) {
	c.calls = append(c.calls, "CreateTags:"+params.Resources[0])
	c.createTagsInputs = append(c.createTagsInputs, params)

	if c.tagErr != nil {
		return nil, c.tagErr
	}

	return &ec2.CreateTagsOutput{}, nil
}

func (c *testEC2Client) TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
	id := params.InstanceIds[0]
	c.calls = append(c.calls, "TerminateInstances:"+id)
	c.recordRetryOptions(optFns)

	if err := c.terminateErr[id]; err != nil {
		return nil, err
	}

	state, ok := c.terminateState[id]
	if !ok {
		state = types.InstanceStateNameShuttingDown
	}

	return &ec2.TerminateInstancesOutput{
		TerminatingInstances: []types.InstanceStateChange{
			{
				InstanceId:    aws.String(id),
				PreviousState: &types.InstanceState{Name: types.InstanceStateNameRunning},
				CurrentState:  &types.InstanceState{Name: state},
			},
		},
	}, nil
}

var testFilters = []types.Filter{
	{Name: aws.String("tag:Project"), Values: []string{"Automation"}},
	{Name: aws.String("tag:Environment"), Values: []string{"Test", "Dev"}},
}
