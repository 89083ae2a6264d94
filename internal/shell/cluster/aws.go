package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	smithy "github.com/aws/smithy-go"
)

// DNSLabelTag is the tag the aws backend records the cluster's DNS label
// under. Elastic IPs have no provider-assigned hostname.
const DNSLabelTag = "quickops:dns-label"

// AWSConfig configures the EC2 inventory.
type AWSConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// ec2API is the subset of *ec2.Client used here.
type ec2API interface {
	DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	DescribeAddresses(ctx context.Context, in *ec2.DescribeAddressesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeAddressesOutput, error)
	CreateTags(ctx context.Context, in *ec2.CreateTagsInput, optFns ...func(*ec2.Options)) (*ec2.CreateTagsOutput, error)
}

// AWSInventory implements Inventory over EC2 instances and Elastic IPs,
// matching on the Name tag.
type AWSInventory struct {
	client ec2API
	logger *slog.Logger
}

// NewAWSInventory creates an AWSInventory with static credentials.
func NewAWSInventory(cfg AWSConfig, logger *slog.Logger) *AWSInventory {
	client := ec2.New(ec2.Options{
		Region:      cfg.Region,
		Credentials: credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
	})
	return newAWSInventory(client, logger)
}

func newAWSInventory(client ec2API, logger *slog.Logger) *AWSInventory {
	if logger == nil {
		logger = slog.Default()
	}
	return &AWSInventory{client: client, logger: logger.With("provider", "aws")}
}

func nameFilter(pattern string) ec2types.Filter {
	return ec2types.Filter{Name: aws.String("tag:Name"), Values: []string{"*" + pattern + "*"}}
}

// ResourcesExist implements Inventory.
func (a *AWSInventory) ResourcesExist(ctx context.Context, pattern string) (bool, error) {
	out, err := a.client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		Filters: []ec2types.Filter{
			nameFilter(pattern),
			{Name: aws.String("instance-state-name"), Values: []string{"pending", "running", "stopping", "stopped"}},
		},
	})
	if err != nil {
		return false, describeAPIError("describe instances", err)
	}
	for _, res := range out.Reservations {
		if len(res.Instances) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// ListPublicIPs implements Inventory.
func (a *AWSInventory) ListPublicIPs(ctx context.Context, pattern string) ([]PublicIP, error) {
	out, err := a.client.DescribeAddresses(ctx, &ec2.DescribeAddressesInput{
		Filters: []ec2types.Filter{nameFilter(pattern)},
	})
	if err != nil {
		return nil, describeAPIError("describe addresses", err)
	}

	ips := make([]PublicIP, 0, len(out.Addresses))
	for _, addr := range out.Addresses {
		tags := make(map[string]string, len(addr.Tags))
		for _, t := range addr.Tags {
			tags[aws.ToString(t.Key)] = aws.ToString(t.Value)
		}
		ips = append(ips, PublicIP{
			ID:      aws.ToString(addr.AllocationId),
			Name:    tags["Name"],
			Address: aws.ToString(addr.PublicIp),
			Tags:    tags,
		})
	}
	return ips, nil
}

// AssignDNS implements Inventory by tagging the allocation with label.
func (a *AWSInventory) AssignDNS(ctx context.Context, ip PublicIP, label string) error {
	_, err := a.client.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{ip.ID},
		Tags:      []ec2types.Tag{{Key: aws.String(DNSLabelTag), Value: aws.String(label)}},
	})
	if err != nil {
		return describeAPIError("tag address", err)
	}
	a.logger.Info("tagged address with dns label", "allocation_id", ip.ID, "label", label)
	return nil
}

// describeAPIError surfaces the AWS error code, which is what operators
// search for.
func describeAPIError(op string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %s: %w", op, apiErr.ErrorCode(), err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
