package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/arn"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/sony/gobreaker"

	"github.com/iddaa-lens/rds-snapshots/pkg/logger"
	"github.com/iddaa-lens/rds-snapshots/pkg/models"
)

// rdsAPI is the subset of *rds.Client used here
type rdsAPI interface {
	rds.DescribeDBInstancesAPIClient
	rds.DescribeDBSnapshotsAPIClient
	ListTagsForResource(ctx context.Context, params *rds.ListTagsForResourceInput, optFns ...func(*rds.Options)) (*rds.ListTagsForResourceOutput, error)
	AddTagsToResource(ctx context.Context, params *rds.AddTagsToResourceInput, optFns ...func(*rds.Options)) (*rds.AddTagsToResourceOutput, error)
	RemoveTagsFromResource(ctx context.Context, params *rds.RemoveTagsFromResourceInput, optFns ...func(*rds.Options)) (*rds.RemoveTagsFromResourceOutput, error)
	CreateDBSnapshot(ctx context.Context, params *rds.CreateDBSnapshotInput, optFns ...func(*rds.Options)) (*rds.CreateDBSnapshotOutput, error)
	DeleteDBSnapshot(ctx context.Context, params *rds.DeleteDBSnapshotInput, optFns ...func(*rds.Options)) (*rds.DeleteDBSnapshotOutput, error)
}

// BreakerConfig controls the circuit breaker guarding RDS calls
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the breaker
	MaxFailures uint32
	// Timeout is how long the breaker stays open before a trial call
	Timeout time.Duration
}

// DefaultBreakerConfig returns the breaker settings used when none are configured
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures: 5,
		Timeout:     60 * time.Second,
	}
}

// RDSClient implements Client on top of the AWS RDS API
type RDSClient struct {
	api     rdsAPI
	breaker *gobreaker.CircuitBreaker
	logger  *logger.Logger
}

// NewRDSClient loads the default AWS credential chain for region and builds a client
func NewRDSClient(ctx context.Context, region string, breaker BreakerConfig) (*RDSClient, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return newRDSClient(rds.NewFromConfig(cfg), breaker, logger.New("rds-client")), nil
}

func newRDSClient(api rdsAPI, cfg BreakerConfig, log *logger.Logger) *RDSClient {
	c := &RDSClient{api: api, logger: log}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "rds",
		Timeout: cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return cfg.MaxFailures > 0 && counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		// per-resource faults (access denied, wrong state, not found) count as successes
		IsSuccessful: func(err error) bool {
			return !isOutage(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Str("action", "breaker_state_change").
				Msg("RDS circuit breaker changed state")
		},
	})
	return c
}

// call runs fn through the breaker and logs it as an API call
func (c *RDSClient) call(operation, resource string, fn func() error) error {
	start := time.Now()
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	c.logger.LogAPICall(operation, resource, time.Since(start), err)
	return err
}

func (c *RDSClient) ListInstances(ctx context.Context, identifier string) ([]models.Instance, error) {
	input := &rds.DescribeDBInstancesInput{}
	if identifier != "" {
		input.DBInstanceIdentifier = aws.String(identifier)
	}

	var instances []models.Instance
	err := c.call("DescribeDBInstances", identifier, func() error {
		paginator := rds.NewDescribeDBInstancesPaginator(c.api, input)
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, db := range page.DBInstances {
				instances = append(instances, models.Instance{
					Identifier: aws.ToString(db.DBInstanceIdentifier),
					ARN:        aws.ToString(db.DBInstanceArn),
					Class:      aws.ToString(db.DBInstanceClass),
					Status:     models.InstanceStatus(aws.ToString(db.DBInstanceStatus)),
				})
			}
		}
		return nil
	})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, identifier)
		}
		return nil, fmt.Errorf("failed to describe db instances: %w", err)
	}
	if identifier != "" && len(instances) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, identifier)
	}
	return instances, nil
}

func (c *RDSClient) ListTags(ctx context.Context, resource string) (map[string]string, error) {
	if err := validateARN(resource); err != nil {
		return nil, err
	}

	set := make(map[string]string)
	err := c.call("ListTagsForResource", resource, func() error {
		out, err := c.api.ListTagsForResource(ctx, &rds.ListTagsForResourceInput{
			ResourceName: aws.String(resource),
		})
		if err != nil {
			return err
		}
		for _, tag := range out.TagList {
			set[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list tags for %s: %w", resource, err)
	}
	return set, nil
}

func (c *RDSClient) AddTags(ctx context.Context, resource string, set map[string]string) error {
	if err := validateARN(resource); err != nil {
		return err
	}

	err := c.call("AddTagsToResource", resource, func() error {
		_, err := c.api.AddTagsToResource(ctx, &rds.AddTagsToResourceInput{
			ResourceName: aws.String(resource),
			Tags:         toRDSTags(set),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to add tags to %s: %w", resource, err)
	}
	return nil
}

func (c *RDSClient) RemoveTags(ctx context.Context, resource string, keys ...string) error {
	if err := validateARN(resource); err != nil {
		return err
	}

	err := c.call("RemoveTagsFromResource", resource, func() error {
		_, err := c.api.RemoveTagsFromResource(ctx, &rds.RemoveTagsFromResourceInput{
			ResourceName: aws.String(resource),
			TagKeys:      keys,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to remove tags from %s: %w", resource, err)
	}
	return nil
}

func (c *RDSClient) CreateSnapshot(ctx context.Context, req CreateSnapshotRequest) (*models.Snapshot, error) {
	var snapshot *models.Snapshot
	err := c.call("CreateDBSnapshot", req.SnapshotIdentifier, func() error {
		out, err := c.api.CreateDBSnapshot(ctx, &rds.CreateDBSnapshotInput{
			DBSnapshotIdentifier: aws.String(req.SnapshotIdentifier),
			DBInstanceIdentifier: aws.String(req.InstanceIdentifier),
			Tags:                 toRDSTags(req.Tags),
		})
		if err != nil {
			return err
		}
		if out.DBSnapshot != nil {
			s := fromRDSSnapshot(*out.DBSnapshot)
			snapshot = &s
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot %s: %w", req.SnapshotIdentifier, err)
	}
	if snapshot == nil {
		snapshot = &models.Snapshot{
			Identifier:         req.SnapshotIdentifier,
			InstanceIdentifier: req.InstanceIdentifier,
			Type:               models.SnapshotTypeManual,
		}
	}
	return snapshot, nil
}

func (c *RDSClient) ListManualSnapshots(ctx context.Context) ([]models.Snapshot, error) {
	var snapshots []models.Snapshot
	err := c.call("DescribeDBSnapshots", models.SnapshotTypeManual, func() error {
		paginator := rds.NewDescribeDBSnapshotsPaginator(c.api, &rds.DescribeDBSnapshotsInput{
			SnapshotType: aws.String(models.SnapshotTypeManual),
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return err
			}
			for _, s := range page.DBSnapshots {
				snapshots = append(snapshots, fromRDSSnapshot(s))
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe db snapshots: %w", err)
	}
	return snapshots, nil
}

func (c *RDSClient) DeleteSnapshot(ctx context.Context, identifier string) error {
	err := c.call("DeleteDBSnapshot", identifier, func() error {
		_, err := c.api.DeleteDBSnapshot(ctx, &rds.DeleteDBSnapshotInput{
			DBSnapshotIdentifier: aws.String(identifier),
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete snapshot %s: %w", identifier, err)
	}
	return nil
}

func validateARN(resource string) error {
	parsed, err := arn.Parse(resource)
	if err != nil {
		return fmt.Errorf("%w %q: %v", ErrMalformedARN, resource, err)
	}
	if parsed.Service != "rds" {
		return fmt.Errorf("%w %q: service is %q", ErrMalformedARN, resource, parsed.Service)
	}
	return nil
}

// isOutage reports whether err means the RDS API itself is unhealthy:
// a server fault, a 5xx response, throttling or a transport failure.
func isOutage(err error) bool {
	if err == nil || isNotFound(err) {
		return false
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if apiErr.ErrorFault() == smithy.FaultServer {
			return true
		}
		if _, ok := retry.DefaultThrottleErrorCodes[apiErr.ErrorCode()]; ok {
			return true
		}
	}

	var status interface{ HTTPStatusCode() int }
	if errors.As(err, &status) && status.HTTPStatusCode() >= 500 {
		return true
	}

	var sendErr *smithyhttp.RequestSendError
	if errors.As(err, &sendErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func isNotFound(err error) bool {
	var instanceNotFound *types.DBInstanceNotFoundFault
	var snapshotNotFound *types.DBSnapshotNotFoundFault
	return errors.As(err, &instanceNotFound) || errors.As(err, &snapshotNotFound)
}

func toRDSTags(set map[string]string) []types.Tag {
	out := make([]types.Tag, 0, len(set))
	for k, v := range set {
		out = append(out, types.Tag{Key: aws.String(k), Value: aws.String(v)})
	}
	return out
}

func fromRDSSnapshot(s types.DBSnapshot) models.Snapshot {
	return models.Snapshot{
		Identifier:         aws.ToString(s.DBSnapshotIdentifier),
		ARN:                aws.ToString(s.DBSnapshotArn),
		InstanceIdentifier: aws.ToString(s.DBInstanceIdentifier),
		Status:             models.SnapshotStatus(aws.ToString(s.Status)),
		Type:               aws.ToString(s.SnapshotType),
	}
}

// Interface guard.
var _ Client = (*RDSClient)(nil)
