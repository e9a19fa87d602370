// Package athena submits DDL statements to Amazon Athena.
package athena

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awsathena "github.com/aws/aws-sdk-go-v2/service/athena"
	athenatypes "github.com/aws/aws-sdk-go-v2/service/athena/types"
	"github.com/google/uuid"
)

var (
	// ErrMissingOutputLocation is returned before submission when a query has
	// no output location. Athena rejects such queries.
	ErrMissingOutputLocation = errors.New("query output location is required")

	// ErrEmptyQuery is returned for a query with no SQL.
	ErrEmptyQuery = errors.New("query string is empty")
)

// QueryFailedError reports a query that reached a terminal state other than
// SUCCEEDED.
type QueryFailedError struct {
	ExecutionID string
	State       string
	Reason      string
}

func (e *QueryFailedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("query %s %s", e.ExecutionID, e.State)
	}
	return fmt.Sprintf("query %s %s: %s", e.ExecutionID, e.State, e.Reason)
}

// API is the subset of the Athena SDK client the deployer calls.
type API interface {
	StartQueryExecution(ctx context.Context, params *awsathena.StartQueryExecutionInput, optFns ...func(*awsathena.Options)) (*awsathena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, params *awsathena.GetQueryExecutionInput, optFns ...func(*awsathena.Options)) (*awsathena.GetQueryExecutionOutput, error)
}

// Config configures the Athena client. It is copied on construction.
type Config struct {
	Region    string
	Profile   string // shared config profile
	Endpoint  string // custom endpoint (localstack)
	Workgroup string

	// Static credentials; when empty the default provider chain is used.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	PollInterval time.Duration
}

// Query is one statement submission.
type Query struct {
	SQL            string
	Database       string // execution context; empty for database-level statements
	OutputLocation string
}

// Client submits queries and optionally waits for them to finish.
type Client struct {
	api          API
	workgroup    string
	pollInterval time.Duration
	newToken     func() string
}

const defaultPollInterval = 2 * time.Second

// New builds a client from an explicitly constructed AWS config. Nothing is
// read from or written to process-wide SDK state beyond the default
// credential chain.
func New(ctx context.Context, cfg Config) (*Client, error) {
	var opts []func(*awsconfig.LoadOptions) error

	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		creds := credentials.NewStaticCredentialsProvider(
			cfg.AccessKeyID,
			cfg.SecretAccessKey,
			cfg.SessionToken, // can be empty
		)
		opts = append(opts, awsconfig.WithCredentialsProvider(creds))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	api := awsathena.NewFromConfig(awsCfg, func(o *awsathena.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})

	return NewWithAPI(api, cfg), nil
}

// NewWithAPI wraps an existing SDK client (or a fake).
func NewWithAPI(api API, cfg Config) *Client {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &Client{
		api:          api,
		workgroup:    cfg.Workgroup,
		pollInterval: poll,
		newToken:     uuid.NewString,
	}
}

// Submit starts q and returns its execution ID once Athena has accepted it.
// It does not wait for the statement to run.
func (c *Client) Submit(ctx context.Context, q Query) (string, error) {
	if q.SQL == "" {
		return "", ErrEmptyQuery
	}
	if q.OutputLocation == "" {
		return "", ErrMissingOutputLocation
	}

	input := &awsathena.StartQueryExecutionInput{
		QueryString:        aws.String(q.SQL),
		ClientRequestToken: aws.String(c.newToken()),
		ResultConfiguration: &athenatypes.ResultConfiguration{
			OutputLocation: aws.String(q.OutputLocation),
		},
	}
	if q.Database != "" {
		input.QueryExecutionContext = &athenatypes.QueryExecutionContext{
			Database: aws.String(q.Database),
		}
	}
	if c.workgroup != "" {
		input.WorkGroup = aws.String(c.workgroup)
	}

	out, err := c.api.StartQueryExecution(ctx, input)
	if err != nil {
		return "", fmt.Errorf("start query execution: %w", err)
	}
	if out == nil || out.QueryExecutionId == nil {
		return "", fmt.Errorf("start query execution: response has no execution id")
	}
	return *out.QueryExecutionId, nil
}

// Wait polls the execution until it reaches a terminal state. FAILED and
// CANCELLED are returned as *QueryFailedError.
func (c *Client) Wait(ctx context.Context, executionID string) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		state, reason, err := c.status(ctx, executionID)
		if err != nil {
			return err
		}

		switch state {
		case athenatypes.QueryExecutionStateSucceeded:
			return nil
		case athenatypes.QueryExecutionStateFailed, athenatypes.QueryExecutionStateCancelled:
			return &QueryFailedError{
				ExecutionID: executionID,
				State:       string(state),
				Reason:      reason,
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) status(ctx context.Context, executionID string) (athenatypes.QueryExecutionState, string, error) {
	out, err := c.api.GetQueryExecution(ctx, &awsathena.GetQueryExecutionInput{
		QueryExecutionId: aws.String(executionID),
	})
	if err != nil {
		return "", "", fmt.Errorf("get query execution %s: %w", executionID, err)
	}
	if out == nil || out.QueryExecution == nil || out.QueryExecution.Status == nil {
		return "", "", fmt.Errorf("get query execution %s: response has no status", executionID)
	}

	status := out.QueryExecution.Status
	return status.State, aws.ToString(status.StateChangeReason), nil
}
