// Package dynamo keeps the payloads of documents, instances and file
// references in a DynamoDB table.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/WebHare/platform-sub003/internal/entities"
	"github.com/WebHare/platform-sub003/internal/repositories"
)

// Client is the part of *dynamodb.Client the store uses
type Client interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// item is one stored payload. The handle is the partition key.
type item struct {
	Handle    string `dynamodbav:"pk"`
	Kind      string `dynamodbav:"kind"`
	Payload   []byte `dynamodbav:"payload"`
	CreatedAt string `dynamodbav:"created_at"`
}

// ExternalStore implements repositories.ExternalStore on DynamoDB
type ExternalStore struct {
	client Client
	table  string
	now    func() time.Time
}

// NewExternalStore creates a store writing to table
func NewExternalStore(client Client, table string) *ExternalStore {
	return &ExternalStore{client: client, table: table, now: time.Now}
}

// Options configures the AWS client
type Options struct {
	Table    string
	Region   string
	Endpoint string // overrides the service endpoint, e.g. DynamoDB Local
}

// Open loads the default AWS configuration and creates a store
func Open(ctx context.Context, opts Options) (*ExternalStore, error) {
	if opts.Table == "" {
		return nil, errors.New("dynamodb table name is required")
	}
	var loadOpts []func(*awsconfig.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	client := dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	})
	return NewExternalStore(client, opts.Table), nil
}

func key(handle string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: handle},
	}
}

// Put stores payload under its content-addressed handle. Storing the same
// payload twice leaves the first item in place.
func (s *ExternalStore) Put(ctx context.Context, kind entities.LinkKind, payload []byte) (string, error) {
	handle := repositories.ExternalHandle(kind, payload)
	av, err := attributevalue.MarshalMap(item{
		Handle:    handle,
		Kind:      string(kind),
		Payload:   payload,
		CreatedAt: s.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal %s: %w", handle, err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	var ccf *types.ConditionalCheckFailedException
	if err != nil && !errors.As(err, &ccf) {
		return "", fmt.Errorf("failed to put %s: %w", handle, err)
	}
	return handle, nil
}

// Get retrieves a payload, returning entities.ErrExternalAbsent when missing
func (s *ExternalStore) Get(ctx context.Context, handle string) ([]byte, error) {
	if err := checkHandle(handle); err != nil {
		return nil, err
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            key(handle),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", handle, err)
	}
	if out.Item == nil {
		return nil, fmt.Errorf("%w: %s", entities.ErrExternalAbsent, handle)
	}
	var it item
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s: %w", handle, err)
	}
	return it.Payload, nil
}

// Exists checks whether a handle is still present
func (s *ExternalStore) Exists(ctx context.Context, handle string) (bool, error) {
	if err := checkHandle(handle); err != nil {
		return false, err
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(s.table),
		Key:                  key(handle),
		ConsistentRead:       aws.Bool(true),
		ProjectionExpression: aws.String("pk"),
	})
	if err != nil {
		return false, fmt.Errorf("failed to check %s: %w", handle, err)
	}
	return out.Item != nil, nil
}

// Delete removes a payload. Deleting a missing handle is not an error.
func (s *ExternalStore) Delete(ctx context.Context, handle string) error {
	if err := checkHandle(handle); err != nil {
		return err
	}
	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       key(handle),
	}); err != nil {
		return fmt.Errorf("failed to delete %s: %w", handle, err)
	}
	return nil
}

func checkHandle(handle string) error {
	kind, sum, ok := strings.Cut(handle, "/")
	if !ok || kind == "" || sum == "" {
		return fmt.Errorf("invalid external handle %q", handle)
	}
	return nil
}
