package center

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dynamodbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/bloodbank/bloodbank/internal/domain/blood"
)

// DynamoAPI is the subset of the DynamoDB client the directory uses.
type DynamoAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// NewDynamoClient builds a client from the default AWS credential chain.
func NewDynamoClient(ctx context.Context, region string) (*dynamodb.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg), nil
}

// dynamoItem is the table layout; the partition key is "id".
type dynamoItem struct {
	ID        string  `dynamodbav:"id"`
	Name      string  `dynamodbav:"name"`
	City      string  `dynamodbav:"city"`
	State     string  `dynamodbav:"state,omitempty"`
	Latitude  float64 `dynamodbav:"latitude"`
	Longitude float64 `dynamodbav:"longitude"`
	Verified  bool    `dynamodbav:"verified"`
}

func (it dynamoItem) center() (*Center, error) {
	id, err := uuid.Parse(it.ID)
	if err != nil {
		return nil, fmt.Errorf("center item has invalid id %q: %w", it.ID, err)
	}
	return &Center{
		ID:        id,
		Name:      it.Name,
		City:      it.City,
		State:     it.State,
		Latitude:  it.Latitude,
		Longitude: it.Longitude,
		Verified:  it.Verified,
	}, nil
}

// DynamoDirectory reads centers kept in a DynamoDB table by the
// organisation service.
type DynamoDirectory struct {
	client    DynamoAPI
	tableName string
}

func NewDynamoDirectory(client DynamoAPI, tableName string) *DynamoDirectory {
	return &DynamoDirectory{client: client, tableName: tableName}
}

func (d *DynamoDirectory) Get(ctx context.Context, id uuid.UUID) (*Center, error) {
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key: map[string]dynamodbtypes.AttributeValue{
			"id": &dynamodbtypes.AttributeValueMemberS{Value: id.String()},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("get center: %w", err)
	}
	if out.Item == nil {
		return nil, blood.NotFound("center", id)
	}
	var it dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &it); err != nil {
		return nil, fmt.Errorf("unmarshal center: %w", err)
	}
	return it.center()
}

// List scans the whole table. The directory holds a region's centers, so a
// scan stays small.
func (d *DynamoDirectory) List(ctx context.Context, f Filter) ([]*Center, error) {
	var (
		out     []*Center
		lastKey map[string]dynamodbtypes.AttributeValue
	)
	for {
		in := &dynamodb.ScanInput{TableName: aws.String(d.tableName)}
		if lastKey != nil {
			in.ExclusiveStartKey = lastKey
		}
		res, err := d.client.Scan(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("scan centers: %w", err)
		}
		for _, item := range res.Items {
			var it dynamoItem
			if err := attributevalue.UnmarshalMap(item, &it); err != nil {
				return nil, fmt.Errorf("unmarshal center: %w", err)
			}
			c, err := it.center()
			if err != nil {
				return nil, err
			}
			if f.Matches(c) {
				out = append(out, c)
			}
		}
		lastKey = res.LastEvaluatedKey
		if len(lastKey) == 0 {
			break
		}
	}
	sortByName(out)
	return out, nil
}
