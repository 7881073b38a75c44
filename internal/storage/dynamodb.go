package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the part of the DynamoDB client the store uses.
type DynamoAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// DynamoStore keeps meetings in a single-table layout:
// PK = TX#<transactionID>, SK = MEETING.
type DynamoStore struct {
	client DynamoAPI
	table  string
}

type dynamoItem struct {
	PK string `dynamodbav:"PK"`
	SK string `dynamodbav:"SK"`
	Meeting
}

const meetingSK = "MEETING"

func meetingPK(transactionID string) string {
	return "TX#" + transactionID
}

// NewDynamoStore wraps a client.
func NewDynamoStore(client DynamoAPI, table string) *DynamoStore {
	return &DynamoStore{client: client, table: table}
}

// NewDynamoStoreFromConfig loads AWS config, using profile when set.
func NewDynamoStoreFromConfig(ctx context.Context, table, region, profile string) (*DynamoStore, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return NewDynamoStore(dynamodb.NewFromConfig(cfg), table), nil
}

func (s *DynamoStore) SaveMeeting(ctx context.Context, m Meeting) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	av, err := attributevalue.MarshalMap(dynamoItem{PK: meetingPK(m.TransactionID), SK: meetingSK, Meeting: m})
	if err != nil {
		return fmt.Errorf("marshaling meeting: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	})
	if err != nil {
		return fmt.Errorf("putting meeting to DynamoDB: %w", err)
	}
	return nil
}

func (s *DynamoStore) GetMeeting(ctx context.Context, transactionID string) (Meeting, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.table),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: meetingPK(transactionID)},
			"SK": &types.AttributeValueMemberS{Value: meetingSK},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return Meeting{}, fmt.Errorf("getting meeting from DynamoDB: %w", err)
	}
	if len(out.Item) == 0 {
		return Meeting{}, ErrNotFound
	}
	var item dynamoItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return Meeting{}, fmt.Errorf("unmarshaling meeting: %w", err)
	}
	return item.Meeting, nil
}
