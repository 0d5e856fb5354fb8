package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"

	"udl/pkg/errors"
)

// ddbEnvelopeItem is the table shape for one owner's snapshot. The
// envelope is stored as a JSON blob: payload fields are free-form and do
// not map onto attribute values.
type ddbEnvelopeItem struct {
	Owner     string `dynamodbav:"Owner"`
	Envelope  string `dynamodbav:"Envelope"`
	UpdatedAt string `dynamodbav:"UpdatedAt"`
}

// DynamoStorage is a key-value cache backend for deployments that prefer
// a shared table over the local filesystem.
type DynamoStorage struct {
	dbClient  *dynamodb.Client
	tableName string
	logger    *zap.Logger
}

// NewDynamoStorage creates a DynamoDB-backed cache store.
func NewDynamoStorage(dbClient *dynamodb.Client, tableName string, logger *zap.Logger) *DynamoStorage {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DynamoStorage{
		dbClient:  dbClient,
		tableName: tableName,
		logger:    logger.With(zap.String("component", "cache-dynamo")),
	}
}

// Load fetches the owner's snapshot. Missing items, unparseable blobs and
// version mismatches all come back empty, same contract as the file backend.
func (d *DynamoStorage) Load(ctx context.Context, owner string) (*Envelope, error) {
	key, err := attributevalue.MarshalMap(map[string]string{"Owner": owner})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal cache key")
	}

	out, err := d.dbClient.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.tableName),
		Key:       key,
	})
	if err != nil {
		d.logger.Warn("cache item fetch failed, starting fresh",
			zap.String("owner", owner), zap.Error(err))
		return nil, nil
	}
	if out.Item == nil {
		return nil, nil
	}

	var item ddbEnvelopeItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		d.logger.Warn("cache item unreadable, starting fresh",
			zap.String("owner", owner), zap.Error(err))
		return nil, nil
	}

	var env Envelope
	if err := json.Unmarshal([]byte(item.Envelope), &env); err != nil {
		d.logger.Warn("cache envelope unparseable, starting fresh",
			zap.String("owner", owner), zap.Error(err))
		return nil, nil
	}
	if env.Meta.Version != Version {
		d.logger.Warn("cache version mismatch, discarding snapshot",
			zap.String("owner", owner),
			zap.Int("found", env.Meta.Version),
			zap.Int("want", Version),
		)
		return nil, nil
	}
	return &env, nil
}

// Save writes the owner's envelope. A single PutItem replaces the
// previous snapshot, so the write is atomic per owner.
func (d *DynamoStorage) Save(ctx context.Context, owner string, env *Envelope) error {
	stamped := *env
	stamped.Meta.Version = Version
	if stamped.Meta.CreatedAt.IsZero() {
		stamped.Meta.CreatedAt = time.Now()
	}
	stamped.Meta.UpdatedAt = time.Now()
	stamped.Nodes = sanitizeNodes(env.Nodes)

	blob, err := json.Marshal(&stamped)
	if err != nil {
		return errors.NewTransientIO("cannot serialize cache envelope", err)
	}

	item, err := attributevalue.MarshalMap(ddbEnvelopeItem{
		Owner:     owner,
		Envelope:  string(blob),
		UpdatedAt: stamped.Meta.UpdatedAt.Format(time.RFC3339),
	})
	if err != nil {
		return errors.NewTransientIO("cannot marshal cache item", err)
	}

	if _, err := d.dbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.tableName),
		Item:      item,
	}); err != nil {
		return errors.NewTransientIO("cannot store cache item", err)
	}
	return nil
}
