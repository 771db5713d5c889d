package kvstore

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/title-catalog/pkg/errors"
)

const (
	attrPK = "PK"
	attrSK = "SK"
)

// DynamoDBAPI is the subset of the DynamoDB client the store needs.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, opts ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, opts ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// DynamoDBStore maps Key directly onto the table's PK/SK attributes.
// Merge is an UpdateItem with one SET clause per attribute.
type DynamoDBStore struct {
	client DynamoDBAPI
	table  string
	logger *slog.Logger
}

var _ Store = (*DynamoDBStore)(nil)

// NewDynamoDBClient builds a client from the default AWS credential chain.
// A non-empty endpoint points the client at a local emulator.
func NewDynamoDBClient(ctx context.Context, cfg config.DynamoDBConfig) (*dynamodb.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

func NewDynamoDBStore(client DynamoDBAPI, table string) *DynamoDBStore {
	return &DynamoDBStore{
		client: client,
		table:  table,
		logger: slog.Default().With("component", "kvstore-dynamodb", "table", table),
	}
}

func keyAttrs(key Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: key.PK},
		attrSK: &types.AttributeValueMemberS{Value: key.SK},
	}
}

func (s *DynamoDBStore) Get(ctx context.Context, key Key) (*Item, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            keyAttrs(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, unavailable("get "+key.String(), err)
	}
	if len(out.Item) == 0 {
		return nil, fmt.Errorf("get %s: %w", key, apperrors.ErrNotFound)
	}
	return fromAttributeValues(out.Item)
}

func (s *DynamoDBStore) Put(ctx context.Context, item Item) error {
	attrs, err := Normalize(item.Attrs)
	if err != nil {
		return err
	}
	av, err := attributevalue.MarshalMap(map[string]any(attrs))
	if err != nil {
		return fmt.Errorf("marshalling %s: %w", item.Key, err)
	}
	for k, v := range keyAttrs(item.Key) {
		av[k] = v
	}
	if _, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	}); err != nil {
		return unavailable("put "+item.Key.String(), err)
	}
	return nil
}

func (s *DynamoDBStore) Merge(ctx context.Context, key Key, attrs Attrs) error {
	attrs, err := Normalize(attrs)
	if err != nil {
		return err
	}
	in := &dynamodb.UpdateItemInput{
		TableName: aws.String(s.table),
		Key:       keyAttrs(key),
	}
	if len(attrs) > 0 {
		names := make([]string, 0, len(attrs))
		for name := range attrs {
			if name == attrPK || name == attrSK {
				continue
			}
			names = append(names, name)
		}
		sort.Strings(names)
		in.ExpressionAttributeNames = make(map[string]string, len(names))
		in.ExpressionAttributeValues = make(map[string]types.AttributeValue, len(names))
		expr := ""
		for i, name := range names {
			av, err := attributevalue.Marshal(attrs[name])
			if err != nil {
				return fmt.Errorf("marshalling %s.%s: %w", key, name, err)
			}
			n, v := "#a"+strconv.Itoa(i), ":v"+strconv.Itoa(i)
			in.ExpressionAttributeNames[n] = name
			in.ExpressionAttributeValues[v] = av
			if expr != "" {
				expr += ", "
			}
			expr += n + " = " + v
		}
		if expr != "" {
			in.UpdateExpression = aws.String("SET " + expr)
		} else {
			in.ExpressionAttributeNames = nil
			in.ExpressionAttributeValues = nil
		}
	}
	if _, err := s.client.UpdateItem(ctx, in); err != nil {
		return unavailable("merge "+key.String(), err)
	}
	return nil
}

func (s *DynamoDBStore) Delete(ctx context.Context, key Key) error {
	if _, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       keyAttrs(key),
	}); err != nil {
		return unavailable("delete "+key.String(), err)
	}
	return nil
}

func (s *DynamoDBStore) Query(ctx context.Context, pk, skPrefix string) ([]Item, error) {
	in := &dynamodb.QueryInput{
		TableName:                aws.String(s.table),
		KeyConditionExpression:   aws.String("#pk = :pk"),
		ExpressionAttributeNames: map[string]string{"#pk": attrPK},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pk},
		},
	}
	if skPrefix != "" {
		in.KeyConditionExpression = aws.String("#pk = :pk AND begins_with(#sk, :sk)")
		in.ExpressionAttributeNames["#sk"] = attrSK
		in.ExpressionAttributeValues[":sk"] = &types.AttributeValueMemberS{Value: skPrefix}
	}

	var items []Item
	for {
		out, err := s.client.Query(ctx, in)
		if err != nil {
			return nil, unavailable("query "+pk, err)
		}
		items = s.appendDecoded(items, out.Items)
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
	sortItems(items)
	return items, nil
}

func (s *DynamoDBStore) Scan(ctx context.Context, pkPrefix string) ([]Item, error) {
	in := &dynamodb.ScanInput{TableName: aws.String(s.table)}
	if pkPrefix != "" {
		in.FilterExpression = aws.String("begins_with(#pk, :pk)")
		in.ExpressionAttributeNames = map[string]string{"#pk": attrPK}
		in.ExpressionAttributeValues = map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: pkPrefix},
		}
	}

	var items []Item
	for {
		out, err := s.client.Scan(ctx, in)
		if err != nil {
			return nil, unavailable("scan "+pkPrefix, err)
		}
		items = s.appendDecoded(items, out.Items)
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
	sortItems(items)
	return items, nil
}

// Count walks the table with Select=COUNT. DescribeTable's ItemCount lags
// by hours, which is useless right after an ingestion run.
func (s *DynamoDBStore) Count(ctx context.Context) (int64, error) {
	in := &dynamodb.ScanInput{
		TableName: aws.String(s.table),
		Select:    types.SelectCount,
	}
	var total int64
	for {
		out, err := s.client.Scan(ctx, in)
		if err != nil {
			return 0, unavailable("count", err)
		}
		total += int64(out.Count)
		if len(out.LastEvaluatedKey) == 0 {
			return total, nil
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

func (s *DynamoDBStore) Close() error { return nil }

func (s *DynamoDBStore) appendDecoded(items []Item, raw []map[string]types.AttributeValue) []Item {
	for _, av := range raw {
		item, err := fromAttributeValues(av)
		if err != nil {
			s.logger.Warn("skipping undecodable item", "error", err)
			continue
		}
		items = append(items, *item)
	}
	return items
}

func fromAttributeValues(av map[string]types.AttributeValue) (*Item, error) {
	raw := map[string]any{}
	if err := attributevalue.UnmarshalMap(av, &raw); err != nil {
		return nil, fmt.Errorf("unmarshalling item: %w", err)
	}
	pk, _ := raw[attrPK].(string)
	sk, _ := raw[attrSK].(string)
	if pk == "" || sk == "" {
		return nil, fmt.Errorf("item without %s/%s", attrPK, attrSK)
	}
	delete(raw, attrPK)
	delete(raw, attrSK)
	attrs, err := Normalize(raw)
	if err != nil {
		return nil, err
	}
	return &Item{Key: Key{PK: pk, SK: sk}, Attrs: attrs}, nil
}
