package dynamodb

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsv2dynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsv2types "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-xray-sdk-go/xray"

	"carehub/internal/domain"
)

// CodeSequence keeps one counter item per sequence name and relies on DynamoDB's
// atomic ADD, so concurrent writers on any number of hosts never see the same value.
type CodeSequence struct{ client *Client }

func NewCodeSequence(client *Client) *CodeSequence {
	return &CodeSequence{client: client}
}

func (s *CodeSequence) Next(ctx context.Context, name string) (int64, error) {
	var out *awsv2dynamodb.UpdateItemOutput
	err := xray.Capture(ctx, "DynamoDB.NextSequence", func(ctx context.Context) error {
		var e error
		out, e = s.client.db.UpdateItem(ctx, &awsv2dynamodb.UpdateItemInput{
			TableName:                aws.String(s.client.tableName),
			Key:                      keyOf(seqPK(name), seqSK()),
			UpdateExpression:         aws.String("ADD #v :one SET EntityType = :t"),
			ExpressionAttributeNames: map[string]string{"#v": "Value"},
			ExpressionAttributeValues: map[string]awsv2types.AttributeValue{
				":one": &awsv2types.AttributeValueMemberN{Value: "1"},
				":t":   &awsv2types.AttributeValueMemberS{Value: "SEQUENCE"},
			},
			ReturnValues: awsv2types.ReturnValueUpdatedNew,
		})
		return e
	})
	if err != nil {
		return 0, unavailable(err)
	}
	return counterValue(out.Attributes)
}

func (s *CodeSequence) Current(ctx context.Context, name string) (int64, error) {
	var out *awsv2dynamodb.GetItemOutput
	err := xray.Capture(ctx, "DynamoDB.GetSequence", func(ctx context.Context) error {
		var e error
		out, e = s.client.db.GetItem(ctx, &awsv2dynamodb.GetItemInput{
			TableName:      aws.String(s.client.tableName),
			Key:            keyOf(seqPK(name), seqSK()),
			ConsistentRead: aws.Bool(true),
		})
		return e
	})
	if err != nil {
		return 0, unavailable(err)
	}
	if out.Item == nil {
		return 0, domain.ErrNotFound
	}
	v, err := counterValue(out.Item)
	if err != nil {
		return 0, err
	}
	if v == 0 {
		return 0, domain.ErrNotFound
	}
	return v, nil
}

func (s *CodeSequence) EnsureAtLeast(ctx context.Context, name string, floor int64) error {
	return xray.Capture(ctx, "DynamoDB.RaiseSequence", func(ctx context.Context) error {
		_, err := s.client.db.UpdateItem(ctx, &awsv2dynamodb.UpdateItemInput{
			TableName:                aws.String(s.client.tableName),
			Key:                      keyOf(seqPK(name), seqSK()),
			UpdateExpression:         aws.String("SET #v = :floor, EntityType = :t"),
			ConditionExpression:      aws.String("attribute_not_exists(#v) OR #v < :floor"),
			ExpressionAttributeNames: map[string]string{"#v": "Value"},
			ExpressionAttributeValues: map[string]awsv2types.AttributeValue{
				":floor": &awsv2types.AttributeValueMemberN{Value: strconv.FormatInt(floor, 10)},
				":t":     &awsv2types.AttributeValueMemberS{Value: "SEQUENCE"},
			},
		})
		if isConditionalCheckFailure(err) {
			return nil
		}
		return unavailable(err)
	})
}

func counterValue(attrs map[string]awsv2types.AttributeValue) (int64, error) {
	n, ok := attrs["Value"].(*awsv2types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("dynamodb: sequence item has no numeric Value")
	}
	return strconv.ParseInt(n.Value, 10, 64)
}
