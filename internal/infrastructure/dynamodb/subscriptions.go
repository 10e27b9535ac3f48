package dynamodb

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	awsv2dynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsv2types "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-xray-sdk-go/xray"

	"carehub/internal/domain"
)

const highestCodePage = 25

type SubscriptionRepository struct{ client *Client }

func NewSubscriptionRepository(client *Client) *SubscriptionRepository {
	return &SubscriptionRepository{client: client}
}

type subscriptionItem struct {
	Code      string `dynamodbav:"Code"`
	CompanyID string `dynamodbav:"CompanyID"`
	PlanID    string `dynamodbav:"PlanID"`
	Seats     int    `dynamodbav:"Seats"`
	CreatedBy string `dynamodbav:"CreatedBy"`
	CreatedAt string `dynamodbav:"CreatedAt"`
}

func (i subscriptionItem) toDomain() domain.Subscription {
	return domain.Subscription{
		Code:      i.Code,
		CompanyID: i.CompanyID,
		PlanID:    i.PlanID,
		Seats:     i.Seats,
		CreatedBy: i.CreatedBy,
		CreatedAt: parseTime(i.CreatedAt),
	}
}

func (r *SubscriptionRepository) Create(ctx context.Context, sub domain.Subscription) error {
	item := map[string]any{
		"PK":         subPK(sub.Code),
		"SK":         metaSK(),
		"EntityType": "SUBSCRIPTION",
		"GSI1PK":     subsGSI(),
		"GSI1SK":     domain.CodeSortKey(sub.Code),
		"Code":       sub.Code,
		"CompanyID":  sub.CompanyID,
		"PlanID":     sub.PlanID,
		"Seats":      sub.Seats,
		"CreatedBy":  sub.CreatedBy,
		"CreatedAt":  formatTime(sub.CreatedAt),
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return err
	}
	return xray.Capture(ctx, "DynamoDB.PutSubscription", func(ctx context.Context) error {
		_, err := r.client.db.PutItem(ctx, &awsv2dynamodb.PutItemInput{
			TableName:           aws.String(r.client.tableName),
			Item:                av,
			ConditionExpression: aws.String("attribute_not_exists(PK)"),
		})
		if isConditionalCheckFailure(err) {
			return domain.ErrConflict
		}
		return unavailable(err)
	})
}

func (r *SubscriptionRepository) GetByCode(ctx context.Context, code string) (domain.Subscription, error) {
	var out *awsv2dynamodb.GetItemOutput
	err := xray.Capture(ctx, "DynamoDB.GetSubscription", func(ctx context.Context) error {
		var e error
		out, e = r.client.db.GetItem(ctx, &awsv2dynamodb.GetItemInput{
			TableName: aws.String(r.client.tableName),
			Key:       keyOf(subPK(code), metaSK()),
		})
		return e
	})
	if err != nil {
		return domain.Subscription{}, unavailable(err)
	}
	if out.Item == nil {
		return domain.Subscription{}, domain.ErrNotFound
	}
	var raw subscriptionItem
	if err := attributevalue.UnmarshalMap(out.Item, &raw); err != nil {
		return domain.Subscription{}, err
	}
	return raw.toDomain(), nil
}

// List returns subscriptions with the highest codes first.
func (r *SubscriptionRepository) List(ctx context.Context, limit int) ([]domain.Subscription, error) {
	in := &awsv2dynamodb.QueryInput{
		TableName:              aws.String(r.client.tableName),
		IndexName:              aws.String(gsi1),
		KeyConditionExpression: aws.String("GSI1PK = :pk"),
		ExpressionAttributeValues: map[string]awsv2types.AttributeValue{
			":pk": &awsv2types.AttributeValueMemberS{Value: subsGSI()},
		},
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}
	var out *awsv2dynamodb.QueryOutput
	err := xray.Capture(ctx, "DynamoDB.QuerySubscriptions", func(ctx context.Context) error {
		var e error
		out, e = r.client.db.Query(ctx, in)
		return e
	})
	if err != nil {
		return nil, unavailable(err)
	}
	subs := make([]domain.Subscription, 0, len(out.Items))
	for _, item := range out.Items {
		var raw subscriptionItem
		if err := attributevalue.UnmarshalMap(item, &raw); err != nil {
			return nil, err
		}
		subs = append(subs, raw.toDomain())
	}
	return subs, nil
}

// HighestCode walks the code index downwards from the prefix and returns the
// first well-formed code; foreign codes sharing the prefix are skipped.
func (r *SubscriptionRepository) HighestCode(ctx context.Context, prefix string) (string, error) {
	in := &awsv2dynamodb.QueryInput{
		TableName:              aws.String(r.client.tableName),
		IndexName:              aws.String(gsi1),
		KeyConditionExpression: aws.String("GSI1PK = :pk AND begins_with(GSI1SK, :prefix)"),
		ExpressionAttributeValues: map[string]awsv2types.AttributeValue{
			":pk":     &awsv2types.AttributeValueMemberS{Value: subsGSI()},
			":prefix": &awsv2types.AttributeValueMemberS{Value: prefix},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int32(highestCodePage),
	}
	for {
		var out *awsv2dynamodb.QueryOutput
		err := xray.Capture(ctx, "DynamoDB.QueryHighestCode", func(ctx context.Context) error {
			var e error
			out, e = r.client.db.Query(ctx, in)
			return e
		})
		if err != nil {
			return "", unavailable(err)
		}
		for _, item := range out.Items {
			var raw struct {
				Code string `dynamodbav:"Code"`
			}
			if err := attributevalue.UnmarshalMap(item, &raw); err != nil {
				return "", err
			}
			if domain.IsSequentialCode(raw.Code, prefix) {
				return raw.Code, nil
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return "", domain.ErrNotFound
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}
}
