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

// AuditRepository exposes no update or delete; entries are keyed by ULID so the
// sort key order is the commit order.
type AuditRepository struct{ client *Client }

func NewAuditRepository(client *Client) *AuditRepository {
	return &AuditRepository{client: client}
}

type auditItem struct {
	ID        string `dynamodbav:"ID"`
	ActorID   string `dynamodbav:"ActorID"`
	Action    string `dynamodbav:"Action"`
	Target    string `dynamodbav:"Target"`
	RequestID string `dynamodbav:"RequestID"`
	Timestamp string `dynamodbav:"Timestamp"`
}

func (r *AuditRepository) Append(ctx context.Context, entry domain.AuditEntry) error {
	av, err := attributevalue.MarshalMap(map[string]any{
		"PK":         auditPK(),
		"SK":         auditSK(entry.ID),
		"EntityType": "AUDIT_ENTRY",
		"ID":         entry.ID,
		"ActorID":    entry.ActorID,
		"Action":     entry.Action,
		"Target":     entry.Target,
		"RequestID":  entry.RequestID,
		"Timestamp":  formatTime(entry.Timestamp),
	})
	if err != nil {
		return err
	}
	return xray.Capture(ctx, "DynamoDB.PutAuditEntry", func(ctx context.Context) error {
		_, err := r.client.db.PutItem(ctx, &awsv2dynamodb.PutItemInput{
			TableName:           aws.String(r.client.tableName),
			Item:                av,
			ConditionExpression: aws.String("attribute_not_exists(SK)"),
		})
		if isConditionalCheckFailure(err) {
			return domain.ErrConflict
		}
		return unavailable(err)
	})
}

func (r *AuditRepository) List(ctx context.Context, limit int) ([]domain.AuditEntry, error) {
	in := &awsv2dynamodb.QueryInput{
		TableName:              aws.String(r.client.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
		ExpressionAttributeValues: map[string]awsv2types.AttributeValue{
			":pk": &awsv2types.AttributeValueMemberS{Value: auditPK()},
			":sk": &awsv2types.AttributeValueMemberS{Value: "ENTRY#"},
		},
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}
	var out *awsv2dynamodb.QueryOutput
	err := xray.Capture(ctx, "DynamoDB.QueryAuditEntries", func(ctx context.Context) error {
		var e error
		out, e = r.client.db.Query(ctx, in)
		return e
	})
	if err != nil {
		return nil, unavailable(err)
	}
	entries := make([]domain.AuditEntry, 0, len(out.Items))
	for _, item := range out.Items {
		var raw auditItem
		if err := attributevalue.UnmarshalMap(item, &raw); err != nil {
			return nil, err
		}
		entries = append(entries, domain.AuditEntry{
			ID:        raw.ID,
			ActorID:   raw.ActorID,
			Action:    raw.Action,
			Target:    raw.Target,
			RequestID: raw.RequestID,
			Timestamp: parseTime(raw.Timestamp),
		})
	}
	return entries, nil
}
