package dynamodb

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	awsv2dynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsv2types "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-xray-sdk-go/xray"

	"carehub/internal/domain"
)

type NotificationRepository struct{ client *Client }

func NewNotificationRepository(client *Client) *NotificationRepository {
	return &NotificationRepository{client: client}
}

func (r *NotificationRepository) Create(ctx context.Context, n domain.Notification) error {
	av, err := attributevalue.MarshalMap(map[string]any{
		"PK":           userPK(n.RecipientID),
		"SK":           notifSK(n.ID),
		"EntityType":   "NOTIFICATION",
		"ID":           n.ID,
		"RecipientID":  n.RecipientID,
		"AuditEntryID": n.AuditEntryID,
		"Message":      n.Message,
		"CreatedAt":    formatTime(n.CreatedAt),
	})
	if err != nil {
		return err
	}
	return xray.Capture(ctx, "DynamoDB.PutNotification", func(ctx context.Context) error {
		_, err := r.client.db.PutItem(ctx, &awsv2dynamodb.PutItemInput{
			TableName: aws.String(r.client.tableName),
			Item:      av,
		})
		return unavailable(err)
	})
}

func (r *NotificationRepository) ListByRecipient(ctx context.Context, recipientID string, limit int) ([]domain.Notification, error) {
	in := &awsv2dynamodb.QueryInput{
		TableName:              aws.String(r.client.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
		ExpressionAttributeValues: map[string]awsv2types.AttributeValue{
			":pk": &awsv2types.AttributeValueMemberS{Value: userPK(recipientID)},
			":sk": &awsv2types.AttributeValueMemberS{Value: "NOTIF#"},
		},
		ScanIndexForward: aws.Bool(false),
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}
	var out *awsv2dynamodb.QueryOutput
	err := xray.Capture(ctx, "DynamoDB.QueryNotifications", func(ctx context.Context) error {
		var e error
		out, e = r.client.db.Query(ctx, in)
		return e
	})
	if err != nil {
		return nil, unavailable(err)
	}
	items := make([]domain.Notification, 0, len(out.Items))
	for _, item := range out.Items {
		raw := struct {
			ID           string `dynamodbav:"ID"`
			RecipientID  string `dynamodbav:"RecipientID"`
			AuditEntryID string `dynamodbav:"AuditEntryID"`
			Message      string `dynamodbav:"Message"`
			CreatedAt    string `dynamodbav:"CreatedAt"`
			ReadAt       string `dynamodbav:"ReadAt"`
		}{}
		if err := attributevalue.UnmarshalMap(item, &raw); err != nil {
			return nil, err
		}
		n := domain.Notification{
			ID:           raw.ID,
			RecipientID:  raw.RecipientID,
			AuditEntryID: raw.AuditEntryID,
			Message:      raw.Message,
			CreatedAt:    parseTime(raw.CreatedAt),
		}
		if raw.ReadAt != "" {
			readAt := parseTime(raw.ReadAt)
			n.ReadAt = &readAt
		}
		items = append(items, n)
	}
	return items, nil
}

func (r *NotificationRepository) MarkRead(ctx context.Context, recipientID, notificationID string, at time.Time) error {
	return xray.Capture(ctx, "DynamoDB.MarkNotificationRead", func(ctx context.Context) error {
		_, err := r.client.db.UpdateItem(ctx, &awsv2dynamodb.UpdateItemInput{
			TableName:        aws.String(r.client.tableName),
			Key:              keyOf(userPK(recipientID), notifSK(notificationID)),
			UpdateExpression: aws.String("SET ReadAt = if_not_exists(ReadAt, :t)"),
			ExpressionAttributeValues: map[string]awsv2types.AttributeValue{
				":t": &awsv2types.AttributeValueMemberS{Value: formatTime(at)},
			},
			ConditionExpression: aws.String("attribute_exists(PK)"),
		})
		if isConditionalCheckFailure(err) {
			return domain.ErrNotFound
		}
		return unavailable(err)
	})
}

type NotificationJobRepository struct{ client *Client }

func NewNotificationJobRepository(client *Client) *NotificationJobRepository {
	return &NotificationJobRepository{client: client}
}

type jobItem struct {
	ID             string `dynamodbav:"ID"`
	Status         string `dynamodbav:"Status"`
	Attempts       int    `dynamodbav:"Attempts"`
	InboxWritten   bool   `dynamodbav:"InboxWritten"`
	LastError      string `dynamodbav:"LastError"`
	NextAttemptAt  string `dynamodbav:"NextAttemptAt"`
	UpdatedAt      string `dynamodbav:"UpdatedAt"`
	EntryID        string `dynamodbav:"EntryID"`
	EntryActorID   string `dynamodbav:"EntryActorID"`
	EntryAction    string `dynamodbav:"EntryAction"`
	EntryTarget    string `dynamodbav:"EntryTarget"`
	EntryRequestID string `dynamodbav:"EntryRequestID"`
	EntryTimestamp string `dynamodbav:"EntryTimestamp"`
}

// Save overwrites the whole job; the status index key moves with the status.
func (r *NotificationJobRepository) Save(ctx context.Context, job domain.NotificationJob) error {
	av, err := attributevalue.MarshalMap(map[string]any{
		"PK":             jobPK(job.ID),
		"SK":             metaSK(),
		"EntityType":     "NOTIFICATION_JOB",
		"GSI1PK":         jobStatusGSI(job.Status),
		"GSI1SK":         formatTime(job.UpdatedAt),
		"ID":             job.ID,
		"Status":         string(job.Status),
		"Attempts":       job.Attempts,
		"InboxWritten":   job.InboxWritten,
		"LastError":      job.LastError,
		"NextAttemptAt":  formatTime(job.NextAttemptAt),
		"UpdatedAt":      formatTime(job.UpdatedAt),
		"EntryID":        job.Entry.ID,
		"EntryActorID":   job.Entry.ActorID,
		"EntryAction":    job.Entry.Action,
		"EntryTarget":    job.Entry.Target,
		"EntryRequestID": job.Entry.RequestID,
		"EntryTimestamp": formatTime(job.Entry.Timestamp),
	})
	if err != nil {
		return err
	}
	return xray.Capture(ctx, "DynamoDB.PutNotificationJob", func(ctx context.Context) error {
		_, err := r.client.db.PutItem(ctx, &awsv2dynamodb.PutItemInput{
			TableName: aws.String(r.client.tableName),
			Item:      av,
		})
		return unavailable(err)
	})
}

func (r *NotificationJobRepository) ListByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]domain.NotificationJob, error) {
	in := &awsv2dynamodb.QueryInput{
		TableName:              aws.String(r.client.tableName),
		IndexName:              aws.String(gsi1),
		KeyConditionExpression: aws.String("GSI1PK = :pk"),
		ExpressionAttributeValues: map[string]awsv2types.AttributeValue{
			":pk": &awsv2types.AttributeValueMemberS{Value: jobStatusGSI(status)},
		},
	}
	if limit > 0 {
		in.Limit = aws.Int32(int32(limit))
	}
	var out *awsv2dynamodb.QueryOutput
	err := xray.Capture(ctx, "DynamoDB.QueryNotificationJobs", func(ctx context.Context) error {
		var e error
		out, e = r.client.db.Query(ctx, in)
		return e
	})
	if err != nil {
		return nil, unavailable(err)
	}
	jobs := make([]domain.NotificationJob, 0, len(out.Items))
	for _, item := range out.Items {
		var raw jobItem
		if err := attributevalue.UnmarshalMap(item, &raw); err != nil {
			return nil, err
		}
		jobs = append(jobs, domain.NotificationJob{
			ID:            raw.ID,
			Status:        domain.JobStatus(raw.Status),
			Attempts:      raw.Attempts,
			InboxWritten:  raw.InboxWritten,
			LastError:     raw.LastError,
			NextAttemptAt: parseTime(raw.NextAttemptAt),
			UpdatedAt:     parseTime(raw.UpdatedAt),
			Entry: domain.AuditEntry{
				ID:        raw.EntryID,
				ActorID:   raw.EntryActorID,
				Action:    raw.EntryAction,
				Target:    raw.EntryTarget,
				RequestID: raw.EntryRequestID,
				Timestamp: parseTime(raw.EntryTimestamp),
			},
		})
	}
	return jobs, nil
}
