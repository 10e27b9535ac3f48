package dynamodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	awsv2dynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsv2types "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	awsv2xray "github.com/aws/aws-xray-sdk-go/instrumentation/awsv2"

	"carehub/internal/domain"
)

// API is the subset of the DynamoDB client the repositories use.
type API interface {
	PutItem(ctx context.Context, in *awsv2dynamodb.PutItemInput, optFns ...func(*awsv2dynamodb.Options)) (*awsv2dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *awsv2dynamodb.GetItemInput, optFns ...func(*awsv2dynamodb.Options)) (*awsv2dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, in *awsv2dynamodb.UpdateItemInput, optFns ...func(*awsv2dynamodb.Options)) (*awsv2dynamodb.UpdateItemOutput, error)
	Query(ctx context.Context, in *awsv2dynamodb.QueryInput, optFns ...func(*awsv2dynamodb.Options)) (*awsv2dynamodb.QueryOutput, error)
	TransactWriteItems(ctx context.Context, in *awsv2dynamodb.TransactWriteItemsInput, optFns ...func(*awsv2dynamodb.Options)) (*awsv2dynamodb.TransactWriteItemsOutput, error)
}

type Client struct {
	db        API
	tableName string
}

// NewClient builds an instrumented client; endpoint overrides the AWS endpoint for local tables.
func NewClient(ctx context.Context, region, tableName, endpoint string) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, err
	}
	awsv2xray.AWSV2Instrumentor(&cfg.APIOptions)
	client := awsv2dynamodb.NewFromConfig(cfg, func(o *awsv2dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return &Client{db: client, tableName: tableName}, nil
}

func NewClientWithAPI(api API, tableName string) *Client {
	return &Client{db: api, tableName: tableName}
}

const (
	gsi1 = "GSI1"
	gsi2 = "GSI2"
)

func userPK(userID string) string  { return "USER#" + userID }
func profileSK() string            { return "PROFILE" }
func emailPK(email string) string  { return "EMAIL#" + email }
func emailSK() string              { return "EMAIL" }
func rolesPK() string              { return "ROLES" }
func roleSK(roleID string) string  { return "ROLE#" + roleID }
func roleGSI(roleID string) string { return "ROLE#" + roleID }
func seqPK(name string) string     { return "SEQ#" + name }
func seqSK() string                { return "COUNTER" }
func subPK(code string) string     { return "SUB#" + code }
func metaSK() string               { return "META" }
func subsGSI() string              { return "SUBSCRIPTIONS" }
func auditPK() string              { return "AUDIT" }
func auditSK(id string) string     { return "ENTRY#" + id }
func notifSK(id string) string     { return "NOTIF#" + id }
func jobPK(id string) string       { return "JOB#" + id }

func jobStatusGSI(s domain.JobStatus) string { return "JOBSTATUS#" + string(s) }

func keyOf(pk, sk string) map[string]awsv2types.AttributeValue {
	return map[string]awsv2types.AttributeValue{
		"PK": &awsv2types.AttributeValueMemberS{Value: pk},
		"SK": &awsv2types.AttributeValueMemberS{Value: sk},
	}
}

func isConditionalCheckFailure(err error) bool {
	var condErr *awsv2types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return true
	}
	var txErr *awsv2types.TransactionCanceledException
	if errors.As(err, &txErr) {
		for _, reason := range txErr.CancellationReasons {
			if aws.ToString(reason.Code) == "ConditionalCheckFailed" {
				return true
			}
		}
	}
	return false
}

// unavailable tags store failures as retryable while keeping the cause inspectable.
func unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", domain.ErrUnavailable, err)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

var now = func() time.Time { return time.Now().UTC() }
