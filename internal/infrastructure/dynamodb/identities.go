package dynamodb

import (
	"context"
	"errors"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	awsv2dynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsv2types "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-xray-sdk-go/xray"

	"carehub/internal/domain"
)

type IdentityRepository struct{ client *Client }

func NewIdentityRepository(client *Client) *IdentityRepository {
	return &IdentityRepository{client: client}
}

type identityItem struct {
	ID           string `dynamodbav:"ID"`
	Email        string `dynamodbav:"Email"`
	Name         string `dynamodbav:"Name"`
	Portal       string `dynamodbav:"Portal"`
	RoleID       string `dynamodbav:"RoleID"`
	PasswordHash string `dynamodbav:"PasswordHash"`
	Active       bool   `dynamodbav:"Active"`
	CreatedAt    string `dynamodbav:"CreatedAt"`
	UpdatedAt    string `dynamodbav:"UpdatedAt"`
}

func (i identityItem) toDomain() domain.Identity {
	return domain.Identity{
		ID:           i.ID,
		Email:        i.Email,
		Name:         i.Name,
		Portal:       domain.Portal(i.Portal),
		RoleID:       i.RoleID,
		PasswordHash: i.PasswordHash,
		Active:       i.Active,
		CreatedAt:    parseTime(i.CreatedAt),
		UpdatedAt:    parseTime(i.UpdatedAt),
	}
}

// Create writes the profile and an email lock item in one transaction so emails stay unique.
func (r *IdentityRepository) Create(ctx context.Context, identity domain.Identity) error {
	email := strings.ToLower(strings.TrimSpace(identity.Email))
	item := map[string]any{
		"PK":           userPK(identity.ID),
		"SK":           profileSK(),
		"EntityType":   "IDENTITY",
		"ID":           identity.ID,
		"Email":        email,
		"Name":         identity.Name,
		"Portal":       string(identity.Portal),
		"RoleID":       identity.RoleID,
		"PasswordHash": identity.PasswordHash,
		"Active":       identity.Active,
		"CreatedAt":    formatTime(identity.CreatedAt),
		"UpdatedAt":    formatTime(identity.UpdatedAt),
	}
	if identity.RoleID != "" {
		item["GSI2PK"] = roleGSI(identity.RoleID)
		item["GSI2SK"] = userPK(identity.ID)
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return err
	}
	lock, err := attributevalue.MarshalMap(map[string]any{
		"PK":         emailPK(email),
		"SK":         emailSK(),
		"EntityType": "EMAIL_LOCK",
		"UserID":     identity.ID,
	})
	if err != nil {
		return err
	}
	return xray.Capture(ctx, "DynamoDB.CreateIdentity", func(ctx context.Context) error {
		_, err := r.client.db.TransactWriteItems(ctx, &awsv2dynamodb.TransactWriteItemsInput{
			TransactItems: []awsv2types.TransactWriteItem{
				{Put: &awsv2types.Put{
					TableName:           aws.String(r.client.tableName),
					Item:                av,
					ConditionExpression: aws.String("attribute_not_exists(PK)"),
				}},
				{Put: &awsv2types.Put{
					TableName:           aws.String(r.client.tableName),
					Item:                lock,
					ConditionExpression: aws.String("attribute_not_exists(PK)"),
				}},
			},
		})
		if isConditionalCheckFailure(err) {
			return domain.ErrConflict
		}
		return unavailable(err)
	})
}

func (r *IdentityRepository) GetByID(ctx context.Context, id string) (domain.Identity, error) {
	var out *awsv2dynamodb.GetItemOutput
	err := xray.Capture(ctx, "DynamoDB.GetIdentity", func(ctx context.Context) error {
		var e error
		out, e = r.client.db.GetItem(ctx, &awsv2dynamodb.GetItemInput{
			TableName: aws.String(r.client.tableName),
			Key:       keyOf(userPK(id), profileSK()),
		})
		return e
	})
	if err != nil {
		return domain.Identity{}, unavailable(err)
	}
	if out.Item == nil {
		return domain.Identity{}, domain.ErrNotFound
	}
	var raw identityItem
	if err := attributevalue.UnmarshalMap(out.Item, &raw); err != nil {
		return domain.Identity{}, err
	}
	return raw.toDomain(), nil
}

func (r *IdentityRepository) GetByEmail(ctx context.Context, email string) (domain.Identity, error) {
	var out *awsv2dynamodb.GetItemOutput
	err := xray.Capture(ctx, "DynamoDB.GetEmailLock", func(ctx context.Context) error {
		var e error
		out, e = r.client.db.GetItem(ctx, &awsv2dynamodb.GetItemInput{
			TableName: aws.String(r.client.tableName),
			Key:       keyOf(emailPK(strings.ToLower(strings.TrimSpace(email))), emailSK()),
		})
		return e
	})
	if err != nil {
		return domain.Identity{}, unavailable(err)
	}
	if out.Item == nil {
		return domain.Identity{}, domain.ErrNotFound
	}
	raw := struct {
		UserID string `dynamodbav:"UserID"`
	}{}
	if err := attributevalue.UnmarshalMap(out.Item, &raw); err != nil {
		return domain.Identity{}, err
	}
	if raw.UserID == "" {
		return domain.Identity{}, errors.New("dynamodb: email lock without user id")
	}
	return r.GetByID(ctx, raw.UserID)
}

func (r *IdentityRepository) SetRole(ctx context.Context, identityID, roleID string) error {
	return xray.Capture(ctx, "DynamoDB.SetIdentityRole", func(ctx context.Context) error {
		_, err := r.client.db.UpdateItem(ctx, &awsv2dynamodb.UpdateItemInput{
			TableName:        aws.String(r.client.tableName),
			Key:              keyOf(userPK(identityID), profileSK()),
			UpdateExpression: aws.String("SET RoleID = :r, GSI2PK = :g, GSI2SK = :u, UpdatedAt = :t"),
			ExpressionAttributeValues: map[string]awsv2types.AttributeValue{
				":r": &awsv2types.AttributeValueMemberS{Value: roleID},
				":g": &awsv2types.AttributeValueMemberS{Value: roleGSI(roleID)},
				":u": &awsv2types.AttributeValueMemberS{Value: userPK(identityID)},
				":t": &awsv2types.AttributeValueMemberS{Value: formatTime(now())},
			},
			ConditionExpression: aws.String("attribute_exists(PK)"),
		})
		if isConditionalCheckFailure(err) {
			return domain.ErrNotFound
		}
		return unavailable(err)
	})
}

func (r *IdentityRepository) ListByRole(ctx context.Context, roleID string) ([]domain.Identity, error) {
	var items []map[string]awsv2types.AttributeValue
	err := xray.Capture(ctx, "DynamoDB.QueryIdentitiesByRole", func(ctx context.Context) error {
		paginator := awsv2dynamodb.NewQueryPaginator(r.client.db, &awsv2dynamodb.QueryInput{
			TableName:              aws.String(r.client.tableName),
			IndexName:              aws.String(gsi2),
			KeyConditionExpression: aws.String("GSI2PK = :pk"),
			ExpressionAttributeValues: map[string]awsv2types.AttributeValue{
				":pk": &awsv2types.AttributeValueMemberS{Value: roleGSI(roleID)},
			},
		})
		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				return err
			}
			items = append(items, page.Items...)
		}
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}
	identities := make([]domain.Identity, 0, len(items))
	for _, item := range items {
		var raw identityItem
		if err := attributevalue.UnmarshalMap(item, &raw); err != nil {
			return nil, err
		}
		identities = append(identities, raw.toDomain())
	}
	return identities, nil
}
