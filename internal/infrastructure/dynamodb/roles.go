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

type RoleRepository struct{ client *Client }

func NewRoleRepository(client *Client) *RoleRepository {
	return &RoleRepository{client: client}
}

type roleItem struct {
	ID          string   `dynamodbav:"ID"`
	Name        string   `dynamodbav:"Name"`
	Permissions []string `dynamodbav:"Permissions"`
	Revision    int64    `dynamodbav:"Revision"`
	CreatedAt   string   `dynamodbav:"CreatedAt"`
	UpdatedAt   string   `dynamodbav:"UpdatedAt"`
}

func (i roleItem) toDomain() domain.Role {
	perms := make([]domain.Permission, 0, len(i.Permissions))
	for _, p := range i.Permissions {
		perms = append(perms, domain.Permission(p))
	}
	return domain.Role{ID: i.ID, Name: i.Name, Permissions: perms, Revision: i.Revision, CreatedAt: parseTime(i.CreatedAt), UpdatedAt: parseTime(i.UpdatedAt)}
}

func permissionStrings(perms []domain.Permission) []string {
	out := make([]string, 0, len(perms))
	for _, p := range perms {
		out = append(out, string(p))
	}
	return out
}

func (r *RoleRepository) Create(ctx context.Context, role domain.Role) error {
	item := map[string]any{
		"PK":          rolesPK(),
		"SK":          roleSK(role.ID),
		"EntityType":  "ROLE",
		"ID":          role.ID,
		"Name":        role.Name,
		"Permissions": permissionStrings(role.Permissions),
		"Revision":    int64(1),
		"CreatedAt":   formatTime(role.CreatedAt),
		"UpdatedAt":   formatTime(role.UpdatedAt),
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return err
	}
	return xray.Capture(ctx, "DynamoDB.PutRole", func(ctx context.Context) error {
		_, err := r.client.db.PutItem(ctx, &awsv2dynamodb.PutItemInput{
			TableName:           aws.String(r.client.tableName),
			Item:                av,
			ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
		})
		if isConditionalCheckFailure(err) {
			return domain.ErrConflict
		}
		return unavailable(err)
	})
}

func (r *RoleRepository) Update(ctx context.Context, role domain.Role) error {
	permissionsAV, err := attributevalue.Marshal(permissionStrings(role.Permissions))
	if err != nil {
		return err
	}
	return xray.Capture(ctx, "DynamoDB.UpdateRole", func(ctx context.Context) error {
		_, err := r.client.db.UpdateItem(ctx, &awsv2dynamodb.UpdateItemInput{
			TableName:        aws.String(r.client.tableName),
			Key:              keyOf(rolesPK(), roleSK(role.ID)),
			UpdateExpression: aws.String("SET #n = :n, Permissions = :p, UpdatedAt = :u ADD #rev :one"),
			ExpressionAttributeNames: map[string]string{
				"#n":   "Name",
				"#rev": "Revision",
			},
			ExpressionAttributeValues: map[string]awsv2types.AttributeValue{
				":n":   &awsv2types.AttributeValueMemberS{Value: role.Name},
				":p":   permissionsAV,
				":u":   &awsv2types.AttributeValueMemberS{Value: formatTime(role.UpdatedAt)},
				":one": &awsv2types.AttributeValueMemberN{Value: "1"},
			},
			ConditionExpression: aws.String("attribute_exists(PK)"),
		})
		if isConditionalCheckFailure(err) {
			return domain.ErrNotFound
		}
		return unavailable(err)
	})
}

func (r *RoleRepository) GetByID(ctx context.Context, roleID string) (domain.Role, error) {
	var out *awsv2dynamodb.GetItemOutput
	err := xray.Capture(ctx, "DynamoDB.GetRole", func(ctx context.Context) error {
		var e error
		out, e = r.client.db.GetItem(ctx, &awsv2dynamodb.GetItemInput{
			TableName: aws.String(r.client.tableName),
			Key:       keyOf(rolesPK(), roleSK(roleID)),
		})
		return e
	})
	if err != nil {
		return domain.Role{}, unavailable(err)
	}
	if out.Item == nil {
		return domain.Role{}, domain.ErrNotFound
	}
	var raw roleItem
	if err := attributevalue.UnmarshalMap(out.Item, &raw); err != nil {
		return domain.Role{}, err
	}
	return raw.toDomain(), nil
}

// Revision is a consistent read of the Revision attribute alone, cheap enough to
// run on every cache hit.
func (r *RoleRepository) Revision(ctx context.Context, roleID string) (int64, error) {
	var out *awsv2dynamodb.GetItemOutput
	err := xray.Capture(ctx, "DynamoDB.GetRoleRevision", func(ctx context.Context) error {
		var e error
		out, e = r.client.db.GetItem(ctx, &awsv2dynamodb.GetItemInput{
			TableName:            aws.String(r.client.tableName),
			Key:                  keyOf(rolesPK(), roleSK(roleID)),
			ConsistentRead:       aws.Bool(true),
			ProjectionExpression: aws.String("#rev"),
			ExpressionAttributeNames: map[string]string{
				"#rev": "Revision",
			},
		})
		return e
	})
	if err != nil {
		return 0, unavailable(err)
	}
	if out.Item == nil {
		return 0, domain.ErrNotFound
	}
	var raw struct {
		Revision int64 `dynamodbav:"Revision"`
	}
	if err := attributevalue.UnmarshalMap(out.Item, &raw); err != nil {
		return 0, err
	}
	return raw.Revision, nil
}

func (r *RoleRepository) List(ctx context.Context) ([]domain.Role, error) {
	var out *awsv2dynamodb.QueryOutput
	err := xray.Capture(ctx, "DynamoDB.QueryRoles", func(ctx context.Context) error {
		var e error
		out, e = r.client.db.Query(ctx, &awsv2dynamodb.QueryInput{
			TableName:              aws.String(r.client.tableName),
			KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :sk)"),
			ExpressionAttributeValues: map[string]awsv2types.AttributeValue{
				":pk": &awsv2types.AttributeValueMemberS{Value: rolesPK()},
				":sk": &awsv2types.AttributeValueMemberS{Value: "ROLE#"},
			},
		})
		return e
	})
	if err != nil {
		return nil, unavailable(err)
	}
	roles := make([]domain.Role, 0, len(out.Items))
	for _, item := range out.Items {
		var raw roleItem
		if err := attributevalue.UnmarshalMap(item, &raw); err != nil {
			return nil, err
		}
		roles = append(roles, raw.toDomain())
	}
	return roles, nil
}
