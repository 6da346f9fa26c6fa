package repository

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/shopspring/decimal"

	"github.com/yashrajoria/fitmeals-backend/services/order-service/models"
)

// DynamoMealAPI is the slice of the DynamoDB client the meal table needs.
type DynamoMealAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

type ddbMeal struct {
	MealID      string `dynamodbav:"meal_id"`
	Name        string `dynamodbav:"name"`
	Price       string `dynamodbav:"price"`
	IsAvailable bool   `dynamodbav:"is_available"`
}

// DynamoMealRepository reads meals from a DynamoDB table keyed by meal_id.
// Prices are stored as decimal strings.
type DynamoMealRepository struct {
	client DynamoMealAPI
	table  string
}

func NewDynamoMealRepository(client DynamoMealAPI, table string) *DynamoMealRepository {
	return &DynamoMealRepository{client: client, table: table}
}

func (d *DynamoMealRepository) FindByID(ctx context.Context, id string) (*models.Meal, error) {
	key, err := attributevalue.MarshalMap(map[string]string{"meal_id": id})
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}
	out, err := d.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(d.table),
		Key:            key,
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("dynamodb GetItem failed: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, ErrNotFound
	}

	var item ddbMeal
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	price, err := decimal.NewFromString(item.Price)
	if err != nil {
		return nil, fmt.Errorf("meal %s has invalid price %q: %w", id, item.Price, err)
	}
	return &models.Meal{
		ID:          item.MealID,
		Name:        item.Name,
		Price:       price,
		IsAvailable: item.IsAvailable,
	}, nil
}

// Put writes a meal, replacing any item with the same meal_id.
func (d *DynamoMealRepository) Put(ctx context.Context, meal *models.Meal) error {
	if meal.ID == "" {
		return fmt.Errorf("meal has no id")
	}
	item, err := attributevalue.MarshalMap(ddbMeal{
		MealID:      meal.ID,
		Name:        meal.Name,
		Price:       meal.Price.String(),
		IsAvailable: meal.IsAvailable,
	})
	if err != nil {
		return fmt.Errorf("marshal meal %s: %w", meal.ID, err)
	}
	if _, err := d.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.table),
		Item:      item,
	}); err != nil {
		return fmt.Errorf("dynamodb PutItem failed: %w", err)
	}
	return nil
}
