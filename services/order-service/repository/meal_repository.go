package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/yashrajoria/fitmeals-backend/services/order-service/models"
)

// MealRepository is the read side of the meal catalog.
type MealRepository interface {
	FindByID(ctx context.Context, id string) (*models.Meal, error)
}

type mealDocument struct {
	ID          primitive.ObjectID `bson:"_id"`
	Name        string             `bson:"name"`
	Price       float64            `bson:"price"`
	IsAvailable bool               `bson:"isAvailable"`
}

// MongoMealRepository reads meals from the catalog's "meals" collection.
type MongoMealRepository struct {
	collection *mongo.Collection
}

func NewMongoMealRepository(db *mongo.Database) *MongoMealRepository {
	return &MongoMealRepository{collection: db.Collection("meals")}
}

func (r *MongoMealRepository) FindByID(ctx context.Context, id string) (*models.Meal, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrNotFound
	}

	var doc mealDocument
	opts := options.FindOne().SetProjection(bson.M{"name": 1, "price": 1, "isAvailable": 1})
	if err := r.collection.FindOne(ctx, bson.M{"_id": oid}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find meal %s: %w", id, err)
	}

	return &models.Meal{
		ID:          doc.ID.Hex(),
		Name:        doc.Name,
		Price:       decimal.NewFromFloat(doc.Price),
		IsAvailable: doc.IsAvailable,
	}, nil
}

// Each decodes every meal in the collection in batches and hands it to fn.
// Documents that fail to decode are skipped and counted in the second return.
func (r *MongoMealRepository) Each(ctx context.Context, batchSize int32, fn func(*models.Meal) error) (int, error) {
	cur, err := r.collection.Find(ctx, bson.M{}, options.Find().SetBatchSize(batchSize))
	if err != nil {
		return 0, fmt.Errorf("find meals: %w", err)
	}
	defer cur.Close(ctx)

	skipped := 0
	for cur.Next(ctx) {
		var doc mealDocument
		if err := cur.Decode(&doc); err != nil {
			skipped++
			continue
		}
		if err := fn(&models.Meal{
			ID:          doc.ID.Hex(),
			Name:        doc.Name,
			Price:       decimal.NewFromFloat(doc.Price),
			IsAvailable: doc.IsAvailable,
		}); err != nil {
			return skipped, err
		}
	}
	return skipped, cur.Err()
}
