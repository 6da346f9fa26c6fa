package repository

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/yashrajoria/fitmeals-backend/services/order-service/models"
)

// UserRepository resolves where to reach a user.
type UserRepository interface {
	FindContact(ctx context.Context, userID string) (*models.UserContact, error)
}

type MongoUserRepository struct {
	collection *mongo.Collection
}

func NewMongoUserRepository(db *mongo.Database) *MongoUserRepository {
	return &MongoUserRepository{collection: db.Collection("users")}
}

func (r *MongoUserRepository) FindContact(ctx context.Context, userID string) (*models.UserContact, error) {
	oid, err := primitive.ObjectIDFromHex(userID)
	if err != nil {
		return nil, ErrNotFound
	}

	var doc struct {
		ID        primitive.ObjectID `bson:"_id"`
		Email     string             `bson:"email"`
		FirstName string             `bson:"firstName"`
	}
	opts := options.FindOne().SetProjection(bson.M{"email": 1, "firstName": 1})
	if err := r.collection.FindOne(ctx, bson.M{"_id": oid}, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find user %s: %w", userID, err)
	}
	return &models.UserContact{ID: doc.ID.Hex(), Email: doc.Email, FirstName: doc.FirstName}, nil
}
