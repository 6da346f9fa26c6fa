package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/joho/godotenv"

	awspkg "github.com/yashrajoria/fitmeals-backend/pkg/aws"
	"github.com/yashrajoria/fitmeals-backend/services/order-service/database"
	"github.com/yashrajoria/fitmeals-backend/services/order-service/models"
	"github.com/yashrajoria/fitmeals-backend/services/order-service/repository"
)

// Copies the meal catalog from MongoDB into the DynamoDB table read when the
// order service runs with MEAL_STORE=dynamodb.
func main() {
	_ = godotenv.Load()

	var mongoURI, dbName, table, region string
	var batch int
	flag.StringVar(&mongoURI, "mongo", os.Getenv("MONGO_URI"), "MongoDB URI")
	flag.StringVar(&dbName, "db", envOr("MONGO_DATABASE", "fitmeals"), "MongoDB database name")
	flag.StringVar(&table, "table", envOr("MEAL_TABLE", "meals"), "DynamoDB table name")
	flag.StringVar(&region, "region", envOr("AWS_REGION", "us-east-1"), "AWS region")
	flag.IntVar(&batch, "batch", 500, "Mongo cursor batch size")
	flag.Parse()

	if mongoURI == "" {
		log.Fatal("MONGO_URI must be set or provided via -mongo")
	}

	ctx := context.Background()
	client, db, err := database.ConnectMongo(ctx, mongoURI, dbName)
	if err != nil {
		log.Fatalf("mongo: %v", err)
	}
	defer func() { _ = database.DisconnectMongo(client) }()

	awsCfg, err := awspkg.LoadAWSConfig(ctx, region)
	if err != nil {
		log.Fatalf("aws config: %v", err)
	}
	dst := repository.NewDynamoMealRepository(dynamodb.NewFromConfig(awsCfg), table)
	src := repository.NewMongoMealRepository(db)

	var migrated, failed int
	skipped, err := src.Each(ctx, int32(batch), func(m *models.Meal) error {
		if err := dst.Put(ctx, m); err != nil {
			log.Printf("failed to write meal %s: %v", m.ID, err)
			failed++
			return nil
		}
		migrated++
		if migrated%100 == 0 {
			log.Printf("migrated %d meals", migrated)
		}
		return nil
	})
	if err != nil {
		log.Fatalf("cursor error: %v", err)
	}
	fmt.Printf("Migration complete. migrated=%d failed=%d undecodable=%d\n", migrated, failed, skipped)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
