package main

import (
	"context"
	"log"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/chris/shard-rewards/pkg/config"
	wshandler "github.com/chris/shard-rewards/pkg/handlers/websockets"
	"github.com/chris/shard-rewards/pkg/logging"
	dydbstore "github.com/chris/shard-rewards/pkg/storage/dynamodb"
)

var handler *wshandler.Handler

func init() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	if err := cfg.RequireWebsockets(); err != nil {
		log.Fatal(err)
	}
	logging.Setup("shard-rewards-websockets", cfg.Env, cfg.LogLevel)

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatalf("unable to load SDK config, %v", err)
	}
	store := dydbstore.New(dynamodb.NewFromConfig(awsCfg), cfg.DynamoDBConnectionsTableName)
	handler = wshandler.NewHandler(store)
}

func main() {
	lambda.Start(handler.Route)
}
