package storage

import (
	"os"
	"strings"
)

// Mode selects the store backend
type Mode string

const (
	ModeMemory   Mode = "memory"
	ModeDynamoDB Mode = "dynamodb"
	ModeMongoDB  Mode = "mongodb"
)

// DynamoMode represents the DynamoDB connection mode
type DynamoMode string

const (
	DynamoModeLocal DynamoMode = "local"
	DynamoModeAWS   DynamoMode = "aws"
)

// Config holds the store configuration
type Config struct {
	Mode   Mode
	Dynamo DynamoConfig
	Mongo  MongoConfig
}

// DynamoConfig holds DynamoDB configuration
type DynamoConfig struct {
	Mode          DynamoMode
	Endpoint      string // for local mode
	Region        string
	AgentsTable   string
	SettingsTable string
	KpiTable      string
	TasksTable    string
}

// MongoConfig holds MongoDB configuration
type MongoConfig struct {
	URI      string
	Database string
	Watch    bool // follow change streams (requires a replica set)
}

// LoadConfig loads the store config from environment
func LoadConfig() Config {
	mode := Mode(strings.ToLower(getEnv("STORE_MODE", string(ModeMemory))))
	if mode != ModeDynamoDB && mode != ModeMongoDB {
		mode = ModeMemory
	}

	dynamoMode := DynamoMode(getEnv("DYNAMO_MODE", string(DynamoModeLocal)))
	if dynamoMode != DynamoModeAWS {
		dynamoMode = DynamoModeLocal
	}

	return Config{
		Mode: mode,
		Dynamo: DynamoConfig{
			Mode:          dynamoMode,
			Endpoint:      getEnv("DYNAMO_ENDPOINT", "http://localhost:8000"),
			Region:        getEnv("DYNAMO_REGION", "eu-central-1"),
			AgentsTable:   getEnv("DYNAMO_AGENTS_TABLE", "kpiboard-agents"),
			SettingsTable: getEnv("DYNAMO_SETTINGS_TABLE", "kpiboard-settings"),
			KpiTable:      getEnv("DYNAMO_KPI_TABLE", "kpiboard-monthly-kpi"),
			TasksTable:    getEnv("DYNAMO_TASKS_TABLE", "kpiboard-daily-tasks"),
		},
		Mongo: MongoConfig{
			URI:      getEnv("MONGO_URI", "mongodb://localhost:27017"),
			Database: getEnv("MONGO_DATABASE", "kpiboard"),
			Watch:    getEnv("MONGO_WATCH", "false") == "true",
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
