package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dennisdiepolder/kpiboard/internal/scoring"
	"github.com/dennisdiepolder/kpiboard/internal/types"
	"github.com/rs/zerolog"
)

// setting item ids in the settings table
const (
	weightsSettingID   = "metrics"
	positionsSettingID = "positions"
)

// settingItem is the stored form of both settings documents
type settingItem struct {
	SettingID        string
	Weights          *types.WeightsFields `dynamodbav:",omitempty"`
	WeightTask       *float64             `dynamodbav:",omitempty"`
	WeightAttendance *float64             `dynamodbav:",omitempty"`
	WeightAttitude   *float64             `dynamodbav:",omitempty"`
	Targets          map[string]float64   `dynamodbav:",omitempty"`
	Revision         int64
	UpdatedAt        time.Time
	UpdatedBy        string
}

// DynamoDBStore implements Store using AWS DynamoDB
type DynamoDBStore struct {
	client   *dynamodb.Client
	config   DynamoConfig
	notifier *Notifier
	logger   zerolog.Logger
}

// NewDynamoDBStore creates a new DynamoDB store
func NewDynamoDBStore(ctx context.Context, cfg DynamoConfig, logger zerolog.Logger) (*DynamoDBStore, error) {
	var client *dynamodb.Client

	if cfg.Mode == DynamoModeLocal {
		// For local mode, build the client directly without LoadDefaultConfig.
		// LoadDefaultConfig probes the EC2 IMDS endpoint which hangs on EC2
		// instances when static credentials are intended.
		client = dynamodb.New(dynamodb.Options{
			Region:       cfg.Region,
			BaseEndpoint: aws.String(cfg.Endpoint),
			Credentials:  credentials.NewStaticCredentialsProvider("local", "local", ""),
		})
	} else {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client = dynamodb.NewFromConfig(awsCfg)
	}

	store := &DynamoDBStore{
		client:   client,
		config:   cfg,
		notifier: NewNotifier(logger),
		logger:   logger,
	}

	// Create tables in local mode
	if cfg.Mode == DynamoModeLocal {
		if err := CreateTablesIfNotExist(ctx, client, cfg, logger); err != nil {
			return nil, err
		}
	}

	logger.Info().
		Str("mode", string(cfg.Mode)).
		Str("region", cfg.Region).
		Msg("DynamoDB store initialized")

	return store, nil
}

func stringKey(pairs ...string) map[string]dbtypes.AttributeValue {
	key := make(map[string]dbtypes.AttributeValue, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		key[pairs[i]] = &dbtypes.AttributeValueMemberS{Value: pairs[i+1]}
	}
	return key
}

func isConditionFailed(err error) bool {
	var ccf *dbtypes.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func (s *DynamoDBStore) ListAgents(ctx context.Context) ([]types.Agent, error) {
	paginator := dynamodb.NewScanPaginator(s.client, &dynamodb.ScanInput{
		TableName: aws.String(s.config.AgentsTable),
	})

	var agents []types.Agent
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agents: %w", err)
		}
		var batch []types.Agent
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("failed to unmarshal agents: %w", err)
		}
		agents = append(agents, batch...)
	}

	sort.Slice(agents, func(i, j int) bool { return agents[i].AgentID < agents[j].AgentID })
	return agents, nil
}

func (s *DynamoDBStore) GetAgent(ctx context.Context, agentID string) (types.Agent, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.config.AgentsTable),
		Key:       stringKey("AgentID", agentID),
	})
	if err != nil {
		return types.Agent{}, fmt.Errorf("failed to get agent: %w", err)
	}
	if result.Item == nil {
		return types.Agent{}, fmt.Errorf("agent %s: %w", agentID, ErrNotFound)
	}

	var agent types.Agent
	if err := attributevalue.UnmarshalMap(result.Item, &agent); err != nil {
		return types.Agent{}, fmt.Errorf("failed to unmarshal agent: %w", err)
	}
	return agent, nil
}

func (s *DynamoDBStore) UpsertAgent(ctx context.Context, agent types.Agent) (types.Agent, error) {
	var existing *types.Agent
	if cur, err := s.GetAgent(ctx, strings.TrimSpace(agent.AgentID)); err == nil {
		existing = &cur
	} else if !errors.Is(err, ErrNotFound) {
		return agent, err
	}

	agent, err := normalizeAgent(agent, existing, time.Now())
	if err != nil {
		return agent, err
	}

	item, err := attributevalue.MarshalMap(agent)
	if err != nil {
		return agent, fmt.Errorf("failed to marshal agent: %w", err)
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.config.AgentsTable),
		Item:      item,
	})
	if err != nil {
		return agent, fmt.Errorf("failed to save agent: %w", err)
	}

	s.notifier.Publish(types.ChangeEvent{Kind: types.ChangeRoster, AgentID: agent.AgentID})
	return agent, nil
}

func (s *DynamoDBStore) getSetting(ctx context.Context, settingID string) (*settingItem, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.config.SettingsTable),
		Key:            stringKey("SettingID", settingID),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get setting %s: %w", settingID, err)
	}
	if result.Item == nil {
		return nil, nil
	}

	var item settingItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal setting %s: %w", settingID, err)
	}
	return &item, nil
}

func (s *DynamoDBStore) GetWeights(ctx context.Context) (*types.WeightsDocument, error) {
	item, err := s.getSetting(ctx, weightsSettingID)
	if err != nil || item == nil {
		return nil, err
	}
	return &types.WeightsDocument{
		Weights:          item.Weights,
		WeightTask:       item.WeightTask,
		WeightAttendance: item.WeightAttendance,
		WeightAttitude:   item.WeightAttitude,
		UpdatedAt:        item.UpdatedAt,
		UpdatedBy:        item.UpdatedBy,
	}, nil
}

func (s *DynamoDBStore) SaveWeights(ctx context.Context, w types.PerformanceWeights, updatedBy string) error {
	if err := scoring.ValidateWeights(w); err != nil {
		return err
	}

	doc := scoring.WeightsDocumentFor(w)
	update := expression.Set(expression.Name("Weights"), expression.Value(doc.Weights)).
		Set(expression.Name("UpdatedAt"), expression.Value(time.Now())).
		Set(expression.Name("UpdatedBy"), expression.Value(updatedBy))
	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return fmt.Errorf("failed to build expression: %w", err)
	}

	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.config.SettingsTable),
		Key:                       stringKey("SettingID", weightsSettingID),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		return fmt.Errorf("failed to save weights: %w", err)
	}

	s.notifier.Publish(types.ChangeEvent{Kind: types.ChangeWeights})
	return nil
}

func (s *DynamoDBStore) GetPositionTargets(ctx context.Context) (types.PositionTargetTable, error) {
	item, err := s.getSetting(ctx, positionsSettingID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return types.PositionTargetTable{}, nil
	}
	return types.PositionTargetTable(item.Targets).Clone(), nil
}

// MergePositionTargets merges in Go and writes back conditionally on the
// revision; position names may contain characters that are not valid in
// expression paths.
func (s *DynamoDBStore) MergePositionTargets(ctx context.Context, table types.PositionTargetTable, updatedBy string) (types.PositionTargetTable, error) {
	if err := scoring.ValidateTargets(table); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		current, err := s.getSetting(ctx, positionsSettingID)
		if err != nil {
			return nil, err
		}

		cond := expression.AttributeNotExists(expression.Name("SettingID"))
		next := settingItem{SettingID: positionsSettingID, Targets: map[string]float64{}}
		if current != nil {
			cond = expression.Name("Revision").Equal(expression.Value(current.Revision))
			next.Revision = current.Revision
			for pos, v := range current.Targets {
				next.Targets[pos] = v
			}
		}
		for pos, v := range table {
			next.Targets[strings.TrimSpace(pos)] = v
		}
		next.Revision++
		next.UpdatedAt = time.Now()
		next.UpdatedBy = updatedBy

		if err := s.conditionalPut(ctx, s.config.SettingsTable, next, cond); err != nil {
			if isConditionFailed(err) {
				continue
			}
			return nil, fmt.Errorf("failed to save position targets: %w", err)
		}

		s.notifier.Publish(types.ChangeEvent{Kind: types.ChangeTargets})
		return types.PositionTargetTable(next.Targets).Clone(), nil
	}
	return nil, ErrConflict
}

func (s *DynamoDBStore) conditionalPut(ctx context.Context, table string, in interface{}, cond expression.ConditionBuilder) error {
	item, err := attributevalue.MarshalMap(in)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return fmt.Errorf("failed to build expression: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(table),
		Item:                      item,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	return err
}

func (s *DynamoDBStore) GetMonthlyKpi(ctx context.Context, agentID, monthID string) (*types.MonthlyKpiRecord, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.config.KpiTable),
		Key:       stringKey("AgentID", agentID, "MonthID", monthID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get kpi record: %w", err)
	}
	if result.Item == nil {
		return nil, nil
	}

	var rec types.MonthlyKpiRecord
	if err := attributevalue.UnmarshalMap(result.Item, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal kpi record: %w", err)
	}
	return &rec, nil
}

// SaveMonthlyKpi merges the KPI fields into the stored record with a single
// UpdateItem, leaving attributes it does not set untouched
func (s *DynamoDBStore) SaveMonthlyKpi(ctx context.Context, rec types.MonthlyKpiRecord) (types.MonthlyKpiRecord, error) {
	if rec.AgentID == "" {
		return rec, fmt.Errorf("agent id is required")
	}
	if err := scoring.ValidateKpi(rec); err != nil {
		return rec, err
	}

	update := expression.Set(expression.Name("WorkingDays"), expression.Value(rec.WorkingDays)).
		Set(expression.Name("WorkedDays"), expression.Value(rec.WorkedDays)).
		Set(expression.Name("LateMinutes"), expression.Value(rec.LateMinutes)).
		Set(expression.Name("AttitudePoints"), expression.Value(rec.AttitudePoints)).
		Set(expression.Name("UpdatedAt"), expression.Value(time.Now())).
		Set(expression.Name("UpdatedBy"), expression.Value(rec.UpdatedBy))
	if rec.AttendancePoints != nil {
		update = update.Set(expression.Name("AttendancePoints"), expression.Value(*rec.AttendancePoints))
	}
	expr, err := expression.NewBuilder().WithUpdate(update).Build()
	if err != nil {
		return rec, fmt.Errorf("failed to build expression: %w", err)
	}

	result, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.config.KpiTable),
		Key:                       stringKey("AgentID", rec.AgentID, "MonthID", rec.MonthID),
		UpdateExpression:          expr.Update(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ReturnValues:              dbtypes.ReturnValueAllNew,
	})
	if err != nil {
		return rec, fmt.Errorf("failed to save kpi record: %w", err)
	}

	var saved types.MonthlyKpiRecord
	if err := attributevalue.UnmarshalMap(result.Attributes, &saved); err != nil {
		return rec, fmt.Errorf("failed to unmarshal kpi record: %w", err)
	}

	s.notifier.Publish(types.ChangeEvent{Kind: types.ChangeKpi, AgentID: rec.AgentID, MonthID: rec.MonthID})
	return saved, nil
}

func (s *DynamoDBStore) GetDailyTasks(ctx context.Context, agentID, dayID string) (*types.DailyTaskRecord, error) {
	return s.getDay(ctx, agentID, dayID, false)
}

func (s *DynamoDBStore) getDay(ctx context.Context, agentID, dayID string, consistent bool) (*types.DailyTaskRecord, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.config.TasksTable),
		Key:            stringKey("AgentID", agentID, "DayID", dayID),
		ConsistentRead: aws.Bool(consistent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get task record: %w", err)
	}
	if result.Item == nil {
		return nil, nil
	}

	var rec types.DailyTaskRecord
	if err := attributevalue.UnmarshalMap(result.Item, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task record: %w", err)
	}
	return &rec, nil
}

func (s *DynamoDBStore) ListMonthTasks(ctx context.Context, agentID, monthID string) ([]types.DailyTaskRecord, error) {
	keyCond := expression.Key("AgentID").Equal(expression.Value(agentID)).
		And(expression.Key("DayID").BeginsWith(monthID + "-"))
	expr, err := expression.NewBuilder().WithKeyCondition(keyCond).Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build expression: %w", err)
	}

	paginator := dynamodb.NewQueryPaginator(s.client, &dynamodb.QueryInput{
		TableName:                 aws.String(s.config.TasksTable),
		KeyConditionExpression:    expr.KeyCondition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})

	var records []types.DailyTaskRecord
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to query task records: %w", err)
		}
		var batch []types.DailyTaskRecord
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &batch); err != nil {
			return nil, fmt.Errorf("failed to unmarshal task records: %w", err)
		}
		records = append(records, batch...)
	}
	return records, nil
}

// AppendTaskEntry reads the day record, applies the entry and writes it back
// conditionally on the revision it read, retrying on conflict
func (s *DynamoDBStore) AppendTaskEntry(ctx context.Context, agentID, dayID string, entry types.TaskEntry) (types.DailyTaskRecord, error) {
	entry, monthID, err := prepareEntry(dayID, entry)
	if err != nil {
		return types.DailyTaskRecord{}, err
	}

	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		rec, err := s.getDay(ctx, agentID, dayID, true)
		if err != nil {
			return types.DailyTaskRecord{}, err
		}

		cond := expression.AttributeNotExists(expression.Name("AgentID"))
		if rec == nil {
			rec = &types.DailyTaskRecord{AgentID: agentID, DayID: dayID, MonthID: monthID}
		} else {
			cond = expression.Name("Revision").Equal(expression.Value(rec.Revision))
		}
		scoring.ApplyEntry(rec, entry)
		rec.UpdatedAt = time.Now()

		if err := s.conditionalPut(ctx, s.config.TasksTable, rec, cond); err != nil {
			if isConditionFailed(err) {
				s.logger.Debug().Str("agent_id", agentID).Str("day", dayID).Int("attempt", attempt+1).Msg("task append conflict, retrying")
				continue
			}
			return types.DailyTaskRecord{}, fmt.Errorf("failed to save task record: %w", err)
		}

		s.notifier.Publish(types.ChangeEvent{Kind: types.ChangeTasks, AgentID: agentID, MonthID: monthID, DayID: dayID})
		return *rec, nil
	}
	return types.DailyTaskRecord{}, ErrConflict
}

func (s *DynamoDBStore) Subscribe() (<-chan types.ChangeEvent, func()) {
	return s.notifier.Subscribe()
}

func (s *DynamoDBStore) Close(_ context.Context) error {
	s.notifier.Close()
	return nil
}
