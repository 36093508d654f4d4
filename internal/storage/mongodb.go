package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dennisdiepolder/kpiboard/internal/scoring"
	"github.com/dennisdiepolder/kpiboard/internal/types"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names
const (
	agentsCollection   = "agents"
	settingsCollection = "settings"
	kpiCollection      = "monthly_kpi"
	tasksCollection    = "daily_tasks"
)

// targetsDocument is the stored position targets table
type targetsDocument struct {
	ID        string             `bson:"_id"`
	Targets   map[string]float64 `bson:"targets"`
	Revision  int64              `bson:"revision"`
	UpdatedAt time.Time          `bson:"updatedAt"`
	UpdatedBy string             `bson:"updatedBy,omitempty"`
}

// MongoStore implements Store using MongoDB
type MongoStore struct {
	client   *mongo.Client
	database *mongo.Database
	agents   *mongo.Collection
	settings *mongo.Collection
	kpis     *mongo.Collection
	tasks    *mongo.Collection
	notifier *Notifier
	logger   zerolog.Logger
}

// NewMongoStore connects to MongoDB and prepares the collections
func NewMongoStore(ctx context.Context, cfg MongoConfig, logger zerolog.Logger) (*MongoStore, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	database := client.Database(cfg.Database)
	store := &MongoStore{
		client:   client,
		database: database,
		agents:   database.Collection(agentsCollection),
		settings: database.Collection(settingsCollection),
		kpis:     database.Collection(kpiCollection),
		tasks:    database.Collection(tasksCollection),
		notifier: NewNotifier(logger),
		logger:   logger,
	}

	monthIndex := mongo.IndexModel{
		Keys: bson.D{{Key: "agentId", Value: 1}, {Key: "month", Value: 1}},
	}
	if _, err := store.tasks.Indexes().CreateOne(connectCtx, monthIndex); err != nil {
		// Index might already exist, that's okay
		logger.Warn().Err(err).Msg("task month index creation")
	}

	logger.Info().Str("database", cfg.Database).Msg("MongoDB store initialized")
	return store, nil
}

func (s *MongoStore) ListAgents(ctx context.Context) ([]types.Agent, error) {
	cursor, err := s.agents.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer cursor.Close(ctx)

	var agents []types.Agent
	if err := cursor.All(ctx, &agents); err != nil {
		return nil, fmt.Errorf("failed to decode agents: %w", err)
	}
	return agents, nil
}

func (s *MongoStore) GetAgent(ctx context.Context, agentID string) (types.Agent, error) {
	var agent types.Agent
	err := s.agents.FindOne(ctx, bson.M{"_id": agentID}).Decode(&agent)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return types.Agent{}, fmt.Errorf("agent %s: %w", agentID, ErrNotFound)
		}
		return types.Agent{}, fmt.Errorf("failed to get agent: %w", err)
	}
	return agent, nil
}

func (s *MongoStore) UpsertAgent(ctx context.Context, agent types.Agent) (types.Agent, error) {
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

	_, err = s.agents.ReplaceOne(ctx, bson.M{"_id": agent.AgentID}, agent, options.Replace().SetUpsert(true))
	if err != nil {
		return agent, fmt.Errorf("failed to save agent: %w", err)
	}

	s.notifier.Publish(types.ChangeEvent{Kind: types.ChangeRoster, AgentID: agent.AgentID})
	return agent, nil
}

func (s *MongoStore) GetWeights(ctx context.Context) (*types.WeightsDocument, error) {
	var doc types.WeightsDocument
	err := s.settings.FindOne(ctx, bson.M{"_id": weightsSettingID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get weights: %w", err)
	}
	return &doc, nil
}

func (s *MongoStore) SaveWeights(ctx context.Context, w types.PerformanceWeights, updatedBy string) error {
	if err := scoring.ValidateWeights(w); err != nil {
		return err
	}

	doc := scoring.WeightsDocumentFor(w)
	update := bson.M{"$set": bson.M{
		"weights":   doc.Weights,
		"updatedAt": time.Now(),
		"updatedBy": updatedBy,
	}}
	_, err := s.settings.UpdateOne(ctx, bson.M{"_id": weightsSettingID}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save weights: %w", err)
	}

	s.notifier.Publish(types.ChangeEvent{Kind: types.ChangeWeights})
	return nil
}

func (s *MongoStore) getTargets(ctx context.Context) (*targetsDocument, error) {
	var doc targetsDocument
	err := s.settings.FindOne(ctx, bson.M{"_id": positionsSettingID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get position targets: %w", err)
	}
	return &doc, nil
}

func (s *MongoStore) GetPositionTargets(ctx context.Context) (types.PositionTargetTable, error) {
	doc, err := s.getTargets(ctx)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return types.PositionTargetTable{}, nil
	}
	return types.PositionTargetTable(doc.Targets).Clone(), nil
}

// MergePositionTargets merges in Go and writes back conditionally on the
// revision; position names may contain dots, which field paths cannot hold.
func (s *MongoStore) MergePositionTargets(ctx context.Context, table types.PositionTargetTable, updatedBy string) (types.PositionTargetTable, error) {
	if err := scoring.ValidateTargets(table); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		current, err := s.getTargets(ctx)
		if err != nil {
			return nil, err
		}

		next := targetsDocument{ID: positionsSettingID, Targets: map[string]float64{}}
		if current != nil {
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

		if current == nil {
			if _, err := s.settings.InsertOne(ctx, next); err != nil {
				if mongo.IsDuplicateKeyError(err) {
					continue
				}
				return nil, fmt.Errorf("failed to save position targets: %w", err)
			}
		} else {
			res, err := s.settings.ReplaceOne(ctx, bson.M{"_id": positionsSettingID, "revision": current.Revision}, next)
			if err != nil {
				return nil, fmt.Errorf("failed to save position targets: %w", err)
			}
			if res.MatchedCount == 0 {
				continue
			}
		}

		s.notifier.Publish(types.ChangeEvent{Kind: types.ChangeTargets})
		return types.PositionTargetTable(next.Targets).Clone(), nil
	}
	return nil, ErrConflict
}

func (s *MongoStore) GetMonthlyKpi(ctx context.Context, agentID, monthID string) (*types.MonthlyKpiRecord, error) {
	var rec types.MonthlyKpiRecord
	err := s.kpis.FindOne(ctx, bson.M{"_id": docKey(agentID, monthID)}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get kpi record: %w", err)
	}
	return &rec, nil
}

func (s *MongoStore) SaveMonthlyKpi(ctx context.Context, rec types.MonthlyKpiRecord) (types.MonthlyKpiRecord, error) {
	if rec.AgentID == "" {
		return rec, fmt.Errorf("agent id is required")
	}
	if err := scoring.ValidateKpi(rec); err != nil {
		return rec, err
	}

	set := bson.M{
		"agentId":        rec.AgentID,
		"month":          rec.MonthID,
		"workingDays":    rec.WorkingDays,
		"workedDays":     rec.WorkedDays,
		"lateMinutes":    rec.LateMinutes,
		"attitudePoints": rec.AttitudePoints,
		"updatedAt":      time.Now(),
		"updatedBy":      rec.UpdatedBy,
	}
	if rec.AttendancePoints != nil {
		set["attendancePoints"] = *rec.AttendancePoints
	}

	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var saved types.MonthlyKpiRecord
	err := s.kpis.FindOneAndUpdate(ctx, bson.M{"_id": docKey(rec.AgentID, rec.MonthID)}, bson.M{"$set": set}, opts).Decode(&saved)
	if err != nil {
		return rec, fmt.Errorf("failed to save kpi record: %w", err)
	}

	s.notifier.Publish(types.ChangeEvent{Kind: types.ChangeKpi, AgentID: rec.AgentID, MonthID: rec.MonthID})
	return saved, nil
}

func (s *MongoStore) GetDailyTasks(ctx context.Context, agentID, dayID string) (*types.DailyTaskRecord, error) {
	var rec types.DailyTaskRecord
	err := s.tasks.FindOne(ctx, bson.M{"_id": docKey(agentID, dayID)}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get task record: %w", err)
	}
	return &rec, nil
}

func (s *MongoStore) ListMonthTasks(ctx context.Context, agentID, monthID string) ([]types.DailyTaskRecord, error) {
	cursor, err := s.tasks.Find(ctx, bson.M{"agentId": agentID, "month": monthID},
		options.Find().SetSort(bson.D{{Key: "date", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to query task records: %w", err)
	}
	defer cursor.Close(ctx)

	var records []types.DailyTaskRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, fmt.Errorf("failed to decode task records: %w", err)
	}
	return records, nil
}

// AppendTaskEntry applies the entry in one atomic upsert: the total and the
// per-activity counter are incremented in the same update that pushes the entry
func (s *MongoStore) AppendTaskEntry(ctx context.Context, agentID, dayID string, entry types.TaskEntry) (types.DailyTaskRecord, error) {
	entry, monthID, err := prepareEntry(dayID, entry)
	if err != nil {
		return types.DailyTaskRecord{}, err
	}

	inc := bson.M{"total": entry.Count, "revision": 1}
	inc["perActivity."+entry.Key] = entry.Count

	update := bson.M{
		"$setOnInsert": bson.M{"agentId": agentID, "date": dayID, "month": monthID},
		"$inc":         inc,
		"$push":        bson.M{"entries": entry},
		"$set":         bson.M{"updatedAt": time.Now()},
	}

	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	var rec types.DailyTaskRecord
	err = s.tasks.FindOneAndUpdate(ctx, bson.M{"_id": docKey(agentID, dayID)}, update, opts).Decode(&rec)
	if err != nil {
		return types.DailyTaskRecord{}, fmt.Errorf("failed to append task entry: %w", err)
	}

	s.notifier.Publish(types.ChangeEvent{Kind: types.ChangeTasks, AgentID: agentID, MonthID: monthID, DayID: dayID})
	return rec, nil
}

// changeStreamDoc is the part of a change stream event the store reads
type changeStreamDoc struct {
	NS struct {
		Coll string `bson:"coll"`
	} `bson:"ns"`
	DocumentKey struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
	FullDocument struct {
		AgentID string `bson:"agentId"`
		MonthID string `bson:"month"`
		DayID   string `bson:"date"`
	} `bson:"fullDocument"`
}

// Watch follows the database change stream and republishes writes made by
// other processes until ctx is cancelled. Requires a replica set.
func (s *MongoStore) Watch(ctx context.Context) error {
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	stream, err := s.database.Watch(ctx, mongo.Pipeline{}, opts)
	if err != nil {
		return fmt.Errorf("failed to open change stream: %w", err)
	}
	defer stream.Close(context.Background())

	s.logger.Info().Msg("following MongoDB change stream")
	for stream.Next(ctx) {
		var doc changeStreamDoc
		if err := stream.Decode(&doc); err != nil {
			s.logger.Warn().Err(err).Msg("failed to decode change event")
			continue
		}
		if ev, ok := changeEventFor(doc); ok {
			s.notifier.Publish(ev)
		}
	}

	if err := stream.Err(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("change stream stopped: %w", err)
	}
	return nil
}

func changeEventFor(doc changeStreamDoc) (types.ChangeEvent, bool) {
	ev := types.ChangeEvent{At: time.Now()}
	switch doc.NS.Coll {
	case agentsCollection:
		ev.Kind = types.ChangeRoster
		ev.AgentID = doc.DocumentKey.ID
	case settingsCollection:
		switch doc.DocumentKey.ID {
		case weightsSettingID:
			ev.Kind = types.ChangeWeights
		case positionsSettingID:
			ev.Kind = types.ChangeTargets
		default:
			return ev, false
		}
	case kpiCollection:
		ev.Kind = types.ChangeKpi
		ev.AgentID = doc.FullDocument.AgentID
		ev.MonthID = doc.FullDocument.MonthID
	case tasksCollection:
		ev.Kind = types.ChangeTasks
		ev.AgentID = doc.FullDocument.AgentID
		ev.MonthID = doc.FullDocument.MonthID
		ev.DayID = doc.FullDocument.DayID
	default:
		return ev, false
	}
	return ev, true
}

func (s *MongoStore) Subscribe() (<-chan types.ChangeEvent, func()) {
	return s.notifier.Subscribe()
}

func (s *MongoStore) Close(ctx context.Context) error {
	s.notifier.Close()
	return s.client.Disconnect(ctx)
}
