package storage

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"logguard/core"
)

// MongoDB is the alternative metadata backend. It implements the same Store
// surface as SQLite; deployments pick one via storage.backend.
type MongoDB struct {
	Client    *mongo.Client
	Database  *mongo.Database
	anomalies *mongo.Collection
	logFiles  *mongo.Collection
	apiKeys   *mongo.Collection
	webhooks  *mongo.Collection
	logger    *zap.SugaredLogger
}

// NewMongoDB connects and verifies the connection.
func NewMongoDB(uri, dbName string, logger *zap.SugaredLogger) (*MongoDB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(dbName)
	m := &MongoDB{
		Client:    client,
		Database:  db,
		anomalies: db.Collection("anomalies"),
		logFiles:  db.Collection("log_files"),
		apiKeys:   db.Collection("api_keys"),
		webhooks:  db.Collection("webhooks"),
		logger:    logger,
	}

	if err := m.ensureIndexes(ctx); err != nil {
		return nil, err
	}

	logger.Infow("Connected to MongoDB", "database", dbName)
	return m, nil
}

func (m *MongoDB) ensureIndexes(ctx context.Context) error {
	_, err := m.anomalies.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "logfileid", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
		{Keys: bson.D{{Key: "riskscore", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create anomaly indexes: %w", err)
	}
	_, err = m.apiKeys.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "provider", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create api key index: %w", err)
	}
	return nil
}

// HealthCheck pings the connection.
func (m *MongoDB) HealthCheck(ctx context.Context) error {
	return m.Client.Ping(ctx, nil)
}

// Close disconnects the client.
func (m *MongoDB) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.Client.Disconnect(ctx)
}

// mongoAnomaly wraps core.Anomaly with the Mongo _id field.
type mongoAnomaly struct {
	MongoID string `bson:"_id"`
	core.Anomaly   `bson:",inline"`
}

func (m *MongoDB) SaveAnomaly(ctx context.Context, a *core.Anomaly) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	a.RiskScore = core.ClampRiskScore(a.RiskScore)
	_, err := m.anomalies.InsertOne(ctx, mongoAnomaly{MongoID: a.ID, Anomaly: *a})
	if err != nil {
		return fmt.Errorf("failed to insert anomaly: %w", err)
	}
	return nil
}

func (m *MongoDB) SaveAnomalies(ctx context.Context, anomalies []core.Anomaly) error {
	if len(anomalies) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(anomalies))
	for i := range anomalies {
		a := anomalies[i]
		if a.CreatedAt.IsZero() {
			a.CreatedAt = time.Now().UTC()
		}
		a.RiskScore = core.ClampRiskScore(a.RiskScore)
		docs = append(docs, mongoAnomaly{MongoID: a.ID, Anomaly: a})
	}
	if _, err := m.anomalies.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("failed to insert anomalies: %w", err)
	}
	return nil
}

func (m *MongoDB) GetAnomaly(ctx context.Context, id string) (*core.Anomaly, error) {
	var doc mongoAnomaly
	err := m.anomalies.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, ErrAnomalyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get anomaly: %w", err)
	}
	a := doc.Anomaly
	a.ID = doc.MongoID
	return &a, nil
}

func (m *MongoDB) ListAnomalies(ctx context.Context, filter AnomalyFilter) ([]core.Anomaly, error) {
	query := bson.M{}
	if filter.LogFileID != "" {
		query["logfileid"] = filter.LogFileID
	}
	if filter.Status != "" {
		query["status"] = filter.Status
	}
	if filter.DetectionMethod != "" {
		query["detectionmethod"] = filter.DetectionMethod
	}
	if filter.MinRiskScore > 0 {
		query["riskscore"] = bson.M{"$gte": filter.MinRiskScore}
	}
	if filter.Search != "" {
		term := bson.M{"$regex": regexp.QuoteMeta(filter.Search), "$options": "i"}
		query["$or"] = []bson.M{
			{"anomalytype": term},
			{"description": term},
			{"rawlogentry": term},
		}
	}

	opts := options.Find().SetSort(bson.D{
		{Key: "riskscore", Value: -1},
		{Key: "createdat", Value: -1},
	})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
		opts.SetSkip(int64(filter.Offset))
	}

	cursor, err := m.anomalies.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list anomalies: %w", err)
	}
	defer cursor.Close(ctx)

	anomalies := []core.Anomaly{}
	for cursor.Next(ctx) {
		var doc mongoAnomaly
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode anomaly: %w", err)
		}
		a := doc.Anomaly
		a.ID = doc.MongoID
		anomalies = append(anomalies, a)
	}
	return anomalies, cursor.Err()
}

func (m *MongoDB) UpdateAnomaly(ctx context.Context, id string, update core.AnomalyUpdate) (*core.Anomaly, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}

	set := bson.M{}
	if update.Status != nil {
		set["status"] = *update.Status
	}
	if update.Priority != nil {
		set["priority"] = *update.Priority
	}
	if update.AnalystNotes != nil {
		set["analystnotes"] = *update.AnalystNotes
	}
	if len(set) == 0 {
		return m.GetAnomaly(ctx, id)
	}
	if update.ReviewedAt != nil {
		set["reviewedat"] = *update.ReviewedAt
	} else {
		set["reviewedat"] = time.Now().UTC()
	}

	result, err := m.anomalies.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return nil, fmt.Errorf("failed to update anomaly: %w", err)
	}
	if result.MatchedCount == 0 {
		return nil, ErrAnomalyNotFound
	}
	return m.GetAnomaly(ctx, id)
}

func (m *MongoDB) BulkUpdateStatus(ctx context.Context, ids []string, status string, reviewedAt time.Time) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if len(ids) > MaxBulkIDs {
		return 0, fmt.Errorf("%w: %d ids (max %d)", ErrTooManyIDs, len(ids), MaxBulkIDs)
	}
	if !core.ValidStatus(status) {
		return 0, fmt.Errorf("invalid status: %s", status)
	}

	// All-or-nothing: verify every ID exists before touching any row. Without
	// multi-document transactions (standalone mongod) this is the closest we
	// get to the SQLite behavior.
	count, err := m.anomalies.CountDocuments(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, fmt.Errorf("failed to count anomalies: %w", err)
	}
	if int(count) != len(uniqueIDs(ids)) {
		return 0, fmt.Errorf("%w: bulk update references unknown ids", ErrAnomalyNotFound)
	}

	result, err := m.anomalies.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		bson.M{"$set": bson.M{"status": status, "reviewedat": reviewedAt}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to bulk update anomalies: %w", err)
	}
	return int(result.ModifiedCount), nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// deleteAnomaliesByLogFile backs DeleteLogFile; Mongo has no foreign-key
// cascade, so dependent anomalies go explicitly.
func (m *MongoDB) deleteAnomaliesByLogFile(ctx context.Context, logFileID string) error {
	_, err := m.anomalies.DeleteMany(ctx, bson.M{"logfileid": logFileID})
	if err != nil {
		return fmt.Errorf("failed to delete anomalies for log file %s: %w", logFileID, err)
	}
	return nil
}

func (m *MongoDB) SetAIAnalysis(ctx context.Context, id string, analysis map[string]interface{}) error {
	result, err := m.anomalies.UpdateOne(ctx, bson.M{"_id": id},
		bson.M{"$set": bson.M{"aianalysis": analysis}})
	if err != nil {
		return fmt.Errorf("failed to set AI analysis: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrAnomalyNotFound
	}
	return nil
}

type mongoLogFile struct {
	MongoID string `bson:"_id"`
	core.LogFile `bson:",inline"`
}

func (m *MongoDB) SaveLogFile(ctx context.Context, f *core.LogFile) error {
	if f.UploadedAt.IsZero() {
		f.UploadedAt = time.Now().UTC()
	}
	if f.Status == "" {
		f.Status = core.FileStatusPending
	}
	_, err := m.logFiles.InsertOne(ctx, mongoLogFile{MongoID: f.ID, LogFile: *f})
	if err != nil {
		return fmt.Errorf("failed to insert log file: %w", err)
	}
	return nil
}

func (m *MongoDB) GetLogFile(ctx context.Context, id string) (*core.LogFile, error) {
	var doc mongoLogFile
	err := m.logFiles.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, ErrLogFileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get log file: %w", err)
	}
	f := doc.LogFile
	f.ID = doc.MongoID
	return &f, nil
}

func (m *MongoDB) ListLogFiles(ctx context.Context) ([]core.LogFile, error) {
	cursor, err := m.logFiles.Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "uploadedat", Value: -1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list log files: %w", err)
	}
	defer cursor.Close(ctx)

	files := []core.LogFile{}
	for cursor.Next(ctx) {
		var doc mongoLogFile
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode log file: %w", err)
		}
		f := doc.LogFile
		f.ID = doc.MongoID
		files = append(files, f)
	}
	return files, cursor.Err()
}

func (m *MongoDB) UpdateLogFileStatus(ctx context.Context, id, status string, totalEntries int, errorMessage string) error {
	current, err := m.GetLogFile(ctx, id)
	if err != nil {
		return err
	}
	if err := core.ValidateFileTransition(current.Status, status); err != nil {
		return err
	}

	set := bson.M{
		"status":       status,
		"totalentries": totalEntries,
		"errormessage": errorMessage,
	}
	if status == core.FileStatusCompleted || status == core.FileStatusFailed {
		set["processedat"] = time.Now().UTC()
	}

	result, err := m.logFiles.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("failed to update log file status: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrLogFileNotFound
	}
	return nil
}

func (m *MongoDB) DeleteLogFile(ctx context.Context, id string) error {
	result, err := m.logFiles.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete log file: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrLogFileNotFound
	}
	return m.deleteAnomaliesByLogFile(ctx, id)
}

// Key material serializes in bson through the embedded struct; the json:"-"
// tag only hides it on the wire.
type mongoAPIKey struct {
	MongoID           string `bson:"_id"`
	core.APIKeyRecord `bson:",inline"`
}

func (m *MongoDB) SetAPIKey(ctx context.Context, provider, key string) (*core.APIKeyRecord, error) {
	provider = core.NormalizeProvider(provider)
	if !core.ValidProvider(provider) {
		return nil, fmt.Errorf("unknown provider: %s", provider)
	}
	if key == "" {
		return nil, fmt.Errorf("api key must not be empty")
	}

	now := time.Now().UTC()
	record := &core.APIKeyRecord{
		ID:        uuid.NewString(),
		Provider:  provider,
		Key:       key,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err := m.apiKeys.UpdateOne(ctx,
		bson.M{"provider": provider},
		bson.M{
			"$set":         bson.M{"key": key, "updatedat": now},
			"$setOnInsert": bson.M{"_id": record.ID, "provider": provider, "createdat": now},
		},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to store api key: %w", err)
	}
	return record, nil
}

func (m *MongoDB) GetAPIKey(ctx context.Context, provider string) (*core.APIKeyRecord, error) {
	provider = core.NormalizeProvider(provider)

	var doc mongoAPIKey
	err := m.apiKeys.FindOne(ctx, bson.M{"provider": provider}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, ErrAPIKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	record := doc.APIKeyRecord
	record.ID = doc.MongoID
	return &record, nil
}

func (m *MongoDB) KeyStatus(ctx context.Context) (core.KeyStatus, error) {
	cursor, err := m.apiKeys.Find(ctx, bson.M{},
		options.Find().SetProjection(bson.M{"provider": 1}))
	if err != nil {
		return core.KeyStatus{}, fmt.Errorf("failed to query key status: %w", err)
	}
	defer cursor.Close(ctx)

	var status core.KeyStatus
	for cursor.Next(ctx) {
		var doc struct {
			Provider string `bson:"provider"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return core.KeyStatus{}, fmt.Errorf("failed to decode provider: %w", err)
		}
		switch doc.Provider {
		case core.ProviderOpenAI:
			status.OpenAI.Configured = true
		case core.ProviderGemini:
			status.Gemini.Configured = true
		}
	}
	return status, cursor.Err()
}

func (m *MongoDB) DeleteAPIKey(ctx context.Context, provider string) error {
	provider = core.NormalizeProvider(provider)
	result, err := m.apiKeys.DeleteOne(ctx, bson.M{"provider": provider})
	if err != nil {
		return fmt.Errorf("failed to delete api key: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}

type mongoWebhook struct {
	MongoID      string `bson:"_id"`
	core.Webhook `bson:",inline"`
}

func (m *MongoDB) SaveWebhook(ctx context.Context, w *core.Webhook) error {
	if err := w.Validate(); err != nil {
		return err
	}
	if w.CreatedAt.IsZero() {
		w.CreatedAt = time.Now().UTC()
	}
	_, err := m.webhooks.InsertOne(ctx, mongoWebhook{MongoID: w.ID, Webhook: *w})
	if err != nil {
		return fmt.Errorf("failed to insert webhook: %w", err)
	}
	return nil
}

func (m *MongoDB) GetWebhook(ctx context.Context, id string) (*core.Webhook, error) {
	var doc mongoWebhook
	err := m.webhooks.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, ErrWebhookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook: %w", err)
	}
	w := doc.Webhook
	w.ID = doc.MongoID
	return &w, nil
}

func (m *MongoDB) ListWebhooks(ctx context.Context) ([]core.Webhook, error) {
	cursor, err := m.webhooks.Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "createdat", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	defer cursor.Close(ctx)

	webhooks := []core.Webhook{}
	for cursor.Next(ctx) {
		var doc mongoWebhook
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode webhook: %w", err)
		}
		w := doc.Webhook
		w.ID = doc.MongoID
		webhooks = append(webhooks, w)
	}
	return webhooks, cursor.Err()
}

func (m *MongoDB) UpdateWebhook(ctx context.Context, w *core.Webhook) error {
	if err := w.Validate(); err != nil {
		return err
	}
	result, err := m.webhooks.UpdateOne(ctx, bson.M{"_id": w.ID}, bson.M{"$set": bson.M{
		"url":          w.URL,
		"secret":       w.Secret,
		"events":       w.Events,
		"enabled":      w.Enabled,
		"minriskscore": w.MinRiskScore,
	}})
	if err != nil {
		return fmt.Errorf("failed to update webhook: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrWebhookNotFound
	}
	return nil
}

func (m *MongoDB) DeleteWebhook(ctx context.Context, id string) error {
	result, err := m.webhooks.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrWebhookNotFound
	}
	return nil
}
