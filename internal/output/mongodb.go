// internal/output/mongodb.go
package output

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/valpere/ReviewScrapexter/internal/jobs"
)

// MongoDBSink stores one document per job, keyed by job id
type MongoDBSink struct {
	client     *mongo.Client
	collection *mongo.Collection
	timeout    time.Duration
	logger     *slog.Logger
}

// NewMongoDBSink connects to uri and verifies the server is reachable
func NewMongoDBSink(ctx context.Context, uri, database, collection string, timeout time.Duration, logger *slog.Logger) (*MongoDBSink, error) {
	if uri == "" {
		return nil, fmt.Errorf("MongoDB connection string is required")
	}
	if database == "" || collection == "" {
		return nil, fmt.Errorf("MongoDB database and collection are required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	clientOptions := options.Client().
		ApplyURI(uri).
		SetMaxPoolSize(20).
		SetMinPoolSize(1).
		SetMaxConnIdleTime(10 * time.Minute).
		SetRetryWrites(true).
		SetServerSelectionTimeout(timeout)

	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &MongoDBSink{
		client:     client,
		collection: client.Database(database).Collection(collection),
		timeout:    timeout,
		logger:     logger,
	}, nil
}

// Archive upserts the job document
func (s *MongoDBSink) Archive(ctx context.Context, snap *jobs.Snapshot) error {
	doc, err := archiveDocument(snap)
	if err != nil {
		return err
	}
	_, err = s.collection.ReplaceOne(ctx, bson.M{"_id": snap.ID}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongodb archive %s: %w", snap.ID, err)
	}
	s.logger.Debug("archive.written", "job_id", snap.ID, "sink", "mongodb", "reviews", len(snap.Result.Reviews))
	return nil
}

func (s *MongoDBSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *MongoDBSink) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func archiveDocument(snap *jobs.Snapshot) (bson.D, error) {
	if err := archivable(snap); err != nil {
		return nil, err
	}

	reviews := make(bson.A, 0, len(snap.Result.Reviews))
	for i, r := range snap.Result.Reviews {
		reviews = append(reviews, bson.D{
			{Key: "position", Value: i},
			{Key: "reviewer_name", Value: r.ReviewerName},
			{Key: "rating", Value: nullFloat(r.Rating)},
			{Key: "date", Value: r.Date},
			{Key: "title", Value: r.Title},
			{Key: "text", Value: r.Text},
			{Key: "source", Value: string(r.Source)},
			{Key: "confidence", Value: r.Confidence},
			{Key: "store", Value: r.Store},
			{Key: "origin", Value: r.Origin},
			{Key: "url", Value: r.URL},
		})
	}

	s := snap.Result.Summary
	summary := bson.D{
		{Key: "average_rating", Value: s.AverageRating},
		{Key: "overall_sentiment", Value: string(s.OverallSentiment)},
		{Key: "common_praises", Value: s.CommonPraises},
		{Key: "common_complaints", Value: s.CommonComplaints},
		{Key: "verified_patterns", Value: bson.D{
			{Key: "positive", Value: s.VerifiedPatterns.Positive},
			{Key: "negative", Value: s.VerifiedPatterns.Negative},
		}},
		{Key: "trust_score", Value: nullFloat(s.TrustScore)},
		{Key: "degraded", Value: s.Degraded},
	}

	return bson.D{
		{Key: "_id", Value: snap.ID},
		{Key: "source", Value: string(snap.Request.Source)},
		{Key: "product_name", Value: snap.Request.ProductName},
		{Key: "brand", Value: snap.Request.Brand},
		{Key: "state", Value: string(snap.State)},
		{Key: "total_found", Value: snap.Result.TotalFound},
		{Key: "raw_count", Value: snap.Result.RawCount},
		{Key: "degraded", Value: snap.Degraded},
		{Key: "summary", Value: summary},
		{Key: "reviews", Value: reviews},
		{Key: "created_at", Value: snap.CreatedAt.UTC()},
		{Key: "completed_at", Value: completedAt(snap).UTC()},
	}, nil
}
