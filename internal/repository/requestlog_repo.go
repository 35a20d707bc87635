package repository

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"talkingrock/internal/model"
)

// RequestLogRepo persists anonymized request records for the admin
// analytics surface. Inserts happen off the request path.
type RequestLogRepo struct {
	collection *mongo.Collection
}

// NewRequestLogRepo creates the request-log repository
func NewRequestLogRepo(db *mongo.Database) *RequestLogRepo {
	return &RequestLogRepo{
		collection: db.Collection("request_log"),
	}
}

// Write implements pipeline.RequestSink. The insert is detached from the
// request so a slow store never stalls delivery.
func (r *RequestLogRepo) Write(ctx context.Context, record model.RequestRecord) {
	go func() {
		insertCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if _, err := r.collection.InsertOne(insertCtx, record); err != nil {
			log.Warn().Err(err).Str("request_id", record.RequestID).Msg("failed to persist request record")
		}
	}()
}

// SummaryStats aggregates the last N days of traffic
type SummaryStats struct {
	TotalRequests     int64            `json:"total_requests"`
	BlockedRequests   int64            `json:"blocked_requests"`
	BlockRate         float64          `json:"block_rate"`
	AvgResponseTimeMs float64          `json:"avg_response_time_ms"`
	DomainCounts      map[string]int64 `json:"domain_counts"`
	BlockedByLayer    map[string]int64 `json:"blocked_by_layer"`
}

// Summary computes aggregate stats over the last days
func (r *RequestLogRepo) Summary(ctx context.Context, days int) (*SummaryStats, error) {
	since := time.Now().UTC().AddDate(0, 0, -days)
	match := bson.M{"timestamp": bson.M{"$gte": since}}

	total, err := r.collection.CountDocuments(ctx, match)
	if err != nil {
		return nil, err
	}

	blocked, err := r.collection.CountDocuments(ctx, bson.M{
		"timestamp":        bson.M{"$gte": since},
		"blocked_at_layer": bson.M{"$nin": bson.A{nil, ""}},
	})
	if err != nil {
		return nil, err
	}

	stats := &SummaryStats{
		TotalRequests:   total,
		BlockedRequests: blocked,
		DomainCounts:    make(map[string]int64),
		BlockedByLayer:  make(map[string]int64),
	}
	if total > 0 {
		stats.BlockRate = float64(blocked) / float64(total)
	}

	// average response time
	avgCursor, err := r.collection.Aggregate(ctx, mongo.Pipeline{
		{bson.E{Key: "$match", Value: match}},
		{bson.E{Key: "$group", Value: bson.M{
			"_id": nil,
			"avg": bson.M{"$avg": "$response_time_ms"},
		}}},
	})
	if err != nil {
		return nil, err
	}
	defer avgCursor.Close(ctx)
	if avgCursor.Next(ctx) {
		var row struct {
			Avg float64 `bson:"avg"`
		}
		if err := avgCursor.Decode(&row); err == nil {
			stats.AvgResponseTimeMs = row.Avg
		}
	}

	// per-domain counts
	domainCursor, err := r.collection.Aggregate(ctx, mongo.Pipeline{
		{bson.E{Key: "$match", Value: bson.M{
			"timestamp": bson.M{"$gte": since},
			"domain":    bson.M{"$nin": bson.A{nil, ""}},
		}}},
		{bson.E{Key: "$group", Value: bson.M{
			"_id":   "$domain",
			"count": bson.M{"$sum": 1},
		}}},
	})
	if err != nil {
		return nil, err
	}
	defer domainCursor.Close(ctx)
	for domainCursor.Next(ctx) {
		var row struct {
			ID    string `bson:"_id"`
			Count int64  `bson:"count"`
		}
		if err := domainCursor.Decode(&row); err == nil {
			stats.DomainCounts[row.ID] = row.Count
		}
	}

	// blocked-by-layer counts
	blockedCursor, err := r.collection.Aggregate(ctx, mongo.Pipeline{
		{bson.E{Key: "$match", Value: bson.M{
			"timestamp":        bson.M{"$gte": since},
			"blocked_at_layer": bson.M{"$nin": bson.A{nil, ""}},
		}}},
		{bson.E{Key: "$group", Value: bson.M{
			"_id":   "$blocked_at_layer",
			"count": bson.M{"$sum": 1},
		}}},
	})
	if err != nil {
		return nil, err
	}
	defer blockedCursor.Close(ctx)
	for blockedCursor.Next(ctx) {
		var row struct {
			ID    string `bson:"_id"`
			Count int64  `bson:"count"`
		}
		if err := blockedCursor.Decode(&row); err == nil {
			stats.BlockedByLayer[row.ID] = row.Count
		}
	}

	return stats, nil
}

// DailyCount is one day of traffic
type DailyCount struct {
	Date    string `json:"date" bson:"_id"`
	Total   int64  `json:"total" bson:"total"`
	Blocked int64  `json:"blocked" bson:"blocked"`
}

// Daily returns per-day counts for the last days, oldest first
func (r *RequestLogRepo) Daily(ctx context.Context, days int) ([]DailyCount, error) {
	since := time.Now().UTC().AddDate(0, 0, -days)

	cursor, err := r.collection.Aggregate(ctx, mongo.Pipeline{
		{bson.E{Key: "$match", Value: bson.M{"timestamp": bson.M{"$gte": since}}}},
		{bson.E{Key: "$group", Value: bson.M{
			"_id": bson.M{"$dateToString": bson.M{"format": "%Y-%m-%d", "date": "$timestamp"}},
			"total": bson.M{"$sum": 1},
			"blocked": bson.M{"$sum": bson.M{"$cond": bson.A{
				bson.M{"$and": bson.A{
					bson.M{"$ne": bson.A{"$blocked_at_layer", nil}},
					bson.M{"$ne": bson.A{"$blocked_at_layer", ""}},
				}}, 1, 0,
			}}},
		}}},
		{bson.E{Key: "$sort", Value: bson.M{"_id": 1}}},
	}, options.Aggregate())
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rows []DailyCount
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
