package core

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SystemStatus aggregates service health for the admin dashboard.
type SystemStatus struct {
	Database struct {
		Reachable bool `json:"reachable"`
	} `json:"database"`
	Redis struct {
		Reachable bool `json:"reachable"`
	} `json:"redis"`
	UptimeSeconds int64 `json:"uptime_seconds"`
}

// CollectSystemStatus pings the external stores best-effort.
func CollectSystemStatus(ctx context.Context, db *pgxpool.Pool, redis RedisClientRaw, startedAt time.Time) SystemStatus {
	var st SystemStatus

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if db != nil {
		st.Database.Reachable = db.Ping(ctx) == nil
	}
	if redis != nil {
		st.Redis.Reachable = redis.Ping(ctx).Err() == nil
	}
	if !startedAt.IsZero() {
		st.UptimeSeconds = int64(time.Since(startedAt).Seconds())
	}
	return st
}
