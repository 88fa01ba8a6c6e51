package core

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

// Redis keys for operational counters.
const (
	metricLoansTotalKey    = "biblioteca:metrics:loans_total"
	metricLoansDeniedKey   = "biblioteca:metrics:loans_denied"
	metricLoginsKey        = "biblioteca:metrics:logins_total"
	metricRegistrationsKey = "biblioteca:metrics:registrations_total"
	recentLoansKey         = "biblioteca:metrics:recent_loans"
	recentLoansMax         = 50
)

// LoanEvent is one entry of the recent-loans feed.
type LoanEvent struct {
	LivroID  string    `json:"livro_id"`
	Titulo   string    `json:"titulo"`
	LoanedAt time.Time `json:"loaned_at"`
}

// LoanMetrics aggregates the loan counters for the admin dashboard.
type LoanMetrics struct {
	LoansTotal         int64       `json:"loans_total"`
	LoansDenied        int64       `json:"loans_denied"`
	LoginsTotal        int64       `json:"logins_total"`
	RegistrationsTotal int64       `json:"registrations_total"`
	RecentLoans        []LoanEvent `json:"recent_loans"`
}

// MetricsService keeps operational counters in Redis. All writes are
// best-effort: metric failures are logged and never surfaced to callers.
type MetricsService struct {
	redis RedisClientRaw
}

func NewMetricsService(redis RedisClientRaw) *MetricsService {
	return &MetricsService{redis: redis}
}

// RecordLoan counts a successful loan and pushes it onto the recent feed.
func (s *MetricsService) RecordLoan(ctx context.Context, livroID, titulo string) {
	if err := s.redis.Incr(ctx, metricLoansTotalKey).Err(); err != nil {
		log.Printf("metrics: incr loans_total: %v", err)
		return
	}
	payload, err := json.Marshal(LoanEvent{LivroID: livroID, Titulo: titulo, LoanedAt: time.Now().UTC()})
	if err != nil {
		return
	}
	if err := s.redis.LPush(ctx, recentLoansKey, string(payload)).Err(); err != nil {
		log.Printf("metrics: push recent loan: %v", err)
		return
	}
	_ = s.redis.LTrim(ctx, recentLoansKey, 0, recentLoansMax-1).Err()
}

// RecordLoanDenied counts a loan rejected for lack of copies.
func (s *MetricsService) RecordLoanDenied(ctx context.Context, livroID string) {
	if err := s.redis.Incr(ctx, metricLoansDeniedKey).Err(); err != nil {
		log.Printf("metrics: incr loans_denied for %s: %v", livroID, err)
	}
}

// RecordLogin counts a successful authentication.
func (s *MetricsService) RecordLogin(ctx context.Context) {
	if err := s.redis.Incr(ctx, metricLoginsKey).Err(); err != nil {
		log.Printf("metrics: incr logins_total: %v", err)
	}
}

// RecordRegistration counts a successful account registration.
func (s *MetricsService) RecordRegistration(ctx context.Context) {
	if err := s.redis.Incr(ctx, metricRegistrationsKey).Err(); err != nil {
		log.Printf("metrics: incr registrations_total: %v", err)
	}
}

// Overview returns all counters and the recent-loans feed.
func (s *MetricsService) Overview(ctx context.Context) (LoanMetrics, error) {
	var m LoanMetrics
	var err error

	if m.LoansTotal, err = s.counter(ctx, metricLoansTotalKey); err != nil {
		return m, err
	}
	if m.LoansDenied, err = s.counter(ctx, metricLoansDeniedKey); err != nil {
		return m, err
	}
	if m.LoginsTotal, err = s.counter(ctx, metricLoginsKey); err != nil {
		return m, err
	}
	if m.RegistrationsTotal, err = s.counter(ctx, metricRegistrationsKey); err != nil {
		return m, err
	}

	raw, err := s.redis.LRange(ctx, recentLoansKey, 0, recentLoansMax-1).Result()
	if err != nil {
		return m, err
	}
	m.RecentLoans = make([]LoanEvent, 0, len(raw))
	for _, v := range raw {
		var ev LoanEvent
		if err := json.Unmarshal([]byte(v), &ev); err != nil {
			continue
		}
		m.RecentLoans = append(m.RecentLoans, ev)
	}
	return m, nil
}

// counter reads an integer key, treating a missing key as zero.
func (s *MetricsService) counter(ctx context.Context, key string) (int64, error) {
	v, err := s.redis.Get(ctx, key).Int64()
	if err != nil {
		if isRedisNil(err) {
			return 0, nil
		}
		return 0, err
	}
	return v, nil
}
