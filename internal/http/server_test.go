package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/feedbackd/internal/dashboard"
	"github.com/fyrsmithlabs/feedbackd/internal/feedback"
	"github.com/fyrsmithlabs/feedbackd/internal/logging"
	"github.com/fyrsmithlabs/feedbackd/internal/services"
	"github.com/fyrsmithlabs/feedbackd/internal/trend"
)

type fakeAPI struct {
	job          feedback.TrainingJob
	started      bool
	correlations []feedback.SectionTopicCorrelation
	importances  []feedback.FeatureImportance
	importErr    error

	gotLimit   int
	gotUserID  string
	gotRecords []feedback.Record
	requestID  string
}

func (f *fakeAPI) StartTraining(ctx context.Context) (feedback.TrainingJob, bool) {
	f.requestID = logging.RequestIDFromContext(ctx)
	return f.job, f.started
}

func (f *fakeAPI) PollTraining() feedback.TrainingJob { return f.job }

func (f *fakeAPI) Correlations(limit int) []feedback.SectionTopicCorrelation {
	f.gotLimit = limit
	return f.correlations
}

func (f *fakeAPI) FeatureImportance() []feedback.FeatureImportance { return f.importances }

func (f *fakeAPI) Trend(_ context.Context, userID string) services.TrendView {
	f.gotUserID = userID
	view := services.TrendView{Buckets: []trend.Bucket{{Label: "2024-Q3", AvgScore: 3.5, Count: 2}}}
	if userID != "" {
		view.User = &trend.UserPoint{Quarter: "2024-Q3", Date: time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)}
	}
	return view
}

func (f *fakeAPI) DashboardSnapshot(_ context.Context, userID string) dashboard.Snapshot {
	f.gotUserID = userID
	return dashboard.Snapshot{
		TotalResponses:    2,
		GeneratedInsights: dashboard.Insights{Strengths: []dashboard.Insight{}, Weaknesses: []dashboard.Insight{}},
		InsightSource:     dashboard.SourceNone,
		TrainingStatus:    f.job,
	}
}

func (f *fakeAPI) ImportRecords(_ context.Context, records []feedback.Record) (services.ImportResult, error) {
	f.gotRecords = records
	if f.importErr != nil {
		return services.ImportResult{}, f.importErr
	}
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return services.ImportResult{Imported: len(records), IDs: ids}, nil
}

func setupTestServer(t *testing.T, api API, cfg *Config) *Server {
	t.Helper()
	server, err := NewServer(api, zap.NewNop(), cfg)
	require.NoError(t, err)
	return server
}

func do(s *Server, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestNewServer(t *testing.T) {
	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server := setupTestServer(t, &fakeAPI{}, nil)
		assert.Equal(t, "localhost", server.config.Host)
		assert.Equal(t, 8080, server.config.Port)
		assert.Equal(t, int64(defaultMaxImportBytes), server.config.MaxImportBytes)
		assert.NotNil(t, server.Handler())
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(&fakeAPI{}, nil, nil)
		assert.ErrorContains(t, err, "logger cannot be nil")
	})

	t.Run("returns error when api is nil", func(t *testing.T) {
		_, err := NewServer(nil, zap.NewNop(), nil)
		assert.ErrorContains(t, err, "api cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	rec := do(setupTestServer(t, &fakeAPI{}, nil), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
}

func TestHandleMetrics(t *testing.T) {
	rec := do(setupTestServer(t, &fakeAPI{}, nil), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestHandleStartTraining(t *testing.T) {
	job := feedback.TrainingJob{RunID: "run-1", Status: feedback.JobRunning, Message: "queued"}

	t.Run("202 when a run starts", func(t *testing.T) {
		api := &fakeAPI{job: job, started: true}
		rec := do(setupTestServer(t, api, nil), http.MethodPost, "/api/v1/training", "")
		assert.Equal(t, http.StatusAccepted, rec.Code)

		var resp TrainingResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.True(t, resp.Started)
		assert.Equal(t, "run-1", resp.Job.RunID)
		assert.Equal(t, rec.Header().Get("X-Request-Id"), api.requestID)
		assert.NotEmpty(t, api.requestID)
	})

	t.Run("200 with the running job when already running", func(t *testing.T) {
		rec := do(setupTestServer(t, &fakeAPI{job: job, started: false}, nil), http.MethodPost, "/api/v1/training", "")
		assert.Equal(t, http.StatusOK, rec.Code)

		var resp TrainingResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.False(t, resp.Started)
		assert.Equal(t, feedback.JobRunning, resp.Job.Status)
	})

	t.Run("429 past the rate", func(t *testing.T) {
		server := setupTestServer(t, &fakeAPI{job: job, started: true}, &Config{TrainRatePerMinute: 1})
		assert.Equal(t, http.StatusAccepted, do(server, http.MethodPost, "/api/v1/training", "").Code)
		assert.Equal(t, http.StatusTooManyRequests, do(server, http.MethodPost, "/api/v1/training", "").Code)
	})
}

func TestHandlePollTraining(t *testing.T) {
	api := &fakeAPI{job: feedback.TrainingJob{RunID: "run-2", Status: feedback.JobError, Progress: 40, Message: "importance failed: boom"}}
	rec := do(setupTestServer(t, api, nil), http.MethodGet, "/api/v1/training", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var got feedback.TrainingJob
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, api.job.Message, got.Message)
	assert.Equal(t, 40, got.Progress)
}

func TestHandleCorrelations(t *testing.T) {
	rows := []feedback.SectionTopicCorrelation{
		feedback.NewCorrelation(feedback.SectionCulture, feedback.TopicOverallRating, 0.7, map[string]float64{"team": 1}, 30),
	}

	tests := []struct {
		name      string
		target    string
		wantCode  int
		wantLimit int
	}{
		{"default limit", "/api/v1/correlations", http.StatusOK, 0},
		{"explicit limit", "/api/v1/correlations?limit=5", http.StatusOK, 5},
		{"non-numeric limit", "/api/v1/correlations?limit=abc", http.StatusBadRequest, 0},
		{"zero limit", "/api/v1/correlations?limit=0", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{correlations: rows}
			rec := do(setupTestServer(t, api, nil), http.MethodGet, tt.target, "")
			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCode != http.StatusOK {
				return
			}
			assert.Equal(t, tt.wantLimit, api.gotLimit)

			var resp CorrelationsResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, 1, resp.Count)
			assert.Equal(t, feedback.SectionCulture, resp.Correlations[0].Section)
		})
	}
}

func TestHandleImportance(t *testing.T) {
	api := &fakeAPI{importances: []feedback.FeatureImportance{
		{Section: feedback.SectionCompensation, Importance: 0.6, Correlation: 0.5},
		{Section: feedback.SectionCareer, Importance: 0.4, Correlation: -0.3},
	}}
	rec := do(setupTestServer(t, api, nil), http.MethodGet, "/api/v1/importance", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp ImportanceResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.FeatureImportance, 2)
	assert.InDelta(t, 60.0, resp.FeatureImportance[0].Percent, 1e-9)
	assert.InDelta(t, 40.0, resp.FeatureImportance[1].Percent, 1e-9)

	empty := do(setupTestServer(t, &fakeAPI{}, nil), http.MethodGet, "/api/v1/importance", "")
	assert.JSONEq(t, `{"feature_importance":[]}`, empty.Body.String())
}

func TestHandleTrendAndDashboard(t *testing.T) {
	api := &fakeAPI{}
	server := setupTestServer(t, api, nil)

	rec := do(server, http.MethodGet, "/api/v1/trend?user_id=u1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "u1", api.gotUserID)
	var view services.TrendView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.NotNil(t, view.User)
	assert.Equal(t, "2024-Q3", view.User.Quarter)

	rec = do(server, http.MethodGet, "/api/v1/dashboard", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "", api.gotUserID)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 2, body["total_responses"])
	assert.Equal(t, map[string]any{"strengths": []any{}, "weaknesses": []any{}}, body["generated_insights"])
	assert.NotContains(t, body, "user_latest_submission")
}

func TestHandleImportRecords(t *testing.T) {
	payload := `[{"record_id":"r1","submitted_at":"2024-05-01T10:00:00Z",
		"section_scores":{"Compensation & Benefits":4,"Work-Life Balance":3,"Culture & Values":5,
		"Career Development":2,"Management & Leadership":4},"free_text":"fine"}]`

	t.Run("created", func(t *testing.T) {
		api := &fakeAPI{}
		rec := do(setupTestServer(t, api, nil), http.MethodPost, "/api/v1/records", payload)
		assert.Equal(t, http.StatusCreated, rec.Code)
		require.Len(t, api.gotRecords, 1)
		assert.Equal(t, 4, api.gotRecords[0].Scores[feedback.SectionCompensation])
		assert.JSONEq(t, `{"imported":1,"record_ids":["r1"]}`, rec.Body.String())
	})

	t.Run("malformed body", func(t *testing.T) {
		rec := do(setupTestServer(t, &fakeAPI{}, nil), http.MethodPost, "/api/v1/records", `{"not":"an array"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("invalid record", func(t *testing.T) {
		api := &fakeAPI{importErr: fmt.Errorf("record 0: %w: missing score", feedback.ErrInvalidRecord)}
		rec := do(setupTestServer(t, api, nil), http.MethodPost, "/api/v1/records", payload)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "missing score")
	})

	t.Run("store failure", func(t *testing.T) {
		api := &fakeAPI{importErr: errors.New("disk full")}
		rec := do(setupTestServer(t, api, nil), http.MethodPost, "/api/v1/records", payload)
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "disk full")
	})

	t.Run("body too large", func(t *testing.T) {
		server := setupTestServer(t, &fakeAPI{}, &Config{MaxImportBytes: 16})
		rec := do(server, http.MethodPost, "/api/v1/records", payload)
		assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}

func TestShutdown(t *testing.T) {
	server := setupTestServer(t, &fakeAPI{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, server.Shutdown(ctx))
}
