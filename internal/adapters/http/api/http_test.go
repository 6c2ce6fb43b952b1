package api_test

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

	"github.com/go-chi/chi/v5"
	"github.com/okian/momentum/internal/adapters/http/api"
	"github.com/okian/momentum/internal/adapters/repository"
	"github.com/okian/momentum/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

const testUser = "7d0c2b4a-1f3e-4a5b-9c6d-0e1f2a3b4c5d"

var testDay = model.NewDate(2025, time.March, 10)

// mockDependencies records calls and returns canned results.
type mockDependencies struct {
	calcErr   error
	batchErr  error
	recalc    model.RecalcStatus
	recalcErr error
	score     model.DailyEngagementScore
	scoreErr  error
	pingErr   error

	lastUser string
	lastDay  model.Date
}

func (m *mockDependencies) CalculateForUser(_ context.Context, userID string, day model.Date) (model.DailyEngagementScore, error) {
	m.lastUser, m.lastDay = userID, day
	if m.calcErr != nil {
		return model.DailyEngagementScore{}, m.calcErr
	}
	if day.IsZero() {
		day = testDay
	}
	score := model.DefaultScore(userID, day, "v1.0", time.Unix(0, 0).UTC())
	score.RawScore, score.FinalScore, score.MomentumState = 72, 72, model.StateRising
	return score, nil
}

func (m *mockDependencies) CalculateForAllUsers(_ context.Context, day model.Date) (model.BatchResult, error) {
	m.lastDay = day
	if m.batchErr != nil {
		return model.BatchResult{}, m.batchErr
	}
	return model.Summarize(day, []model.PerUserResult{
		{UserID: testUser, Success: true},
		{UserID: "other", Error: "boom", ErrorKind: model.KindStoreUnavailable},
	}, 0), nil
}

func (m *mockDependencies) RequestRecalculation(_ context.Context, userID string, day model.Date) (model.RecalcStatus, model.Date, error) {
	m.lastUser, m.lastDay = userID, day
	if day.IsZero() {
		day = testDay
	}
	return m.recalc, day, m.recalcErr
}

func (m *mockDependencies) GetScore(_ context.Context, userID string, day model.Date) (model.DailyEngagementScore, error) {
	m.lastUser, m.lastDay = userID, day
	return m.score, m.scoreErr
}

func (m *mockDependencies) Ping(context.Context) error { return m.pingErr }

type mockStatsProvider struct {
	stats map[string]any
}

func (m *mockStatsProvider) GetStats() map[string]any { return m.stats }

func newRouter(deps *mockDependencies) chi.Router {
	r := chi.NewRouter()
	server := api.NewServer(deps, &mockStatsProvider{stats: map[string]any{"started": true}})
	server.Register(context.Background(), r)
	return r
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(w *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	So(json.Unmarshal(w.Body.Bytes(), &out), ShouldBeNil)
	return out
}

func TestServer_Register(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		deps := &mockDependencies{}
		r := newRouter(deps)

		Convey("Health reports ok when the store answers", func() {
			w := do(r, http.MethodGet, "/healthz", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decode(w)["status"], ShouldEqual, "ok")
		})

		Convey("Health reports degraded when the store is down", func() {
			deps.pingErr = errors.New("connection refused")
			w := do(r, http.MethodGet, "/healthz", "")
			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
			So(decode(w)["status"], ShouldEqual, "degraded")
		})

		Convey("Stats are served as JSON", func() {
			w := do(r, http.MethodGet, "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decode(w)["started"], ShouldEqual, true)
		})

		Convey("Prometheus metrics are exposed", func() {
			w := do(r, http.MethodGet, "/metrics", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "momentum_")
		})

		Convey("Requests are counted by route pattern", func() {
			do(r, http.MethodGet, "/v1/momentum/users/"+testUser+"/scores/2025-03-10", "")
			w := do(r, http.MethodGet, "/metrics", "")
			So(w.Body.String(), ShouldContainSubstring, `endpoint="/v1/momentum/users/{userID}/scores/{date}"`)
			So(w.Body.String(), ShouldNotContainSubstring, testUser)
		})

		Convey("Unknown paths are 404", func() {
			w := do(r, http.MethodGet, "/v1/unknown", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Wrong methods are 405", func() {
			w := do(r, http.MethodGet, "/v1/momentum/calculate", "")
			So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)
		})
	})
}

func TestCalculate(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		deps := &mockDependencies{}
		r := newRouter(deps)

		Convey("A single-user request returns the score envelope", func() {
			w := do(r, http.MethodPost, "/v1/momentum/calculate",
				fmt.Sprintf(`{"user_id":%q,"target_date":"2025-03-10"}`, testUser))
			So(w.Code, ShouldEqual, http.StatusOK)
			body := decode(w)
			So(body["success"], ShouldEqual, true)
			So(body["user_id"], ShouldEqual, testUser)
			So(body["target_date"], ShouldEqual, "2025-03-10")
			score := body["score"].(map[string]any)
			So(score["final_score"], ShouldEqual, 72.0)
			So(score["momentum_state"], ShouldEqual, "Rising")
			So(deps.lastDay, ShouldEqual, testDay)
		})

		Convey("An omitted date is passed on as zero", func() {
			w := do(r, http.MethodPost, "/v1/momentum/calculate", fmt.Sprintf(`{"user_id":%q}`, testUser))
			So(w.Code, ShouldEqual, http.StatusOK)
			So(deps.lastDay.IsZero(), ShouldBeTrue)
		})

		Convey("A batch request returns the results envelope", func() {
			w := do(r, http.MethodPost, "/v1/momentum/calculate", `{"calculate_all_users":true,"target_date":"2025-03-10"}`)
			So(w.Code, ShouldEqual, http.StatusOK)
			body := decode(w)
			So(body["success"], ShouldEqual, true)
			results := body["results"].(map[string]any)
			So(results["successful"], ShouldEqual, 1.0)
			So(results["failed"], ShouldEqual, 1.0)
			So(results["details"], ShouldHaveLength, 2)
		})

		Convey("Missing parameters are 400", func() {
			w := do(r, http.MethodPost, "/v1/momentum/calculate", `{}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(decode(w)["code"], ShouldEqual, "invalid_input")
		})

		Convey("Malformed JSON is 400", func() {
			w := do(r, http.MethodPost, "/v1/momentum/calculate", `{"user_id":`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("A bad date is 400", func() {
			w := do(r, http.MethodPost, "/v1/momentum/calculate", fmt.Sprintf(`{"user_id":%q,"target_date":"10/03/2025"}`, testUser))
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Calculation error kinds map to status codes", func() {
			cases := []struct {
				kind model.ErrorKind
				code int
			}{
				{model.KindInvalidInput, http.StatusBadRequest},
				{model.KindStoreUnavailable, http.StatusServiceUnavailable},
				{model.KindPersistenceConflict, http.StatusConflict},
			}
			for _, c := range cases {
				deps.calcErr = &model.CalcError{Kind: c.kind, Stage: "fetching", Err: errors.New("x")}
				w := do(r, http.MethodPost, "/v1/momentum/calculate", fmt.Sprintf(`{"user_id":%q}`, testUser))
				So(w.Code, ShouldEqual, c.code)
				So(decode(w)["success"], ShouldEqual, false)
			}
		})

		Convey("A batch that cannot enumerate users is 503", func() {
			deps.batchErr = &model.CalcError{Kind: model.KindStoreUnavailable, Stage: "fetching"}
			w := do(r, http.MethodPost, "/v1/momentum/calculate", `{"calculate_all_users":true}`)
			So(w.Code, ShouldEqual, http.StatusServiceUnavailable)
		})
	})
}

func TestRecalculate(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		deps := &mockDependencies{recalc: model.RecalcAccepted}
		r := newRouter(deps)
		body := fmt.Sprintf(`{"user_id":%q,"target_date":"2025-03-10"}`, testUser)

		Convey("An accepted request is 202", func() {
			w := do(r, http.MethodPost, "/v1/momentum/recalculate", body)
			So(w.Code, ShouldEqual, http.StatusAccepted)
			ack := decode(w)
			So(ack["status"], ShouldEqual, "accepted")
			So(ack["duplicate"], ShouldEqual, false)
		})

		Convey("A duplicate is 200", func() {
			deps.recalc = model.RecalcDuplicate
			w := do(r, http.MethodPost, "/v1/momentum/recalculate", body)
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decode(w)["duplicate"], ShouldEqual, true)
		})

		Convey("Backpressure is 429", func() {
			deps.recalc = model.RecalcRejected
			deps.recalcErr = fmt.Errorf("%w: capacity 1", model.ErrBackpressure)
			w := do(r, http.MethodPost, "/v1/momentum/recalculate", body)
			So(w.Code, ShouldEqual, http.StatusTooManyRequests)
			So(decode(w)["code"], ShouldEqual, "backpressure")
		})

		Convey("A missing user id is 400", func() {
			w := do(r, http.MethodPost, "/v1/momentum/recalculate", `{"target_date":"2025-03-10"}`)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestGetScore(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		deps := &mockDependencies{}
		r := newRouter(deps)

		Convey("A stored score is returned", func() {
			deps.score = model.DefaultScore(testUser, testDay, "v1.0", time.Unix(0, 0).UTC())
			w := do(r, http.MethodGet, "/v1/momentum/users/"+testUser+"/scores/2025-03-10", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decode(w)["momentum_state"], ShouldEqual, "NeedsCare")
			So(deps.lastUser, ShouldEqual, testUser)
			So(deps.lastDay, ShouldEqual, testDay)
		})

		Convey("A missing score is 404", func() {
			deps.scoreErr = fmt.Errorf("get score: %w", repository.ErrNotFound)
			w := do(r, http.MethodGet, "/v1/momentum/users/"+testUser+"/scores/2025-03-10", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("A malformed date is 400", func() {
			w := do(r, http.MethodGet, "/v1/momentum/users/"+testUser+"/scores/yesterday", "")
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})
	})
}
