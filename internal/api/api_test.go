package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/firdavs625/groupquiz/internal/api"
	"github.com/firdavs625/groupquiz/internal/domain"
	"github.com/firdavs625/groupquiz/internal/event"
	"github.com/firdavs625/groupquiz/internal/leaderboard"
	"github.com/firdavs625/groupquiz/internal/session"
	"github.com/firdavs625/groupquiz/internal/store"
	"github.com/firdavs625/groupquiz/internal/variant"
)

type response struct {
	Success     bool                 `json:"success"`
	Code        string               `json:"code"`
	Message     string               `json:"message"`
	Session     *domain.Session      `json:"session"`
	Sessions    []json.RawMessage    `json:"sessions"`
	Leaderboard []domain.RankedEntry `json:"leaderboard"`
	Stats       *domain.RankedEntry  `json:"stats"`
	Ranking     []domain.Standing    `json:"ranking"`
	Variants    []domain.Variant     `json:"variants"`
}

func TestAPI_Scenario(t *testing.T) {
	h := makeAPI(t)

	status, resp := h.do(t, http.MethodPost, "/sessions", gin.H{
		"variantId":     1,
		"questionCount": 10,
		"waitingTime":   60,
		"userId":        1,
		"username":      "alice",
		"name":          "Alice",
	})
	require.Equal(t, http.StatusOK, status, resp.Message)
	require.True(t, resp.Success)
	id := resp.Session.ID
	assert.Equal(t, domain.StatusWaiting, resp.Session.Status)
	assert.Equal(t, "Variant 1", resp.Session.VariantName)

	status, resp = h.do(t, http.MethodPut, "/sessions", gin.H{
		"sessionId": id, "action": "join", "userId": 2, "username": "bob", "name": "Bob",
	})
	require.Equal(t, http.StatusOK, status, resp.Message)
	assert.Len(t, resp.Session.Participants, 2)

	status, resp = h.do(t, http.MethodPut, "/sessions", gin.H{"sessionId": id, "action": "start", "userId": 1})
	require.Equal(t, http.StatusOK, status, resp.Message)
	assert.Equal(t, domain.StatusActive, resp.Session.Status)
	assert.NotNil(t, resp.Session.StartTime)
	assert.Equal(t, 0, resp.Session.CurrentQuestionIndex)

	scores := map[int]int{1: 6, 2: 8}
	for q := 1; q <= 10; q++ {
		for u := 1; u <= 2; u++ {
			status, resp = h.do(t, http.MethodPut, "/sessions", gin.H{
				"sessionId":       id,
				"action":          "updateProgress",
				"userId":          u,
				"currentQuestion": q,
				"answers":         answersJSON(q),
				"score":           min(q, scores[u]),
			})
			require.Equal(t, http.StatusOK, status, resp.Message)
		}
	}

	status, resp = h.do(t, http.MethodGet, "/sessions/ranking?sessionId="+id, nil)
	require.Equal(t, http.StatusOK, status, resp.Message)
	require.Len(t, resp.Ranking, 2)
	assert.Equal(t, int64(2), resp.Ranking[0].UserID)

	for u := 1; u <= 2; u++ {
		status, resp = h.do(t, http.MethodPut, "/sessions", gin.H{
			"sessionId": id,
			"action":    "finish",
			"userId":    u,
			"answers":   answersJSON(10),
			"score":     scores[u],
		})
		require.Equal(t, http.StatusOK, status, resp.Message)
	}
	assert.Equal(t, domain.StatusFinished, resp.Session.Status)
	assert.NotNil(t, resp.Session.EndTime)

	status, resp = h.do(t, http.MethodGet, "/leaderboard", nil)
	require.Equal(t, http.StatusOK, status, resp.Message)
	require.Len(t, resp.Leaderboard, 2)
	assert.Equal(t, int64(2), resp.Leaderboard[0].UserID)
	assert.Equal(t, int64(80), resp.Leaderboard[0].AveragePercentage)
	assert.Equal(t, 1, resp.Leaderboard[0].Rank)
	assert.Equal(t, int64(60), resp.Leaderboard[1].AveragePercentage)

	status, resp = h.do(t, http.MethodGet, "/leaderboard/1", nil)
	require.Equal(t, http.StatusOK, status, resp.Message)
	assert.Equal(t, 2, resp.Stats.Rank)
	assert.Equal(t, 1, resp.Stats.TotalTests)
}

func TestAPI_Errors(t *testing.T) {
	type inputs struct {
		method string
		path   string
		body   any
	}

	tests := map[string]struct {
		arrange func(t *testing.T, h *testAPI) inputs
		assert  func(t *testing.T, out result)
	}{
		"should reject an update without action": {
			arrange: func(t *testing.T, h *testAPI) inputs {
				return inputs{http.MethodPut, "/sessions", gin.H{"sessionId": "s1"}}
			},
			assert: expectFailure(http.StatusBadRequest, "InvalidArgument"),
		},

		"should reject an unknown action": {
			arrange: func(t *testing.T, h *testAPI) inputs {
				return inputs{http.MethodPut, "/sessions", gin.H{"sessionId": h.create(t), "action": "dance"}}
			},
			assert: expectFailure(http.StatusBadRequest, "InvalidArgument"),
		},

		"should reject a create without waiting time": {
			arrange: func(t *testing.T, h *testAPI) inputs {
				return inputs{http.MethodPost, "/sessions", gin.H{"isRandom": true, "userId": 1}}
			},
			assert: expectFailure(http.StatusBadRequest, "InvalidArgument"),
		},

		"should return not found for an unknown variant": {
			arrange: func(t *testing.T, h *testAPI) inputs {
				return inputs{http.MethodPost, "/sessions", gin.H{"variantId": 99, "waitingTime": 60, "userId": 1}}
			},
			assert: expectFailure(http.StatusNotFound, "NotFound"),
		},

		"should return not found when joining an unknown session": {
			arrange: func(t *testing.T, h *testAPI) inputs {
				return inputs{http.MethodPut, "/sessions", gin.H{"sessionId": "missing", "action": "join", "userId": 2}}
			},
			assert: expectFailure(http.StatusNotFound, "NotFound"),
		},

		"should return not found for an unknown session id": {
			arrange: func(t *testing.T, h *testAPI) inputs {
				return inputs{http.MethodGet, "/sessions?sessionId=missing", nil}
			},
			assert: expectFailure(http.StatusNotFound, "NotFound"),
		},

		"should forbid starting someone else's session": {
			arrange: func(t *testing.T, h *testAPI) inputs {
				return inputs{http.MethodPut, "/sessions", gin.H{"sessionId": h.create(t), "action": "start", "userId": 2}}
			},
			assert: expectFailure(http.StatusForbidden, "PermissionDenied"),
		},

		"should reject cancelling an active session": {
			arrange: func(t *testing.T, h *testAPI) inputs {
				id := h.create(t)
				status, resp := h.do(t, http.MethodPut, "/sessions", gin.H{"sessionId": id, "action": "start", "userId": 1})
				require.Equal(t, http.StatusOK, status, resp.Message)
				return inputs{http.MethodPut, "/sessions", gin.H{"sessionId": id, "action": "cancel", "userId": 1}}
			},
			assert: expectFailure(http.StatusConflict, "FailedPrecondition"),
		},

		"should forbid deleting someone else's session": {
			arrange: func(t *testing.T, h *testAPI) inputs {
				return inputs{http.MethodDelete, fmt.Sprintf("/sessions?sessionId=%s&userId=2", h.create(t)), nil}
			},
			assert: expectFailure(http.StatusForbidden, "PermissionDenied"),
		},

		"should reject a delete without user": {
			arrange: func(t *testing.T, h *testAPI) inputs {
				return inputs{http.MethodDelete, "/sessions?sessionId=s1", nil}
			},
			assert: expectFailure(http.StatusBadRequest, "InvalidArgument"),
		},

		"should reject a non numeric variant filter": {
			arrange: func(t *testing.T, h *testAPI) inputs {
				return inputs{http.MethodGet, "/sessions?variantId=abc", nil}
			},
			assert: expectFailure(http.StatusBadRequest, "InvalidArgument"),
		},

		"should return not found for a user without results": {
			arrange: func(t *testing.T, h *testAPI) inputs {
				return inputs{http.MethodGet, "/leaderboard/42", nil}
			},
			assert: expectFailure(http.StatusNotFound, "NotFound"),
		},
	}

	for name, tt := range tests {
		tt := tt
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			h := makeAPI(t)
			in := tt.arrange(t, h)

			var out result
			out.status, out.resp = h.do(t, in.method, in.path, in.body)

			tt.assert(t, out)
		})
	}
}

func TestAPI_CreatorControls(t *testing.T) {
	h := makeAPI(t)

	id := h.create(t)
	status, resp := h.do(t, http.MethodPut, "/sessions", gin.H{"sessionId": id, "action": "cancel", "userId": 2})
	assert.Equal(t, http.StatusForbidden, status)
	status, resp = h.do(t, http.MethodPut, "/sessions", gin.H{"sessionId": id, "action": "cancel", "userId": 1})
	require.Equal(t, http.StatusOK, status, resp.Message)
	status, _ = h.do(t, http.MethodGet, "/sessions?sessionId="+id, nil)
	assert.Equal(t, http.StatusNotFound, status, "cancelled sessions are removed")

	id = h.create(t)
	status, resp = h.do(t, http.MethodDelete, fmt.Sprintf("/sessions?sessionId=%s&userId=1", id), nil)
	require.Equal(t, http.StatusOK, status, resp.Message)
	status, _ = h.do(t, http.MethodGet, "/sessions?sessionId="+id, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestAPI_Discovery(t *testing.T) {
	h := makeAPI(t)

	waiting := h.create(t)
	active := h.create(t)
	status, resp := h.do(t, http.MethodPut, "/sessions", gin.H{"sessionId": active, "action": "start", "userId": 1})
	require.Equal(t, http.StatusOK, status, resp.Message)

	status, resp = h.do(t, http.MethodPost, "/sessions", gin.H{"isRandom": true, "waitingTime": 60, "userId": 3, "name": "Carol"})
	require.Equal(t, http.StatusOK, status, resp.Message)
	random := resp.Session.ID

	status, resp = h.do(t, http.MethodGet, "/sessions?active=true", nil)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, resp.Sessions, 3)

	summaries := make(map[string]domain.SessionSummary)
	for _, r := range resp.Sessions {
		var s domain.SessionSummary
		require.NoError(t, json.Unmarshal(r, &s))
		summaries[s.ID] = s
	}
	assert.Equal(t, domain.StatusActive, summaries[active].Status)
	assert.Equal(t, domain.SessionSummary{
		ID:               random,
		VariantName:      "Random Test",
		HostName:         "Carol",
		HostID:           3,
		ParticipantCount: 1,
		Status:           domain.StatusWaiting,
		IsRandom:         true,
		QuestionCount:    10,
	}, summaries[random])

	status, resp = h.do(t, http.MethodGet, "/sessions?variantId=1", nil)
	require.Equal(t, http.StatusOK, status)
	ids := sessionIDs(t, resp.Sessions)
	assert.ElementsMatch(t, []string{waiting, active}, ids)

	status, resp = h.do(t, http.MethodGet, "/sessions", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, resp.Sessions, 3)

	status, resp = h.do(t, http.MethodGet, "/variants", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, resp.Variants, 10)
}

func TestAPI_NextQuestion(t *testing.T) {
	h := makeAPI(t)
	id := h.create(t)

	status, resp := h.do(t, http.MethodPut, "/sessions", gin.H{"sessionId": id, "action": "start", "userId": 1})
	require.Equal(t, http.StatusOK, status, resp.Message)

	for range 2 {
		status, resp = h.do(t, http.MethodPut, "/sessions", gin.H{"sessionId": id, "action": "nextQuestion", "currentQuestionIndex": 0})
		require.Equal(t, http.StatusOK, status, resp.Message)
		assert.Equal(t, 1, resp.Session.CurrentQuestionIndex, "viewers advancing from the same index advance once")
	}
}

type testAPI struct {
	engine *gin.Engine
	api    *api.API
	bus    *event.Bus
}

func makeAPI(t *testing.T) *testAPI {
	t.Helper()
	return makeAPIWithStore(t, store.NewMemory())
}

func makeAPIWithStore(t *testing.T, st store.Store) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	catalog, err := variant.NewCatalog(nil)
	require.NoError(t, err)

	var (
		bus = event.NewBus()
		e   = gin.New()
	)

	ls := leaderboard.NewService(leaderboard.Config{EventBus: bus, Store: st})
	t.Cleanup(func() {
		ls.Stop()
		bus.Stop()
	})

	a := api.New(api.Config{
		Router:   e,
		EventBus: bus,
		Session: session.NewService(session.Config{
			Store:    st,
			EventBus: bus,
			Variants: catalog,
		}),
		Leaderboard: ls,
		Variants:    catalog,
	})

	return &testAPI{engine: e, api: a, bus: bus}
}

func (h *testAPI) do(t *testing.T, method, path string, body any) (int, response) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)

	var resp response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())

	return w.Code, resp
}

func (h *testAPI) create(t *testing.T) string {
	t.Helper()

	status, resp := h.do(t, http.MethodPost, "/sessions", gin.H{"variantId": 1, "waitingTime": 60, "userId": 1, "username": "alice"})
	require.Equal(t, http.StatusOK, status, resp.Message)

	return resp.Session.ID
}

type result struct {
	status int
	resp   response
}

func expectFailure(status int, code string) func(t *testing.T, out result) {
	return func(t *testing.T, out result) {
		assert.Equal(t, status, out.status)
		assert.False(t, out.resp.Success)
		assert.Equal(t, code, out.resp.Code)
		assert.NotEmpty(t, out.resp.Message)
	}
}

func answersJSON(n int) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = i % 4
	}
	return out
}

func sessionIDs(t *testing.T, raw []json.RawMessage) []string {
	ids := make([]string, 0, len(raw))
	for _, r := range raw {
		var s domain.Session
		require.NoError(t, json.Unmarshal(r, &s))
		ids = append(ids, s.ID)
	}
	return ids
}
