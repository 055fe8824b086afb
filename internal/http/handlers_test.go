package http_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/cleaning-scheduler/internal/application"
	apihttp "github.com/example/cleaning-scheduler/internal/http"
	"github.com/example/cleaning-scheduler/internal/testfixtures"
)

var fastArgon2 = application.Argon2idParams{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 8, KeyLength: 16}

type apiEnv struct {
	factory *testfixtures.ServiceFactory
	handler http.Handler
	health  error
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	factory := testfixtures.NewServiceFactory(t)
	seeder := factory.Seeder(t)
	testfixtures.SeedObject(t, seeder, testfixtures.NewObject(
		testfixtures.WithObjectID("obj-1"),
		testfixtures.WithObjectName("БЦ Восток"),
		testfixtures.WithAutoChecklists(),
	))
	testfixtures.SeedObject(t, seeder, testfixtures.NewObject(
		testfixtures.WithObjectID("obj-photo"),
		testfixtures.WithManager("mgr-1", "Иванова Мария"),
		testfixtures.WithPhotoRequirement(1),
	))
	testfixtures.SeedRoom(t, seeder, "obj-1", "room-1", "Холл")
	testfixtures.SeedTechCard(t, seeder, testfixtures.NewTechCard("obj-1",
		testfixtures.WithCardID("tc-daily"),
		testfixtures.WithRoom("room-1", "Холл"),
	))
	testfixtures.SeedTechCard(t, seeder, testfixtures.NewTechCard("obj-photo", testfixtures.WithCardID("tc-photo")))

	hash, err := application.CreateTokenHash("cron-secret", fastArgon2)
	require.NoError(t, err)

	env := &apiEnv{factory: factory}
	env.handler = apihttp.NewRouter(apihttp.RouterConfig{
		Calendar:   apihttp.NewCalendarHandler(factory.NewCalendarService(), nil),
		Tasks:      apihttp.NewTaskHandler(factory.NewTaskService(), nil),
		Checklists: apihttp.NewChecklistHandler(factory.NewChecklistGenerator(nil), application.NewCronAuthorizer(hash), nil),
		Health:     func(_ context.Context) error { return env.health },
	})
	return env
}

func (e *apiEnv) do(t *testing.T, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func as(userID, role string) map[string]string {
	return map[string]string{apihttp.HeaderUserID: userID, apihttp.HeaderUserRole: role}
}

var (
	asManager = as("mgr-1", "MANAGER")
	asAdmin   = as("admin-1", "ADMIN")
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload), rec.Body.String())
	return payload
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])

	env.health = errors.New("database is locked")
	rec = env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestIdentityHeaders(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t)

	tests := []struct {
		name    string
		headers map[string]string
		status  int
		code    string
	}{
		{name: "missing headers", headers: nil, status: http.StatusUnauthorized, code: "UNAUTHENTICATED"},
		{name: "missing role", headers: map[string]string{apihttp.HeaderUserID: "mgr-1"}, status: http.StatusUnauthorized, code: "UNAUTHENTICATED"},
		{name: "unknown role", headers: as("u-1", "JANITOR"), status: http.StatusForbidden, code: "PERMISSION_DENIED"},
		{name: "lowercase role", headers: as("mgr-1", "manager"), status: http.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodGet, "/calendar", "", tc.headers)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			if tc.code != "" {
				assert.Equal(t, tc.code, decode(t, rec)["errorCode"])
			}
		})
	}
}

func TestCalendarHandler(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodGet, "/calendar", "", asManager)
	require.Equal(t, http.StatusOK, rec.Code)
	payload := decode(t, rec)
	assert.Equal(t, "MANAGER", payload["role"])
	assert.Equal(t, "2024-03-14", payload["baseDate"])
	assert.NotContains(t, payload, "byManager")

	today := payload["today"].([]any)
	ids := make([]string, 0, len(today))
	for _, item := range today {
		entry := item.(map[string]any)
		ids = append(ids, entry["id"].(string))
		assert.Equal(t, "VIRTUAL", entry["source"])
	}
	assert.ElementsMatch(t, []string{"tc-daily-2024-03-14", "tc-photo-2024-03-14"}, ids)

	rec = env.do(t, http.MethodGet, "/calendar?date=2024-03-18", "", asAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	payload = decode(t, rec)
	assert.Equal(t, "2024-03-18", payload["baseDate"])
	assert.Contains(t, payload, "byManager")
	assert.Contains(t, payload, "byObject")

	rec = env.do(t, http.MethodGet, "/calendar?date=14.03.2024", "", asManager)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_DATE", decode(t, rec)["errorCode"])

	rec = env.do(t, http.MethodGet, "/calendar?objectId=obj-1", "", as("mgr-2", "MANAGER"))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "PERMISSION_DENIED", decode(t, rec)["errorCode"])
}

func TestTaskHandler_Lifecycle(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t)
	const id = "tc-daily-2024-03-14"

	rec := env.do(t, http.MethodGet, "/tasks/"+id, "", asManager)
	require.Equal(t, http.StatusOK, rec.Code)
	virtual := decode(t, rec)
	assert.Equal(t, "VIRTUAL", virtual["source"])
	assert.Equal(t, "AVAILABLE", virtual["status"])
	assert.Equal(t, "Холл", virtual["roomName"])

	rec = env.do(t, http.MethodPost, "/tasks/"+id+"/start", "", asManager)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	started := decode(t, rec)
	assert.Equal(t, id, started["id"])
	assert.Equal(t, "IN_PROGRESS", started["status"])

	rec = env.do(t, http.MethodPost, "/tasks/"+id+"/comments", `{"text":"Нет моющего средства"}`, asManager)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	commented := decode(t, rec)
	assert.Equal(t, "Нет моющего средства", commented["comment"].(map[string]any)["text"])

	rec = env.do(t, http.MethodGet, "/tasks/"+id+"/comments", "", asManager)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode(t, rec)["comments"], 1)

	rec = env.do(t, http.MethodPost, "/tasks/"+id+"/complete", "", asManager)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	completed := decode(t, rec)
	assert.Equal(t, "COMPLETED", completed["status"])
	assert.NotEmpty(t, completed["completedAt"])

	rec = env.do(t, http.MethodGet, "/tasks/"+id, "", asManager)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "MATERIALIZED", decode(t, rec)["source"])
}

func TestTaskHandler_Materialize(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t)

	rec := env.do(t, http.MethodPost, "/tasks/tc-daily-2024-03-15/materialize", `{"action":"Comment"}`, asManager)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "NEW", decode(t, rec)["status"], "pending occurrences are stored as NEW")

	rec = env.do(t, http.MethodPost, "/tasks/tc-daily-2024-03-15/materialize", `{"action":`, asManager)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "BAD_REQUEST", decode(t, rec)["errorCode"])
}

func TestTaskHandler_ErrorMapping(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t)

	tests := []struct {
		name    string
		method  string
		target  string
		body    string
		headers map[string]string
		status  int
		code    string
	}{
		{name: "malformed id", method: http.MethodGet, target: "/tasks/garbage", headers: asManager, status: http.StatusNotFound, code: "NOT_FOUND"},
		{name: "deleted card", method: http.MethodGet, target: "/tasks/tc-gone-2024-03-14", headers: asManager, status: http.StatusNotFound, code: "TASK_REMOVED"},
		{name: "day off", method: http.MethodPost, target: "/tasks/tc-daily-2024-03-16/start", headers: asManager, status: http.StatusNotFound, code: "NOT_FOUND"},
		{name: "foreign manager", method: http.MethodPost, target: "/tasks/tc-daily-2024-03-14/start", headers: as("mgr-2", "MANAGER"), status: http.StatusForbidden, code: "PERMISSION_DENIED"},
		{name: "photo required", method: http.MethodPost, target: "/tasks/tc-photo-2024-03-14/complete", body: `{"comment":"готово"}`, headers: asManager, status: http.StatusUnprocessableEntity, code: "VALIDATION_FAILED"},
		{name: "wrong method", method: http.MethodDelete, target: "/tasks/tc-daily-2024-03-14", headers: asManager, status: http.StatusMethodNotAllowed},
		{name: "wrong method on action", method: http.MethodGet, target: "/tasks/tc-daily-2024-03-14/start", headers: asManager, status: http.StatusMethodNotAllowed},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, tc.method, tc.target, tc.body, tc.headers)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			if tc.code != "" {
				payload := decode(t, rec)
				assert.Equal(t, tc.code, payload["errorCode"])
				assert.NotEmpty(t, payload["message"])
			}
		})
	}

	rec := env.do(t, http.MethodPost, "/tasks/tc-photo-2024-03-14/complete", `{}`, asManager)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, decode(t, rec)["errors"], "photos")
}

func TestChecklistHandler(t *testing.T) {
	t.Parallel()
	env := newAPIEnv(t)
	cron := map[string]string{apihttp.HeaderCronToken: "cron-secret"}

	rec := env.do(t, http.MethodPost, "/checklists/auto-generate", "", map[string]string{apihttp.HeaderCronToken: "guess"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "INVALID_CRON_TOKEN", decode(t, rec)["errorCode"])

	rec = env.do(t, http.MethodPost, "/checklists/auto-generate", "", asManager)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/checklists/auto-generate", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/checklists/auto-generate", "", cron)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode(t, rec)
	assert.EqualValues(t, 1, result["createdCount"])
	assert.EqualValues(t, 1, result["createdTasks"])
	assert.Empty(t, result["failedObjects"])

	rec = env.do(t, http.MethodPost, "/checklists/auto-generate", "", asAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	again := decode(t, rec)
	assert.EqualValues(t, 0, again["createdCount"])
	require.Len(t, again["skippedObjects"], 1)
	assert.Equal(t, "already_generated", again["skippedObjects"].([]any)[0].(map[string]any)["reason"])

	rec = env.do(t, http.MethodGet, "/checklists/auto-generate", "", asManager)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/checklists/auto-generate", "", as("dep-1", "DEPUTY_ADMIN"))
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode(t, rec)
	assert.EqualValues(t, 1, status["checklistsToday"])
	assert.EqualValues(t, 2, status["totalObjects"])
	assert.EqualValues(t, 1, status["autoEnabledObjects"])
	assert.Equal(t, "2024-03-14", status["date"])
}
