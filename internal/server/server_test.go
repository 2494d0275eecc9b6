package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net"
	"net/http"
	"strings"
	"testing"

	"aviary/internal/client"
	"aviary/internal/db"
	"aviary/internal/domain"
	"aviary/internal/keystore"
	"aviary/internal/migrate"
	"aviary/internal/registry"
	"aviary/internal/repo"
)

type testEnv struct {
	URL  string
	Repo repo.Repo
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvLimit(t, 0)
}

func newTestEnvLimit(t *testing.T, inlineLimit int) *testEnv {
	t.Helper()
	conn, err := db.Open(db.Options{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}

	// The handler mints signed links against its public URL, so the
	// listener must exist before the handler is built.
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	publicURL := "http://" + ln.Addr().String()
	handler, err := New(Config{
		Repo:               r,
		PublicURL:          publicURL,
		JWTSecret:          "test-secret",
		InlinePayloadLimit: inlineLimit,
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() {
		srv.Shutdown(context.Background())
		ln.Close()
		conn.Close()
	})
	return &testEnv{URL: publicURL, Repo: r}
}

func (e *testEnv) seed(t *testing.T, username string, credits float64) string {
	t.Helper()
	key, err := SeedUser(e.Repo, username, credits)
	if err != nil {
		t.Fatalf("seed user %s: %v", username, err)
	}
	return key
}

func (e *testEnv) client(t *testing.T, apiKey string) *client.Client {
	t.Helper()
	t.Setenv("AVIARY_API_KEY", "")
	return client.New(client.Config{
		APIKey:          apiKey,
		BaseURL:         e.URL,
		Keystore:        &keystore.Store{Dir: t.TempDir(), RunMode: "testing"},
		DisableRecovery: true,
		Output:          io.Discard,
	})
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func strPtr(s string) *string { return &s }

func closeTo(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestObjectRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	key := env.seed(t, "ada", 100)
	c := env.client(t, key)
	ctx := context.Background()

	survey, err := registry.New(domain.ObjectTypeSurvey, map[string]any{
		"questions": []any{map[string]any{"question_name": "q1"}},
	})
	if err != nil {
		t.Fatalf("build survey: %v", err)
	}
	info, err := c.Create(ctx, survey, client.CreateOptions{
		Description: strPtr("a tiny survey"),
		Alias:       strPtr("my-survey"),
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if info.UUID == "" || info.Visibility != domain.VisibilityUnlisted {
		t.Fatalf("create info = %+v", info)
	}
	if info.AliasURL == nil || !strings.HasSuffix(*info.AliasURL, "/content/ada/my-survey") {
		t.Fatalf("alias url = %v", info.AliasURL)
	}

	got, err := c.Get(ctx, info.UUID, domain.ObjectTypeSurvey)
	if err != nil {
		t.Fatalf("get by uuid: %v", err)
	}
	if got.ObjectType() != domain.ObjectTypeSurvey {
		t.Fatalf("object type = %s", got.ObjectType())
	}
	questions, ok := got.Dict()["questions"].([]any)
	if !ok || len(questions) != 1 {
		t.Fatalf("dict = %v", got.Dict())
	}

	if _, err := c.Get(ctx, info.URL, domain.ObjectTypeSurvey); err != nil {
		t.Fatalf("get by url: %v", err)
	}
	if _, err := c.Get(ctx, *info.AliasURL, domain.ObjectTypeSurvey); err != nil {
		t.Fatalf("get by alias url: %v", err)
	}

	var mismatch *client.TypeMismatchError
	_, err = c.Get(ctx, info.UUID, domain.ObjectTypeAgent)
	if !errors.As(err, &mismatch) {
		t.Fatalf("err = %v, want TypeMismatchError", err)
	}
	if mismatch.Got != domain.ObjectTypeSurvey {
		t.Fatalf("mismatch = %+v", mismatch)
	}
}

func TestScenarioUploadsPayloadOutOfBand(t *testing.T) {
	env := newTestEnv(t)
	key := env.seed(t, "ada", 100)
	c := env.client(t, key)
	ctx := context.Background()

	scenario, err := registry.New(domain.ObjectTypeScenario, map[string]any{"city": "Paris"})
	if err != nil {
		t.Fatalf("build scenario: %v", err)
	}
	info, err := c.Create(ctx, scenario, client.CreateOptions{})
	if err != nil {
		t.Fatalf("create scenario: %v", err)
	}

	// The payload travels through the signed upload route, not the create
	// body, so a successful read back proves the blob round trip.
	got, err := c.Get(ctx, info.UUID, domain.ObjectTypeScenario)
	if err != nil {
		t.Fatalf("get scenario: %v", err)
	}
	if got.Dict()["city"] != "Paris" {
		t.Fatalf("dict = %v", got.Dict())
	}
}

func TestScenarioFileStoreUpload(t *testing.T) {
	env := newTestEnv(t)
	key := env.seed(t, "ada", 100)
	c := env.client(t, key)
	ctx := context.Background()

	sc := registry.NewFileStore("report.json", "json", "application/json", []byte(`{"a":1}`))
	info, err := c.Create(ctx, sc, client.CreateOptions{Description: strPtr("raw file")})
	if err != nil {
		t.Fatalf("create file store: %v", err)
	}

	got, err := c.Get(ctx, info.UUID, domain.ObjectTypeScenario)
	if err != nil {
		t.Fatalf("get file store: %v", err)
	}
	fetched, ok := got.(registry.Scenario)
	if !ok || !fetched.IsFileStore() {
		t.Fatalf("fetched object is not a file store: %T", got)
	}
	raw, err := fetched.Bytes()
	if err != nil || string(raw) != `{"a":1}` {
		t.Fatalf("bytes = %q, %v", raw, err)
	}

	// The raw-bytes half lands linted in the file column.
	stored, err := env.Repo.GetObjectFile(ctx, info.UUID)
	if err != nil {
		t.Fatalf("get object file: %v", err)
	}
	if string(stored) != "{\n    \"a\": 1\n}" {
		t.Fatalf("stored file = %q", stored)
	}
}

func TestLargePayloadDereferencedTransparently(t *testing.T) {
	env := newTestEnvLimit(t, 256)
	key := env.seed(t, "ada", 100)
	c := env.client(t, key)
	ctx := context.Background()

	text := strings.Repeat("a", 1024)
	question, err := registry.New(domain.ObjectTypeQuestion, map[string]any{"question_text": text})
	if err != nil {
		t.Fatalf("build question: %v", err)
	}
	info, err := c.Create(ctx, question, client.CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := c.Get(ctx, info.UUID, domain.ObjectTypeQuestion)
	if err != nil {
		t.Fatalf("get large object: %v", err)
	}
	if got.Dict()["question_text"] != text {
		t.Fatal("payload not recovered through the download link")
	}
}

func TestObjectListFilters(t *testing.T) {
	env := newTestEnv(t)
	key := env.seed(t, "ada", 100)
	c := env.client(t, key)
	ctx := context.Background()

	mk := func(typ domain.ObjectType, desc string) {
		obj, err := registry.New(typ, map[string]any{"d": desc})
		if err != nil {
			t.Fatalf("build %s: %v", typ, err)
		}
		if _, err := c.Create(ctx, obj, client.CreateOptions{Description: strPtr(desc)}); err != nil {
			t.Fatalf("create %s: %v", typ, err)
		}
	}
	mk(domain.ObjectTypeSurvey, "first survey")
	mk(domain.ObjectTypeSurvey, "second survey")
	mk(domain.ObjectTypeAgent, "an agent")

	all, err := c.List(ctx, client.ListOptions{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("listed %d objects, want 3", len(all))
	}
	for _, rec := range all {
		if rec.URL == "" || rec.OwnerUsername != "ada" {
			t.Fatalf("record = %+v", rec)
		}
	}

	surveys, err := c.List(ctx, client.ListOptions{Types: []domain.ObjectType{domain.ObjectTypeSurvey}})
	if err != nil {
		t.Fatalf("list surveys: %v", err)
	}
	if len(surveys) != 2 {
		t.Fatalf("listed %d surveys, want 2", len(surveys))
	}

	found, err := c.List(ctx, client.ListOptions{SearchQuery: "second"})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(found) != 1 || *found[0].Description != "second survey" {
		t.Fatalf("search result = %+v", found)
	}

	paged, err := c.List(ctx, client.ListOptions{PageSize: 2})
	if err != nil {
		t.Fatalf("paged list: %v", err)
	}
	if len(paged) != 2 {
		t.Fatalf("page held %d objects, want 2", len(paged))
	}

	var filterErr *client.FilterValueError
	if _, err := c.List(ctx, client.ListOptions{Types: []domain.ObjectType{"sandwich"}}); !errors.As(err, &filterErr) {
		t.Fatalf("err = %v, want FilterValueError", err)
	}
	if _, err := c.List(ctx, client.ListOptions{PageSize: 500}); !errors.As(err, &filterErr) {
		t.Fatalf("err = %v, want FilterValueError", err)
	}
}

func TestObjectPatchAndDelete(t *testing.T) {
	env := newTestEnv(t)
	key := env.seed(t, "ada", 100)
	c := env.client(t, key)
	ctx := context.Background()

	obj, err := registry.New(domain.ObjectTypeSurvey, map[string]any{"v": 1.0})
	if err != nil {
		t.Fatalf("build survey: %v", err)
	}
	info, err := c.Create(ctx, obj, client.CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := c.Patch(ctx, info.UUID, client.PatchOptions{}); !errors.Is(err, client.ErrNothingToPatch) {
		t.Fatalf("empty patch err = %v", err)
	}

	replacement, err := registry.New(domain.ObjectTypeSurvey, map[string]any{"v": 2.0})
	if err != nil {
		t.Fatalf("build replacement: %v", err)
	}
	vis := domain.VisibilityPublic
	err = c.Patch(ctx, info.UUID, client.PatchOptions{
		Description: strPtr("patched"),
		Value:       replacement,
		Visibility:  &vis,
	})
	if err != nil {
		t.Fatalf("patch: %v", err)
	}

	got, err := c.Get(ctx, info.UUID, "")
	if err != nil {
		t.Fatalf("get after patch: %v", err)
	}
	if got.Dict()["v"] != 2.0 {
		t.Fatalf("patched dict = %v", got.Dict())
	}
	listed, err := c.List(ctx, client.ListOptions{Visibility: []domain.Visibility{domain.VisibilityPublic}})
	if err != nil || len(listed) != 1 {
		t.Fatalf("list public = %v, %v", listed, err)
	}
	if *listed[0].Description != "patched" {
		t.Fatalf("description = %v", listed[0].Description)
	}

	if err := c.Delete(ctx, info.URL); err != nil {
		t.Fatalf("delete: %v", err)
	}
	var serverErr *client.ServerError
	_, err = c.Get(ctx, info.UUID, "")
	if !errors.As(err, &serverErr) || serverErr.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete = %v", err)
	}
}

func TestUUIDFromHash(t *testing.T) {
	env := newTestEnv(t)
	key := env.seed(t, "ada", 100)
	c := env.client(t, key)
	ctx := context.Background()

	obj, err := registry.New(domain.ObjectTypeNotebook, map[string]any{"cells": []any{"print(1)"}})
	if err != nil {
		t.Fatalf("build notebook: %v", err)
	}
	info, err := c.Create(ctx, obj, client.CreateOptions{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	id, err := c.UUIDFromHash(ctx, registry.Hash(obj))
	if err != nil {
		t.Fatalf("uuid from hash: %v", err)
	}
	if id != info.UUID {
		t.Fatalf("uuid = %s, want %s", id, info.UUID)
	}

	var serverErr *client.ServerError
	if _, err := c.UUIDFromHash(ctx, "deadbeef"); !errors.As(err, &serverErr) {
		t.Fatalf("unknown hash err = %v", err)
	}
}

func TestCreateProject(t *testing.T) {
	env := newTestEnv(t)
	key := env.seed(t, "ada", 100)
	c := env.client(t, key)
	ctx := context.Background()

	survey, err := registry.New(domain.ObjectTypeSurvey, map[string]any{
		"questions": []any{map[string]any{"question_name": "q1"}},
	})
	if err != nil {
		t.Fatalf("build survey: %v", err)
	}
	info, err := c.CreateProject(ctx, survey, "Field Study", client.CreateOptions{
		Description: strPtr("a field study survey"),
	})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	if info.Name != "Field Study" || info.UUID == "" {
		t.Fatalf("project info = %+v", info)
	}
	if info.AdminURL != env.URL+"/home/projects/"+info.UUID {
		t.Fatalf("admin url = %q", info.AdminURL)
	}
	if info.RespondentURL != env.URL+"/respond/"+info.UUID {
		t.Fatalf("respondent url = %q", info.RespondentURL)
	}

	rec, err := env.Repo.GetProject(ctx, info.UUID)
	if err != nil {
		t.Fatalf("get project: %v", err)
	}
	if rec.ProjectName != "Field Study" || rec.SurveyUUID == "" {
		t.Fatalf("project record = %+v", rec)
	}
	if _, err := c.Get(ctx, rec.SurveyUUID, domain.ObjectTypeSurvey); err != nil {
		t.Fatalf("get project survey: %v", err)
	}

	// Only surveys can back a project.
	agent, err := registry.New(domain.ObjectTypeAgent, map[string]any{"traits": map[string]any{}})
	if err != nil {
		t.Fatalf("build agent: %v", err)
	}
	var serverErr *client.ServerError
	_, err = c.CreateProject(ctx, agent, "Not a Survey", client.CreateOptions{})
	if !errors.As(err, &serverErr) || serverErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("non-survey project err = %v", err)
	}
}

func TestPrivateObjectHiddenFromOthers(t *testing.T) {
	env := newTestEnv(t)
	adaKey := env.seed(t, "ada", 100)
	graceKey := env.seed(t, "grace", 100)
	ctx := context.Background()

	obj, err := registry.New(domain.ObjectTypeSurvey, map[string]any{"secret": true})
	if err != nil {
		t.Fatalf("build survey: %v", err)
	}
	info, err := env.client(t, adaKey).Create(ctx, obj, client.CreateOptions{Visibility: domain.VisibilityPrivate})
	if err != nil {
		t.Fatalf("create private: %v", err)
	}

	var serverErr *client.ServerError
	_, err = env.client(t, graceKey).Get(ctx, info.UUID, "")
	if !errors.As(err, &serverErr) || serverErr.StatusCode != http.StatusNotFound {
		t.Fatalf("foreign get = %v", err)
	}
}

func TestJobLifecycle(t *testing.T) {
	env := newTestEnv(t)
	key := env.seed(t, "ada", 100)
	c := env.client(t, key)
	ctx := context.Background()

	job := client.JobDefinition{Survey: map[string]any{
		"questions": []any{
			map[string]any{"question_name": "q1"},
			map[string]any{"question_name": "q2"},
		},
	}}
	created, err := c.CreateJob(ctx, job, client.CreateJobOptions{
		Description: strPtr("two questions"),
		Iterations:  2,
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if created.UUID == "" || created.Status != domain.JobQueued || created.Iterations != 2 {
		t.Fatalf("creation info = %+v", created)
	}

	if _, err := c.GetJob(ctx, "", "", false); !errors.Is(err, client.ErrMissingIdentifier) {
		t.Fatalf("empty get job err = %v", err)
	}

	snap, err := c.GetJob(ctx, created.UUID, "", true)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if snap.Status != domain.JobQueued || snap.JobJSONString == nil {
		t.Fatalf("snapshot = %+v", snap)
	}

	if err := env.Repo.UpdateJobStatus(ctx, created.UUID, domain.JobRunning, nil); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	running, err := c.RunningJobs(ctx)
	if err != nil {
		t.Fatalf("running jobs: %v", err)
	}
	if len(running) != 1 || running[0] != created.UUID {
		t.Fatalf("running = %v", running)
	}

	// Finish the run with a partial failure so the snapshot carries results,
	// a cost, and an error report.
	resultsUUID := "11111111-2222-3333-4444-555555555555"
	reportUUID := "aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee"
	_, err = env.Repo.DB.ExecContext(ctx,
		`UPDATE jobs SET status=?, results_uuid=?, cost_credits=?, latest_error_report_uuid=? WHERE uuid=?`,
		string(domain.JobPartialFailed), resultsUUID, 0.04, reportUUID, created.UUID)
	if err != nil {
		t.Fatalf("finish job: %v", err)
	}

	snap, err = c.GetJob(ctx, "", resultsUUID, false)
	if err != nil {
		t.Fatalf("get job by results: %v", err)
	}
	if snap.JobUUID != created.UUID || snap.Status != domain.JobPartialFailed {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap.ResultsURL == nil || !strings.HasSuffix(*snap.ResultsURL, "/content/"+resultsUUID) {
		t.Fatalf("results url = %v", snap.ResultsURL)
	}
	if snap.RunDetails == nil || snap.RunDetails.ErrorReportURL == nil {
		t.Fatalf("run details = %+v", snap.RunDetails)
	}
	if want := env.URL + "/home/remote-inference/error/" + reportUUID; *snap.RunDetails.ErrorReportURL != want {
		t.Fatalf("error report url = %s, want %s", *snap.RunDetails.ErrorReportURL, want)
	}
	if snap.RunDetails.CostCredits == nil || !closeTo(*snap.RunDetails.CostCredits, 0.04) {
		t.Fatalf("cost credits = %v", snap.RunDetails.CostCredits)
	}
	if snap.RunDetails.CostUSD == nil || !closeTo(*snap.RunDetails.CostUSD, 0.0004) {
		t.Fatalf("cost usd = %v", snap.RunDetails.CostUSD)
	}
}

func TestListJobs(t *testing.T) {
	env := newTestEnv(t)
	key := env.seed(t, "ada", 100)
	c := env.client(t, key)
	ctx := context.Background()

	job := client.JobDefinition{Survey: map[string]any{"questions": []any{map[string]any{"question_name": "q"}}}}
	first, err := c.CreateJob(ctx, job, client.CreateJobOptions{Description: strPtr("first")})
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	if _, err := c.CreateJob(ctx, job, client.CreateJobOptions{Description: strPtr("second")}); err != nil {
		t.Fatalf("create second: %v", err)
	}
	if err := env.Repo.UpdateJobStatus(ctx, first.UUID, domain.JobCompleted, nil); err != nil {
		t.Fatalf("complete first: %v", err)
	}

	all, err := c.ListJobs(ctx, client.ListJobsOptions{})
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("listed %d jobs, want 2", len(all))
	}

	completed, err := c.ListJobs(ctx, client.ListJobsOptions{Statuses: []domain.JobStatus{domain.JobCompleted}})
	if err != nil {
		t.Fatalf("list completed: %v", err)
	}
	if len(completed) != 1 || completed[0].UUID != first.UUID {
		t.Fatalf("completed = %+v", completed)
	}

	var filterErr *client.FilterValueError
	if _, err := c.ListJobs(ctx, client.ListJobsOptions{Statuses: []domain.JobStatus{"paused"}}); !errors.As(err, &filterErr) {
		t.Fatalf("err = %v, want FilterValueError", err)
	}
}

func TestEstimateCost(t *testing.T) {
	env := newTestEnv(t)
	key := env.seed(t, "ada", 100)
	c := env.client(t, key)
	ctx := context.Background()

	job := client.JobDefinition{Survey: map[string]any{
		"questions": []any{
			map[string]any{"question_name": "q1"},
			map[string]any{"question_name": "q2"},
			map[string]any{"question_name": "q3"},
		},
	}}
	cost, err := c.EstimateCost(ctx, job, 2)
	if err != nil {
		t.Fatalf("estimate: %v", err)
	}
	if !closeTo(cost.CreditsHold, 0.06) || !closeTo(cost.USD, 0.0006) {
		t.Fatalf("cost = %+v", cost)
	}

	survey, err := registry.New(domain.ObjectTypeSurvey, job.Survey)
	if err != nil {
		t.Fatalf("build survey: %v", err)
	}
	cost, err = c.EstimateCost(ctx, survey, 0)
	if err != nil {
		t.Fatalf("estimate from survey: %v", err)
	}
	if !closeTo(cost.CreditsHold, 0.03) {
		t.Fatalf("survey cost = %+v", cost)
	}

	if _, err := c.EstimateCost(ctx, 42, 1); !errors.Is(err, client.ErrInvalidInput) {
		t.Fatalf("bad input err = %v", err)
	}
}

func TestExecuteModelCall(t *testing.T) {
	env := newTestEnv(t)
	key := env.seed(t, "ada", 100)
	c := env.client(t, key)
	ctx := context.Background()

	out, err := c.ExecuteModelCall(ctx, map[string]any{"model": "gpt-4o-mini"}, "What is 2+2?", "Be brief.")
	if err != nil {
		t.Fatalf("execute model call: %v", err)
	}
	if out["model"] != "gpt-4o-mini" {
		t.Fatalf("model = %v", out["model"])
	}
	answer, ok := out["answer"].(string)
	if !ok || !strings.Contains(answer, "What is 2+2?") {
		t.Fatalf("answer = %v", out["answer"])
	}

	var serverErr *client.ServerError
	if _, err := c.ExecuteModelCall(ctx, nil, "", ""); !errors.As(err, &serverErr) {
		t.Fatalf("empty prompt err = %v", err)
	}
}

func TestRemoteCache(t *testing.T) {
	env := newTestEnv(t)
	key := env.seed(t, "ada", 100)
	c := env.client(t, key)
	ctx := context.Background()

	jobUUID := "99999999-8888-7777-6666-555555555555"
	seed := func(entry domain.CacheEntry) {
		body, err := json.Marshal(entry)
		if err != nil {
			t.Fatalf("marshal entry: %v", err)
		}
		err = env.Repo.UpsertCacheEntry(ctx, repo.CacheRecord{
			Key:        entry.Key,
			JobUUID:    jobUUID,
			JSONString: string(body),
		})
		if err != nil {
			t.Fatalf("seed entry %s: %v", entry.Key, err)
		}
	}
	seed(domain.CacheEntry{Key: "k1", Model: "gpt-4o", Output: "out-1"})
	seed(domain.CacheEntry{Key: "k2", Model: "gpt-4o", Output: "out-2"})

	entries, err := c.RemoteCacheGet(ctx, jobUUID)
	if err != nil {
		t.Fatalf("cache by job: %v", err)
	}
	if len(entries) != 2 || entries[0].Key != "k1" || entries[1].Output != "out-2" {
		t.Fatalf("entries = %+v", entries)
	}

	byKey, err := c.RemoteCacheGetByKey(ctx, []string{"k2"})
	if err != nil {
		t.Fatalf("cache by key: %v", err)
	}
	if len(byKey) != 1 || byKey[0].Model != "gpt-4o" {
		t.Fatalf("entries = %+v", byKey)
	}

	if _, err := c.RemoteCacheGet(ctx, ""); !errors.Is(err, client.ErrMissingIdentifier) {
		t.Fatalf("empty job uuid err = %v", err)
	}
	var filterErr *client.FilterValueError
	if _, err := c.RemoteCacheGetByKey(ctx, nil); !errors.As(err, &filterErr) {
		t.Fatalf("empty keys err = %v", err)
	}
}

func TestBalanceAndTransfer(t *testing.T) {
	env := newTestEnv(t)
	adaKey := env.seed(t, "ada", 100)
	graceKey := env.seed(t, "grace", 5)
	ada := env.client(t, adaKey)
	grace := env.client(t, graceKey)
	ctx := context.Background()

	result, err := ada.TransferCredits(ctx, 30, "grace", "thanks")
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if !result.Success || result.TransactionID == "" || !closeTo(result.RemainingCredits, 70) {
		t.Fatalf("result = %+v", result)
	}

	balance, err := grace.Balance(ctx)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !closeTo(balance.Credits, 35) {
		t.Fatalf("credits = %v", balance.Credits)
	}

	var serverErr *client.ServerError
	_, err = ada.TransferCredits(ctx, 1000, "grace", "")
	if !errors.As(err, &serverErr) || serverErr.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("over-transfer err = %v", err)
	}
	balance, err = ada.Balance(ctx)
	if err != nil || !closeTo(balance.Credits, 70) {
		t.Fatalf("balance after rollback = %v, %v", balance, err)
	}

	if _, err := ada.TransferCredits(ctx, 10, "ada", ""); !errors.As(err, &serverErr) {
		t.Fatalf("self-transfer err = %v", err)
	}
	var filterErr *client.FilterValueError
	if _, err := ada.TransferCredits(ctx, 0, "grace", ""); !errors.As(err, &filterErr) {
		t.Fatalf("zero credits err = %v", err)
	}
}

func TestCatalogEndpoints(t *testing.T) {
	env := newTestEnv(t)
	key := env.seed(t, "ada", 100)
	c := env.client(t, key)
	ctx := context.Background()

	models, err := c.FetchModels(ctx)
	if err != nil {
		t.Fatalf("fetch models: %v", err)
	}
	found := false
	for _, m := range models["openai"] {
		if m == "gpt-4o" {
			found = true
		}
	}
	if !found {
		t.Fatalf("models = %v", models)
	}

	working, err := c.FetchWorkingModels(ctx)
	if err != nil {
		t.Fatalf("fetch working models: %v", err)
	}
	if len(working) == 0 {
		t.Fatal("no working models")
	}
	for _, m := range working {
		if m.Service == "" || m.Model == "" || m.USDPer1MOutput <= 0 {
			t.Fatalf("working model = %+v", m)
		}
	}

	vars, err := c.FetchConfigVars(ctx)
	if err != nil {
		t.Fatalf("fetch config vars: %v", err)
	}
	if vars["AVIARY_SERVICE_RPM_OPENAI"] == "" {
		t.Fatalf("config vars = %v", vars)
	}

	settings, err := c.Settings(ctx)
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if settings["remote_inference"] != true {
		t.Fatalf("settings = %v", settings)
	}
}

func TestSettingsSurviveUnreachableServer(t *testing.T) {
	t.Setenv("AVIARY_API_KEY", "")
	c := client.New(client.Config{
		APIKey:          "any",
		BaseURL:         "http://127.0.0.1:1",
		Keystore:        &keystore.Store{Dir: t.TempDir(), RunMode: "testing"},
		DisableRecovery: true,
		Output:          io.Discard,
	})
	settings, err := c.Settings(context.Background())
	if err != nil {
		t.Fatalf("settings: %v", err)
	}
	if len(settings) != 0 {
		t.Fatalf("settings = %v, want empty", settings)
	}
}

func TestInvalidCredentialsRejected(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "ada", 100)
	ctx := context.Background()

	var serverErr *client.ServerError
	_, err := env.client(t, "ak-wrong").List(ctx, client.ListOptions{})
	if !errors.As(err, &serverErr) || serverErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong key err = %v", err)
	}
	if serverErr.Message != invalidKeyDetail {
		t.Fatalf("detail = %q", serverErr.Message)
	}

	// No key sends the literal "Bearer None" and gets the same rejection.
	_, err = env.client(t, "").List(ctx, client.ListOptions{})
	if !errors.As(err, &serverErr) || serverErr.Message != invalidKeyDetail {
		t.Fatalf("no key err = %v", err)
	}
}

func TestLoginTokenFlow(t *testing.T) {
	env := newTestEnv(t)
	key := env.seed(t, "ada", 100)

	exchange := func(token string) (int, map[string]any) {
		res, data := doJSON(t, http.MethodPost, env.URL+"/api/v0/get-api-key",
			map[string]any{"auth_token": token}, nil)
		var body map[string]any
		if err := json.Unmarshal(data, &body); err != nil {
			t.Fatalf("unmarshal exchange response: %v (%s)", err, data)
		}
		return res.StatusCode, body
	}

	// Polling an unapproved token registers it and yields no key.
	status, body := exchange("tok-1")
	if status != http.StatusOK || body["api_key"] != nil {
		t.Fatalf("pending exchange = %d %v", status, body)
	}

	// Approval requires credentials.
	res, _ := doJSON(t, http.MethodPost, env.URL+"/api/v0/login/approve",
		map[string]any{"auth_token": "tok-1", "api_key": key}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unauthenticated approve status = %d", res.StatusCode)
	}
	res, data := doJSON(t, http.MethodPost, env.URL+"/api/v0/login/approve",
		map[string]any{"auth_token": "tok-1", "api_key": key},
		map[string]string{"Authorization": "Bearer " + key})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve status = %d: %s", res.StatusCode, data)
	}

	status, body = exchange("tok-1")
	if status != http.StatusOK || body["api_key"] != key {
		t.Fatalf("approved exchange = %d %v", status, body)
	}
}

func TestBlobRoutesRejectBadTokens(t *testing.T) {
	env := newTestEnv(t)

	req, err := http.NewRequest(http.MethodPut, env.URL+"/blob/upload/not-a-token", strings.NewReader("x"))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, _ := io.ReadAll(res.Body)
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d", res.StatusCode)
	}
	if !strings.Contains(string(data), "<Error>") || !strings.Contains(string(data), "InvalidToken") {
		t.Fatalf("body = %s", data)
	}

	res2, err := http.Get(env.URL + "/blob/download/not-a-token")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	defer res2.Body.Close()
	if res2.StatusCode != http.StatusForbidden {
		t.Fatalf("download status = %d", res2.StatusCode)
	}
}
