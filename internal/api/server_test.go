package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worldweaver/internal/capture"
	"github.com/worldweaver/internal/conversation"
	"github.com/worldweaver/internal/events"
	"github.com/worldweaver/internal/gamemodes"
	"github.com/worldweaver/internal/llm/llmtest"
	"github.com/worldweaver/internal/metrics"
	"github.com/worldweaver/internal/orchestrator"
	"github.com/worldweaver/internal/providers/interact/interacttest"
)

const botFID = "999"

type fixture struct {
	server   *Server
	social   *interacttest.Social
	gen      *llmtest.Generator
	recorder *metrics.PrometheusRecorder
}

func newFixture(opts Options) *fixture {
	f := &fixture{
		social:   interacttest.NewSocial(),
		gen:      &llmtest.Generator{Fallback: "Good morning from the edge of the map."},
		recorder: metrics.NewPrometheusRecorder(),
	}
	deps := gamemodes.Deps{Social: f.social, Subscriptions: f.social, LLM: f.gen, Observer: f.recorder}
	orch := orchestrator.New(
		orchestrator.Config{BotID: botFID, ProcessingTimeout: 5 * time.Second},
		conversation.NewStore(),
		conversation.NewDedupGuard(),
		deps,
		f.recorder,
	)
	opts.Metrics = f.recorder.Handler()
	f.server = NewServer(orch, opts)
	return f
}

func castPayload(eventType, hash, text string) []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"created_at": 1735689600,
		"type":       eventType,
		"data": map[string]interface{}{
			"hash":        hash,
			"thread_hash": hash,
			"author":      map[string]interface{}{"fid": 1, "username": "kbc"},
			"text":        text,
			"timestamp":   "2025-01-01T00:00:00Z",
			"mentioned_profiles": []map[string]interface{}{
				{"fid": 999, "username": "worldweaver"},
			},
		},
	})
	return body
}

func (f *fixture) post(t *testing.T, body []byte, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhook", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestWebhook_SyncProcessesMention(t *testing.T) {
	f := newFixture(Options{})

	rec := f.post(t, castPayload("cast.created", "0xm1", "@worldweaver gm"), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res FlowResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "ok", res.Status)
	assert.Equal(t, "0xm1", res.EventID)
	assert.Equal(t, orchestrator.RouteInit.String(), res.Route)
	assert.NotEmpty(t, res.ReplyID)

	reply, ok := f.social.LastReply()
	require.True(t, ok)
	assert.Equal(t, "0xm1", reply.ParentID)
	assert.Contains(t, reply.Body, "Good morning")
}

func TestWebhook_RedeliveryIsSkipped(t *testing.T) {
	f := newFixture(Options{})
	body := castPayload("cast.created", "0xm1", "@worldweaver gm")

	require.Equal(t, http.StatusOK, f.post(t, body, nil).Code)
	rec := f.post(t, body, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "skipped", decode(t, rec)["status"])
	assert.Len(t, f.social.PostedReplies(), 1)
}

func TestWebhook_FailureReturns500(t *testing.T) {
	f := newFixture(Options{})
	f.gen.Fallback = ""

	rec := f.post(t, castPayload("cast.created", "0xm1", "@worldweaver gm"), nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "failed", decode(t, rec)["status"])
}

func TestWebhook_IgnoredAndInvalid(t *testing.T) {
	f := newFixture(Options{})

	rec := f.post(t, castPayload("follow.created", "0xm1", ""), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ignored", decode(t, rec)["status"])

	rec = f.post(t, []byte(`{not json`), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.post(t, castPayload("cast.created", "", "@worldweaver gm"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, f.social.PostedReplies())
}

func TestWebhook_AsyncAccepts(t *testing.T) {
	f := newFixture(Options{Async: true})

	rec := f.post(t, castPayload("cast.created", "0xm1", "@worldweaver gm"), nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "accepted", out["status"])
	assert.Equal(t, "0xm1", out["event_id"])

	f.server.WaitIdle()
	assert.Len(t, f.social.PostedReplies(), 1)
}

func TestOperationalRoutes(t *testing.T) {
	f := newFixture(Options{})
	require.Equal(t, http.StatusOK, f.post(t, castPayload("cast.created", "0xm1", "@worldweaver gm"), nil).Code)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		f.server.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	rec := get("/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode(t, rec)["status"])

	rec = get("/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode(t, rec)
	assert.EqualValues(t, 1, stats["handled_events"])
	assert.Contains(t, stats, "uptime")

	rec = get("/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `worldweaver_events_total{outcome="success",route="init"} 1`), rec.Body.String())
}

type pruneCounter struct {
	calls atomic.Int32
}

func (p *pruneCounter) HandleEvent(ctx context.Context, ev events.Event) conversation.FlowResult {
	return conversation.FlowResult{Success: true}
}

func (p *pruneCounter) Stats() map[string]interface{} { return map[string]interface{}{} }

func (p *pruneCounter) PruneHandled(retention time.Duration) int {
	p.calls.Add(1)
	return 0
}

func TestPruneLoop(t *testing.T) {
	handler := &pruneCounter{}
	s := NewServer(handler, Options{DedupRetention: time.Hour, PruneInterval: time.Millisecond})

	ctx, cancel := context.WithCancel(testContext(t))
	done := make(chan struct{})
	go func() {
		s.pruneLoop(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return handler.calls.Load() >= 2 }, time.Second, time.Millisecond)
	cancel()
	<-done
}

func TestPruneLoop_DisabledWithoutRetention(t *testing.T) {
	handler := &pruneCounter{}
	s := NewServer(handler, Options{PruneInterval: time.Millisecond})

	s.pruneLoop(testContext(t))
	assert.Zero(t, handler.calls.Load())
}

func TestWebhook_CapturesDeliveries(t *testing.T) {
	t.Setenv("WORLDWEAVER_CAPTURE_DIR", "")
	dir := t.TempDir()
	capture.Enable(dir)
	t.Cleanup(capture.Disable)

	f := newFixture(Options{})
	require.Equal(t, http.StatusOK, f.post(t, castPayload("follow.created", "0xm1", ""), nil).Code)

	matches, err := filepath.Glob(filepath.Join(dir, "*", "follow-created-*.json"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

// testContext returns a context that is canceled when t finishes, like
// testing.T.Context in Go 1.24+.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
