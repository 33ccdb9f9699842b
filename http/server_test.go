package http

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"croprec/monitoring"
	"croprec/pipeline"
	"croprec/recommend"
	"croprec/testutil"
)

func TestPredictionFeedThroughMiddleware(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub := monitoring.NewHub(nil)
	hub.Start()
	svc := recommend.NewService(recommend.Deps{
		Pipeline: pipeline.New(testutil.Artifacts(t)),
		Feed:     hub,
		Stats:    monitoring.NewStats(hub),
	})
	srv := httptest.NewServer(NewHandler(DefaultServerConfig(), Deps{Service: svc, Hub: hub}))

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ws/predictions", nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Post(srv.URL+"/api/predict", "application/json", strings.NewReader(riceJSON))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Type monitoring.MessageType   `json:"type"`
		Data recommend.Recommendation `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &msg))
	assert.Equal(t, monitoring.PredictionEvent, msg.Type)
	assert.Equal(t, "rice", msg.Data.Crop)
	assert.Equal(t, 1, svc.Stats().FeedClients)

	conn.Close()
	hub.Stop()
	srv.Close()
	http.DefaultClient.CloseIdleConnections()
}

func TestServerStartStop(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := NewServer(DefaultServerConfig(), Deps{})
	done := make(chan error, 1)
	go func() { done <- s.Serve(ln) }()

	url := "http://" + ln.Addr().String() + "/api/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusServiceUnavailable
	}, 2*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.NoError(t, <-done)
}

func TestRecoveryMiddleware(t *testing.T) {
	h := Chain(RecoveryMiddleware(nopLogger()), LoggerMiddleware(nopLogger()))(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rr.Body.String())
}

func TestCORSMiddleware(t *testing.T) {
	h := CORSMiddleware([]string{"https://farm.example"})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/predict", nil)
	req.Header.Set("Origin", "https://farm.example")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://farm.example", rr.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("Origin", "https://elsewhere.example")
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusTeapot, rr.Code)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestSizeLimit(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.MaxBodyBytes = 16
	svc := recommend.NewService(recommend.Deps{Pipeline: pipeline.New(testutil.Artifacts(t))})
	h := NewHandler(cfg, Deps{Service: svc})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/predict", strings.NewReader(riceJSON)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func nopLogger() *zap.Logger { return zap.NewNop() }
