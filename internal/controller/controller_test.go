package controller

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"mcq_bot/internal/model"
	"mcq_bot/internal/service"
	"mcq_bot/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSession struct {
	state     model.SessionState
	logoutErr error
	logouts   int
}

func (f *fakeSession) State() model.SessionState { return f.state }

func (f *fakeSession) Logout(ctx context.Context) error {
	f.logouts++
	return f.logoutErr
}

type fakeRotation struct {
	delivered []int
	remaining int
}

func (f *fakeRotation) Delivered() []int { return f.delivered }
func (f *fakeRotation) Remaining() int   { return f.remaining }

type fakeBatch struct {
	err  error
	last *model.BatchReport
}

func (f *fakeBatch) Start() error                   { return f.err }
func (f *fakeBatch) LastReport() *model.BatchReport { return f.last }

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func serve(t *testing.T, method, path string, register func(r *gin.Engine)) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	r := gin.New()
	register(r)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	r.ServeHTTP(w, req)

	var body envelope
	if w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

func TestHealthCheck(t *testing.T) {
	for state, want := range map[model.SessionState]string{
		model.StateOpen:       "up",
		model.StatePairing:    "down",
		model.StateConnecting: "down",
	} {
		c := NewHealthController(&fakeSession{state: state})
		w, body := serve(t, http.MethodGet, "/api/health", func(r *gin.Engine) {
			r.GET("/api/health", c.HealthCheck)
		})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"status":"ok","components":{"session":"`+want+`"}}`, string(body.Data))
	}
}

func TestGetSession(t *testing.T) {
	c := NewSessionController(&fakeSession{state: model.StatePairing}, &fakeRotation{delivered: []int{4, 2}, remaining: 6})
	w, body := serve(t, http.MethodGet, "/api/session", func(r *gin.Engine) {
		r.GET("/api/session", c.GetSession)
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"state":"pairing","delivered":[4,2],"remaining":6}`, string(body.Data))
}

func TestLogout(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"ok", nil, http.StatusOK},
		{"not open", util.ErrNotConnected, http.StatusConflict},
		{"backend failure", errors.New("server said no"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := &fakeSession{state: model.StateOpen, logoutErr: tt.err}
			c := NewSessionController(session, &fakeRotation{})
			w, _ := serve(t, http.MethodPost, "/api/session/logout", func(r *gin.Engine) {
				r.POST("/api/session/logout", c.Logout)
			})
			assert.Equal(t, tt.code, w.Code)
			assert.Equal(t, 1, session.logouts)
		})
	}
}

func TestPairingEndpoints(t *testing.T) {
	pairing := service.NewPairingService(service.PairingOptions{OutputDir: t.TempDir(), ImageSize: 64}, nil, nil)
	c := NewPairingController(pairing)
	register := func(r *gin.Engine) {
		r.GET("/api/pairing", c.GetPairing)
		r.GET("/api/pairing/qr.png", c.GetPairingImage)
	}

	w, _ := serve(t, http.MethodGet, "/api/pairing", register)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = serve(t, http.MethodGet, "/api/pairing/qr.png", register)
	assert.Equal(t, http.StatusNotFound, w.Code)

	pairing.OnPairingCode("2@pending")

	w, body := serve(t, http.MethodGet, "/api/pairing", register)
	require.Equal(t, http.StatusOK, w.Code)
	var artifact service.PairingArtifact
	require.NoError(t, json.Unmarshal(body.Data, &artifact))
	assert.Equal(t, "2@pending", artifact.Code)
	assert.NotEmpty(t, artifact.DataURL)

	w, _ = serve(t, http.MethodGet, "/api/pairing/qr.png", register)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, util.MimePNG, w.Header().Get("Content-Type"))
	assert.Equal(t, "\x89PNG", w.Body.String()[:4])
}

func TestRunEndpoints(t *testing.T) {
	batch := &fakeBatch{}
	c := NewRunController(batch)
	register := func(r *gin.Engine) {
		r.POST("/api/runs", c.StartRun)
		r.GET("/api/runs/last", c.GetLastRun)
	}

	w, _ := serve(t, http.MethodGet, "/api/runs/last", register)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body := serve(t, http.MethodPost, "/api/runs", register)
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, http.StatusAccepted, body.Code)

	batch.err = util.ErrBatchRunning
	w, _ = serve(t, http.MethodPost, "/api/runs", register)
	assert.Equal(t, http.StatusConflict, w.Code)

	batch.last = model.NewBatchReport(2)
	w, body = serve(t, http.MethodGet, "/api/runs/last", register)
	assert.Equal(t, http.StatusOK, w.Code)
	var report model.BatchReport
	require.NoError(t, json.Unmarshal(body.Data, &report))
	assert.Equal(t, batch.last.RunID, report.RunID)
	assert.Equal(t, 2, report.Total)
}
