package monitoring

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestMetricsHandlerExposesRecordedValues(t *testing.T) {
	m := NewMetrics()
	m.RecordPrediction("malware", 2*time.Millisecond)
	m.RecordPredictionError("input_invalid")
	m.RecordTraining("succeeded", 3*time.Second)
	m.RecordModelLoad("v1", nil)
	m.RecordModelLoad("", errors.New("boom"))

	handler := m.Instrument("health", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/health", nil))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)

	for _, want := range []string{
		`flowguard_predictions_total{label="malware"} 1`,
		`flowguard_prediction_errors_total{kind="input_invalid"} 1`,
		`flowguard_training_runs_total{status="succeeded"} 1`,
		`flowguard_model_loads_total{result="ok"} 1`,
		`flowguard_model_loads_total{result="error"} 1`,
		`flowguard_model_loaded 1`,
		`flowguard_http_requests_total{handler="health",method="GET",status="418"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in metrics output", want)
		}
	}
}

func TestWebSocketHubPublish(t *testing.T) {
	metrics := NewMetrics()
	hub := NewWebSocketHub(nil, metrics)
	go hub.Start()
	defer hub.Stop()

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client was not registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := hub.Publish(PredictionEvent, map[string]string{"prediction": "adware"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg.Type != PredictionEvent || msg.ID == "" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if !strings.Contains(string(msg.Data), `"adware"`) {
		t.Fatalf("unexpected payload: %s", msg.Data)
	}
}
