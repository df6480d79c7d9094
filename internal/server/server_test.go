package server

import (
	"bytes"
	"context"
	"encoding/json"
	"github.com/RyanW02/eventstamp/internal/config"
	"github.com/RyanW02/eventstamp/pkg/commitment"
	"github.com/RyanW02/eventstamp/pkg/events"
	"github.com/RyanW02/eventstamp/pkg/funding"
	"github.com/RyanW02/eventstamp/pkg/pipeline"
	"github.com/RyanW02/eventstamp/pkg/signer"
	"github.com/RyanW02/eventstamp/pkg/test"
	"github.com/RyanW02/eventstamp/pkg/txbuilder"
	"github.com/RyanW02/eventstamp/pkg/wallet"
	"github.com/RyanW02/eventstamp/pkg/wallet/wallettest"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type harness struct {
	server      *Server
	wallet      *wallet.MemoryWallet
	broadcaster *wallettest.RecordingBroadcaster
}

func testConfig() config.Config {
	return config.Config{
		Server: config.Server{
			RequestTimeout: config.MarshalledDuration(time.Second * 5),
			MetricsEnabled: true,
		},
		Retrieval: config.Retrieval{Limit: 100},
	}
}

func newHarness(t *testing.T) *harness {
	broadcaster := &wallettest.RecordingBroadcaster{}
	w := wallet.NewMemoryWallet(broadcaster)

	p, err := pipeline.New(zap.NewNop(), pipeline.Config{
		Keys:        signer.NewStaticKeyProvider(test.PrivateKey(0x51), test.Params),
		Funding:     w,
		Commitments: w,
		Params:      test.Params,
		FeePolicy: txbuilder.FeePolicy{
			CommitmentAmount: 100,
			FeeRate:          1000,
			DustThreshold:    50,
		},
	})
	require.NoError(t, err)

	s := NewServer(testConfig(), zap.NewNop(), p, w)
	s.now = func() time.Time {
		return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}

	return &harness{
		server:      s,
		wallet:      w,
		broadcaster: broadcaster,
	}
}

func (h *harness) fund(t *testing.T, amount int64) {
	output, err := funding.NewFundingOutput(test.FundingTx(test.PrivateKey(0x51).PubKey(), 1, amount), 0)
	require.NoError(t, err)
	require.NoError(t, h.wallet.Import(context.Background(), output))
}

func do(handler http.Handler, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, req)
	return recorder
}

func decode[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	var res T
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &res))
	return res
}

func TestLogEvent(t *testing.T) {
	h := newHarness(t)
	h.fund(t, 100_000)

	recorder := do(h.server.Handler(), http.MethodPost, "/log-event", []byte(`{"eventData":{"description":"test"}}`))
	require.Equal(t, http.StatusOK, recorder.Code)

	res := decode[LogEventResponse](t, recorder)
	require.Equal(t, messageLogged, res.Message)

	sent := h.broadcaster.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, sent[0].TxHash().String(), res.Tx)

	fields, err := commitment.Decode(sent[0].TxOut[0].PkScript)
	require.NoError(t, err)
	require.Equal(t, "192.0.2.1", fields.Address)
	require.Equal(t, "2024-01-01T00:00:00Z", fields.Timestamp)
	require.Equal(t, "/log-event", fields.Path)
	require.Equal(t, map[string]any{"description": "test"}, fields.Data)
}

func TestLogEventMissingData(t *testing.T) {
	h := newHarness(t)
	h.fund(t, 100_000)

	for _, body := range []string{`{}`, `{"eventData":null}`, `not json`, ``} {
		recorder := do(h.server.Handler(), http.MethodPost, "/log-event", []byte(body))
		require.Equalf(t, http.StatusBadRequest, recorder.Code, "body: %s", body)

		res := decode[LogEventResponse](t, recorder)
		require.Empty(t, res.Tx)
		require.Equal(t, messageEventDataRequired, res.Message)
	}

	require.Empty(t, h.broadcaster.Sent())
}

func TestLogEventInsufficientFunds(t *testing.T) {
	h := newHarness(t)

	recorder := do(h.server.Handler(), http.MethodPost, "/log-event", []byte(`{"eventData":{"a":1}}`))
	require.Equal(t, http.StatusInternalServerError, recorder.Code)

	res := decode[LogEventResponse](t, recorder)
	require.Empty(t, res.Tx)
	require.Equal(t, messageInsufficientFunds, res.Message)
}

func TestLogEventBroadcastFailure(t *testing.T) {
	h := newHarness(t)
	h.fund(t, 100_000)
	h.broadcaster.Err = errors.New("connection refused")

	recorder := do(h.server.Handler(), http.MethodPost, "/log-event", []byte(`{"eventData":{"a":1}}`))
	require.Equal(t, http.StatusInternalServerError, recorder.Code)

	res := decode[LogEventResponse](t, recorder)
	require.Empty(t, res.Tx)
	require.Equal(t, messageLogFailed, res.Message)
	require.NotContains(t, recorder.Body.String(), "connection refused")
}

func TestLogEventIntegrityFailure(t *testing.T) {
	s := NewServer(testConfig(), zap.NewNop(), &failingCommitter{
		err: &funding.IntegrityError{Source: "ab:0", Reason: "identifier mismatch"},
	}, wallet.NewMemoryWallet(&wallettest.RecordingBroadcaster{}))

	recorder := do(s.Handler(), http.MethodPost, "/log-event", []byte(`{"eventData":{"a":1}}`))
	require.Equal(t, http.StatusInternalServerError, recorder.Code)

	res := decode[LogEventResponse](t, recorder)
	require.Equal(t, messageLogFailed, res.Message)
	require.NotContains(t, recorder.Body.String(), "identifier mismatch")
}

func TestRetrieveLogs(t *testing.T) {
	h := newHarness(t)
	h.fund(t, 100_000)

	for i := 0; i < 3; i++ {
		body, err := json.Marshal(LogEventRequest{EventData: map[string]any{"n": i}})
		require.NoError(t, err)

		recorder := do(h.server.Handler(), http.MethodPost, "/log-event", body)
		require.Equal(t, http.StatusOK, recorder.Code)
	}

	recorder := do(h.server.Handler(), http.MethodGet, "/retrieve-logs", nil)
	require.Equal(t, http.StatusOK, recorder.Code)

	res := decode[RetrieveLogsResponse](t, recorder)
	require.Len(t, res.Logs, 3)
	require.Equal(t, float64(2), res.Logs[0].Data["n"])

	for _, fields := range res.Logs {
		ok, err := fields.Verify()
		require.NoError(t, err)
		require.True(t, ok)
	}

	recorder = do(h.server.Handler(), http.MethodGet, "/retrieve-logs?limit=2", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Len(t, decode[RetrieveLogsResponse](t, recorder).Logs, 2)
}

func TestRetrieveLogsEmpty(t *testing.T) {
	h := newHarness(t)

	recorder := do(h.server.Handler(), http.MethodGet, "/retrieve-logs", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.JSONEq(t, `{"logs":[]}`, recorder.Body.String())
}

func TestRetrieveLogsInvalidLimit(t *testing.T) {
	h := newHarness(t)

	for _, limit := range []string{"abc", "0", "-5"} {
		recorder := do(h.server.Handler(), http.MethodGet, "/retrieve-logs?limit="+limit, nil)
		require.Equalf(t, http.StatusBadRequest, recorder.Code, "limit: %s", limit)
	}
}

func TestRetrieveLogsFailure(t *testing.T) {
	s := NewServer(testConfig(), zap.NewNop(), &failingCommitter{
		err: errors.New("decode failed"),
	}, wallet.NewMemoryWallet(&wallettest.RecordingBroadcaster{}))

	recorder := do(s.Handler(), http.MethodGet, "/retrieve-logs", nil)
	require.Equal(t, http.StatusInternalServerError, recorder.Code)
}

func TestStatus(t *testing.T) {
	h := newHarness(t)
	h.fund(t, 12_345)

	recorder := do(h.server.Handler(), http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.JSONEq(t, `{"status":"ok","balance":12345}`, recorder.Body.String())
}

func TestStatusUnhealthy(t *testing.T) {
	s := NewServer(testConfig(), zap.NewNop(), &failingCommitter{}, &unhealthyWallet{})

	recorder := do(s.Handler(), http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusInternalServerError, recorder.Code)
}

func TestCorsPreflight(t *testing.T) {
	h := newHarness(t)

	req := httptest.NewRequest(http.MethodOptions, "/log-event", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Private-Network", "true")

	recorder := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(recorder, req)

	require.Less(t, recorder.Code, 300)
	require.Equal(t, "*", recorder.Header().Get("Access-Control-Allow-Origin"))
	require.Equal(t, "true", recorder.Header().Get("Access-Control-Allow-Private-Network"))
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)

	recorder := do(h.server.Handler(), http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Contains(t, recorder.Body.String(), "eventstamp_commits_total")
}

type failingCommitter struct {
	err error
}

func (c *failingCommitter) Commit(_ context.Context, _ events.EventContext) (*pipeline.Receipt, error) {
	return nil, c.err
}

func (c *failingCommitter) Retrieve(_ context.Context, _ int) ([]commitment.Fields, error) {
	return nil, c.err
}

type unhealthyWallet struct{}

func (w *unhealthyWallet) TestConnection(_ context.Context) error {
	return errors.New("server selection timeout")
}

func (w *unhealthyWallet) Balance(_ context.Context) (int64, error) {
	return 0, nil
}
