package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defi-risk-monitor/internal/adapter"
	"github.com/defi-risk-monitor/internal/aggregator"
	"github.com/defi-risk-monitor/internal/chain"
	"github.com/defi-risk-monitor/internal/lending"
	"github.com/defi-risk-monitor/internal/report"
	"github.com/defi-risk-monitor/internal/risk"
	"github.com/defi-risk-monitor/internal/types"
)

type fakeAdapter struct {
	positions []types.Position
}

func (f *fakeAdapter) Protocol() types.ProtocolID       { return types.ProtocolLido }
func (f *fakeAdapter) SupportedChains() []types.ChainID { return []types.ChainID{types.ChainEthereum} }
func (f *fakeAdapter) SupportsContract(ctx context.Context, c types.ChainID, contract string) (bool, error) {
	return false, nil
}

func (f *fakeAdapter) Positions(ctx context.Context, c types.ChainID, owner string) ([]types.Position, error) {
	return f.positions, nil
}

type nilStateReader struct{}

func (nilStateReader) SupportsChain(c types.ChainID) bool { return true }
func (nilStateReader) TokenMetadata(ctx context.Context, c types.ChainID, token string) (*chain.TokenMetadata, error) {
	return nil, fmt.Errorf("unavailable")
}
func (nilStateReader) TokenBalance(ctx context.Context, c types.ChainID, token, owner string) (*big.Int, error) {
	return big.NewInt(0), nil
}
func (nilStateReader) PoolState(ctx context.Context, c types.ChainID, pool string) (*types.PoolState, error) {
	return nil, fmt.Errorf("unavailable")
}
func (nilStateReader) EnumeratePositions(ctx context.Context, c types.ChainID, protocol types.ProtocolID, owner string) ([]chain.RawPosition, error) {
	return nil, nil
}

type fakeAlertStore struct {
	alerts     []types.Alert
	resolveErr error
}

func (f *fakeAlertStore) ListForUser(ctx context.Context, userID string, unresolvedOnly bool, limit int) ([]types.Alert, error) {
	return f.alerts, nil
}

func (f *fakeAlertStore) Resolve(ctx context.Context, userID, alertID string) error {
	return f.resolveErr
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(ctx context.Context) error { return f.err }

func stakePosition(value float64) types.Position {
	p := types.Position{
		Protocol:    types.ProtocolLido,
		Chain:       types.ChainEthereum,
		PoolAddress: "0xsteth",
		Owner:       "0xowner",
		Kind:        types.PositionKindStake,
		Token0:      types.TokenAmount{Symbol: "stETH", Decimals: 18, Amount: 1, PriceUSD: value, ValueUSD: value},
	}
	p.ID = types.PositionID(p.Protocol, p.Chain, p.PoolAddress, p.Owner)
	return p
}

func newTestServer(t *testing.T, positions []types.Position, alerts AlertStore, pingers map[string]Pinger) *Server {
	t.Helper()
	registry := adapter.NewRegistry()
	require.NoError(t, registry.Register(&fakeAdapter{positions: positions}))

	agg := aggregator.New(registry, []types.ChainID{types.ChainEthereum})
	calc := risk.NewCalculator()
	reports := report.NewBuilder(agg, nilStateReader{}, calc, lending.NewManager(nil), nil)

	return NewServer("127.0.0.1:0", agg, reports, alerts, nil, pingers)
}

func doRequest(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, nil, nil, nil)
	rec := doRequest(t, s, http.MethodGet, "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestReadyReportsFailingDependency(t *testing.T) {
	pingers := map[string]Pinger{
		"postgres": fakePinger{},
		"redis":    fakePinger{err: fmt.Errorf("connection refused")},
	}
	s := newTestServer(t, nil, nil, pingers)
	rec := doRequest(t, s, http.MethodGet, "/ready")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var checks map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &checks))
	assert.Equal(t, "ok", checks["postgres"])
	assert.Contains(t, checks["redis"], "connection refused")
}

func TestPortfolioReturnsPositions(t *testing.T) {
	s := newTestServer(t, []types.Position{stakePosition(10_000)}, nil, nil)
	rec := doRequest(t, s, http.MethodGet, "/api/v1/portfolio/0xowner")

	require.Equal(t, http.StatusOK, rec.Code)

	var summary types.PortfolioSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Len(t, summary.Positions, 1)
	assert.InDelta(t, 10_000, summary.TotalValueUSD, 1e-6)

	// The portfolio path runs no risk scoring; a zero score must be omitted
	// rather than served as a real value.
	assert.NotContains(t, rec.Body.String(), "overallRiskScore")
}

func TestPortfolioEmptyIsOKNotError(t *testing.T) {
	s := newTestServer(t, nil, nil, nil)
	rec := doRequest(t, s, http.MethodGet, "/api/v1/portfolio/0xnobody")

	require.Equal(t, http.StatusOK, rec.Code, "an address with no positions is not an error")

	var summary types.PortfolioSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Empty(t, summary.Positions)
	assert.Equal(t, "0xnobody", summary.Owner)
}

func TestListAlertsWithoutStoreIsNotImplemented(t *testing.T) {
	s := newTestServer(t, nil, nil, nil)
	rec := doRequest(t, s, http.MethodGet, "/api/v1/users/user-1/alerts")

	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestListAlerts(t *testing.T) {
	store := &fakeAlertStore{alerts: []types.Alert{{ID: "a-1", UserID: "user-1"}}}
	s := newTestServer(t, nil, store, nil)
	rec := doRequest(t, s, http.MethodGet, "/api/v1/users/user-1/alerts?unresolved=true")

	require.Equal(t, http.StatusOK, rec.Code)

	var alerts []types.Alert
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &alerts))
	require.Len(t, alerts, 1)
	assert.Equal(t, "a-1", alerts[0].ID)
}

func TestResolveAlertNotFound(t *testing.T) {
	store := &fakeAlertStore{resolveErr: types.NewServiceError("ALERT_NOT_FOUND", "no such alert")}
	s := newTestServer(t, nil, store, nil)
	rec := doRequest(t, s, http.MethodPost, "/api/v1/users/user-1/alerts/a-404/resolve")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResolveAlertSucceeds(t *testing.T) {
	s := newTestServer(t, nil, &fakeAlertStore{}, nil)
	rec := doRequest(t, s, http.MethodPost, "/api/v1/users/user-1/alerts/a-1/resolve")

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReportEndpoint(t *testing.T) {
	s := newTestServer(t, []types.Position{stakePosition(5_000)}, nil, nil)
	rec := doRequest(t, s, http.MethodGet, "/api/v1/users/user-1/report/0xowner")

	require.Equal(t, http.StatusOK, rec.Code)

	var doc report.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "user-1", doc.UserID)
	require.NotNil(t, doc.Portfolio)
	assert.Len(t, doc.Portfolio.Positions, 1)
	assert.Greater(t, doc.Portfolio.OverallRiskScore, 0.0,
		"the report path scores the portfolio")
	assert.False(t, doc.GeneratedAt.IsZero())
}

func TestReportForEmptyAddressIsNotFound(t *testing.T) {
	s := newTestServer(t, nil, nil, nil)
	rec := doRequest(t, s, http.MethodGet, "/api/v1/users/user-1/report/0xnobody")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
