package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenfi/factorpool/internal/asset/memasset"
	"github.com/lumenfi/factorpool/internal/authz"
	"github.com/lumenfi/factorpool/internal/domain"
	"github.com/lumenfi/factorpool/internal/ledger"
	"github.com/lumenfi/factorpool/internal/pool"
	"github.com/lumenfi/factorpool/internal/registry"
	"github.com/lumenfi/factorpool/internal/server/handler"
	"github.com/lumenfi/factorpool/internal/settlement"
	"github.com/lumenfi/factorpool/internal/treasury"
)

var (
	operator = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	lp       = common.HexToAddress("0x1111111111111111111111111111111111111111")
	supplier = common.HexToAddress("0x2222222222222222222222222222222222222222")
	buyer    = common.HexToAddress("0x3333333333333333333333333333333333333333")
	poolAcct = common.HexToAddress("0x4444444444444444444444444444444444444444")
)

func newTestServer(t *testing.T) (*httptest.Server, *memasset.Ledger) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	reg := registry.New(logger, registry.WithClock(clock))
	p := pool.New(pool.Config{}, logger)
	alloc := treasury.New(treasury.Config{}, logger, treasury.WithClock(clock))
	p.SetTreasuryManager(alloc)

	tokens := memasset.NewLedger()
	asset := tokens.Account(poolAcct)
	coord := settlement.New(reg, p, asset, poolAcct, logger, settlement.WithClock(clock))

	roles := authz.NewStatic(map[domain.Role][]common.Address{
		domain.RoleOperator: {operator},
		domain.RoleLP:       {lp},
	})

	led := ledger.New(ledger.Deps{
		Registry:    reg,
		Pool:        p,
		Treasury:    alloc,
		Coordinator: coord,
		Asset:       asset,
		Authz:       roles,
		PoolAccount: poolAcct,
		Logger:      logger,
	}, ledger.WithClock(clock))

	handlers := Handlers{
		Health:     handler.NewHealthHandler(nil, logger),
		Invoices:   handler.NewInvoiceHandler(led, logger),
		Settlement: handler.NewSettlementHandler(led, logger),
		Pool:       handler.NewPoolHandler(led, logger),
		Treasury:   handler.NewTreasuryHandler(led, logger),
		Stats:      handler.NewStatsHandler(led, logger),
	}

	srv := New(Config{Port: 0}, handlers, nil, logger)
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	return ts, tokens
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	body := decodeBody(t, resp)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestInvoiceLifecycleOverHTTP(t *testing.T) {
	ts, tokens := newTestServer(t)

	// Seed the pool with LP capital.
	tokens.Mint(lp, uint256.NewInt(1_000_000))
	resp := postJSON(t, ts.URL+"/api/pool/deposit", map[string]string{
		"caller": lp.Hex(),
		"amount": "1000000",
	})
	body := decodeBody(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1000000", body["shares"])

	// Create an invoice.
	resp = postJSON(t, ts.URL+"/api/invoices", map[string]any{
		"supplier":          supplier.Hex(),
		"buyer":             buyer.Hex(),
		"face_value":        "1000000",
		"discount_rate_bps": 500,
		"maturity_date":     time.Date(2026, 5, 31, 0, 0, 0, 0, time.UTC),
	})
	body = decodeBody(t, resp)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "pending", body["status"])
	id := uint64(body["id"].(float64))

	// Buyer approves, operator clears and funds.
	for _, step := range []struct {
		path   string
		caller common.Address
	}{
		{"approve", buyer},
		{"approve-funding", operator},
		{"fund", operator},
	} {
		resp = postJSON(t, fmt.Sprintf("%s/api/invoices/%d/%s", ts.URL, id, step.path), map[string]string{
			"caller": step.caller.Hex(),
		})
		body = decodeBody(t, resp)
		require.Equal(t, http.StatusOK, resp.StatusCode, "step %s: %v", step.path, body)
	}
	assert.Equal(t, "funded", body["status"])
	assert.Equal(t, "995891", body["funding_amount"])
	assert.Equal(t, "995891", tokens.Balance(supplier).Dec())

	// Buyer repays face value.
	tokens.Mint(buyer, uint256.NewInt(1_000_000))
	resp = postJSON(t, fmt.Sprintf("%s/api/invoices/%d/repay", ts.URL, id), map[string]string{
		"caller": buyer.Hex(),
	})
	body = decodeBody(t, resp)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "paid", body["status"])

	// Pool reflects the yield.
	resp, err := http.Get(ts.URL + "/api/pool")
	require.NoError(t, err)
	body = decodeBody(t, resp)
	poolBody := body["pool"].(map[string]any)
	assert.Equal(t, "1004109", poolBody["total_assets"])
}

func TestDomainErrorsMapToStatusCodes(t *testing.T) {
	ts, _ := newTestServer(t)

	// Unknown invoice.
	resp, err := http.Get(ts.URL + "/api/invoices/42")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Unauthorized halt attempt.
	resp = postJSON(t, ts.URL+"/api/pool/halt", map[string]string{"caller": lp.Hex()})
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// Malformed amount.
	resp = postJSON(t, ts.URL+"/api/pool/deposit", map[string]string{
		"caller": lp.Hex(),
		"amount": "one hundred",
	})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuthMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handlers := Handlers{Health: handler.NewHealthHandler(nil, logger)}
	srv := New(Config{Port: 0, APIKeys: []string{"sekrit"}}, handlers, nil, logger)
	ts := httptest.NewServer(srv.httpServer.Handler)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, ts.URL+"/api/health", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "sekrit")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
