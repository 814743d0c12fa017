package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-commerce-sync/internal/adapter"
	"ms-commerce-sync/internal/analytics"
	"ms-commerce-sync/internal/audit"
	"ms-commerce-sync/internal/auth"
	"ms-commerce-sync/internal/backfill"
	"ms-commerce-sync/internal/config"
	"ms-commerce-sync/internal/identity"
	"ms-commerce-sync/internal/ingest"
	"ms-commerce-sync/internal/kafka"
	"ms-commerce-sync/internal/logger"
	"ms-commerce-sync/internal/models"
	"ms-commerce-sync/internal/payments"
	"ms-commerce-sync/internal/payments/storage"
	"ms-commerce-sync/internal/reconcile"
	"ms-commerce-sync/internal/warehouse"
)

const (
	testWebhookSecret = "hook-secret"
	testJWTSecret     = "admin-secret"
)

type nopPaymentStore struct{}

func (nopPaymentStore) SavePayment(context.Context, *models.PaymentRecord) error { return nil }
func (nopPaymentStore) GetPayment(context.Context, string) (*models.PaymentRecord, error) {
	return nil, storage.ErrPaymentNotFound
}
func (nopPaymentStore) ListByOrder(context.Context, string) ([]models.PaymentRecord, error) {
	return nil, nil
}
func (nopPaymentStore) ListByWindow(context.Context, string, time.Time, time.Time) ([]models.PaymentRecord, error) {
	return nil, nil
}
func (nopPaymentStore) Close() error       { return nil }
func (nopPaymentStore) HealthCheck() error { return nil }

func setupServer(t *testing.T) *httptest.Server {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, "file::memory:?cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { sqldb.Close() })

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	ctx := context.Background()
	for _, model := range []any{
		(*models.Order)(nil), (*models.OrderLine)(nil), (*models.Event)(nil),
		(*models.CustomerIdentity)(nil), (*models.IngestAudit)(nil), (*models.DailyRollup)(nil),
	} {
		require.NoError(t, bunDB.ResetModel(ctx, model))
	}

	srcCfg := config.SourceConfig{WebhookSecret: testWebhookSecret, PageSize: 50, RequestTimeout: time.Second}
	adapters := map[string]adapter.Adapter{
		models.ChannelStorefront: adapter.NewStorefront(srcCfg),
		models.ChannelPOS:        adapter.NewPOS(srcCfg),
		models.ChannelBooking:    adapter.NewBooking(srcCfg),
	}

	log := logger.NewSilent()
	wh := warehouse.NewDB(bunDB)
	audits := audit.NewStore(bunDB)
	pay := payments.NewService(nopPaymentStore{}, wh, log)
	ingestSvc := ingest.NewService(adapters, identity.NewResolver("pii-key"), wh, pay, audits, log)

	handler := &Handler{
		Ingest:       ingestSvc,
		Orchestrator: backfill.NewOrchestrator(adapters, ingestSvc, audits, nil, log),
		Engine:       reconcile.NewEngine(adapters, wh, kafka.NewMockProducer(log), audits, log),
		Audits:       audits,
		Analytics:    analytics.NewService(bunDB, log),
		Log:          log,
	}

	adminAuth, err := auth.Middleware(config.AdminConfig{JWTSecret: testJWTSecret}, log)
	require.NoError(t, err)

	server := httptest.NewServer(handler.Routes(adminAuth))
	t.Cleanup(server.Close)
	return server
}

func signedWebhook(t *testing.T, server *httptest.Server, body string) *http.Request {
	t.Helper()
	req, err := http.NewRequest("POST", server.URL+"/api/v1/webhooks/storefront", strings.NewReader(body))
	require.NoError(t, err)

	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write([]byte(body))
	req.Header.Set(adapter.StorefrontSignatureHeader, base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	return req
}

const validOrderBody = `{
	"id": 777,
	"created_at": "2026-08-01T10:00:00Z",
	"total_price": "42.00",
	"line_items": [{"id": 1, "sku": "TEE", "title": "Tee", "quantity": 1, "price": "42.00"}]
}`

func TestWebhookStatusCodes(t *testing.T) {
	server := setupServer(t)
	client := server.Client()

	// Valid signed delivery.
	res, err := client.Do(signedWebhook(t, server, validOrderBody))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	// Unsigned delivery.
	res, err = client.Post(server.URL+"/api/v1/webhooks/storefront", "application/json", strings.NewReader(validOrderBody))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	// Signed but malformed payload.
	res, err = client.Do(signedWebhook(t, server, `{"id": 0}`))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)

	// Unknown source.
	res, err = client.Post(server.URL+"/api/v1/webhooks/marketplace", "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusUnprocessableEntity, res.StatusCode)
}

func TestAdminRoutesRequireToken(t *testing.T) {
	server := setupServer(t)
	client := server.Client()

	res, err := client.Get(server.URL + "/api/v1/admin/audits")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	token, err := auth.IssueSharedSecretToken("ops", testJWTSecret, time.Minute)
	require.NoError(t, err)

	req, err := http.NewRequest("GET", server.URL+"/api/v1/admin/audits", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	res, err = client.Do(req)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestAdminIntegrityAndAnalytics(t *testing.T) {
	server := setupServer(t)
	client := server.Client()

	res, err := client.Do(signedWebhook(t, server, validOrderBody))
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	token, err := auth.IssueSharedSecretToken("ops", testJWTSecret, time.Minute)
	require.NoError(t, err)
	do := func(method, path string) (*http.Response, error) {
		req, err := http.NewRequest(method, server.URL+path, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return client.Do(req)
	}

	res, err = do("GET", "/api/v1/admin/integrity")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, err = do("POST", "/api/v1/admin/rollups/refresh?start=2026-08-01&end=2026-08-01")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, err = do("GET", "/api/v1/analytics/totals?start=2026-08-01&end=2026-08-01")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	var payload struct {
		Data struct {
			OrdersCount int `json:"orders_count"`
		} `json:"data"`
	}
	require.NoError(t, json.NewDecoder(res.Body).Decode(&payload))
	assert.Equal(t, 1, payload.Data.OrdersCount)

	res, err = do("GET", "/api/v1/admin/orders/storefront_order_777")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, err = do("GET", "/api/v1/admin/orders/nope")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}
