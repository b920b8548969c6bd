package container

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/garyjia/po-workflow/internal/domain/entity"
	httpif "github.com/garyjia/po-workflow/internal/interfaces/http"
)

const testSecret = "container-secret"

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "po.db")
	cfg.Server.JWTSecret = testSecret
	cfg.Maintenance.TokenSweepSpec = ""
	cfg.Maintenance.ReminderSpec = ""
	return cfg
}

func bearer(t *testing.T, uid string, role entity.Role) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, httpif.Claims{
		UserID: uid,
		Name:   uid,
		Role:   string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func call(t *testing.T, c *Container, method, path, auth string, body interface{}) (int, json.RawMessage) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	c.Server().Router().ServeHTTP(w, req)

	var env struct {
		Data json.RawMessage `json:"data"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &env)
	return w.Code, env.Data
}

func TestNewContainer_Validation(t *testing.T) {
	_, err := NewContainer(nil, zap.NewNop())
	assert.Error(t, err)

	cfg := testConfig(t)
	cfg.Server.JWTSecret = ""
	_, err = NewContainer(cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "jwt secret")

	cfg = testConfig(t)
	cfg.OpenAI = &OpenAIConfig{}
	_, err = NewContainer(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestContainer_OrderLifecycle(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	c, err := NewContainer(testConfig(t), zap.New(core))
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	assert.True(t, c.Ready())
	assert.Error(t, c.Start(context.Background()))

	health := c.Health()
	assert.True(t, health.Overall, "%+v", health.Components)
	assert.Equal(t, "in-app", health.Components["channels"].Message)

	pm := bearer(t, "pm-1", entity.RolePM)

	code, data := call(t, c, http.MethodPost, "/api/v1/suppliers", pm, map[string]interface{}{
		"name":          "Acme Steel",
		"email":         "orders@acme.example",
		"qualityRating": 4.5,
	})
	require.Equal(t, http.StatusCreated, code, string(data))
	var supplier entity.Supplier
	require.NoError(t, json.Unmarshal(data, &supplier))

	code, data = call(t, c, http.MethodPost, "/api/v1/purchase-orders", pm, map[string]interface{}{
		"projectId":    "proj-1",
		"supplierId":   supplier.ID,
		"deliveryDate": time.Now().Add(14 * 24 * time.Hour).UTC().Format(time.RFC3339),
		"items": []map[string]interface{}{
			{"materialRequestId": "mr-1", "materialName": "Rebar 12mm", "unit": "t", "quantity": 10, "unitCost": 100},
		},
	})
	require.Equal(t, http.StatusCreated, code, string(data))
	var po entity.PurchaseOrder
	require.NoError(t, json.Unmarshal(data, &po))
	assert.Equal(t, "order_sent", string(po.Status))
	assert.Equal(t, "1000", po.TotalCost.String())

	ctx := context.Background()
	tok, err := c.Repositories().Tokens.ActiveForOrder(ctx, po.ID, entity.TokenPurposeResponse, time.Now())
	require.NoError(t, err)
	require.NotNil(t, tok)

	code, data = call(t, c, http.MethodPost, "/api/v1/public/responses/"+tok.Token, "", map[string]interface{}{
		"action": "accept",
		"accept": map[string]interface{}{"unitCost": 90},
	})
	require.Equal(t, http.StatusOK, code, string(data))
	require.NoError(t, json.Unmarshal(data, &po))
	assert.Equal(t, "order_accepted", string(po.Status))
	assert.Equal(t, "900", po.TotalCost.String())
	assert.Equal(t, entity.FinancialCommitted, po.FinancialStatus)

	code, _ = call(t, c, http.MethodPost, "/api/v1/public/responses/"+tok.Token, "", map[string]interface{}{"action": "accept"})
	assert.Equal(t, http.StatusGone, code)

	// audit entries are written by the async side-effect handlers
	require.Eventually(t, func() bool {
		code, data := call(t, c, http.MethodGet, "/api/v1/purchase-orders/"+strconv.FormatInt(po.ID, 10)+"/audit", pm, nil)
		if code != http.StatusOK {
			return false
		}
		var entries []entity.AuditLog
		return json.Unmarshal(data, &entries) == nil && len(entries) >= 2
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, c.Close())
	assert.False(t, c.Ready())
	assert.Error(t, c.Close())
	assert.Positive(t, logs.FilterMessage("Dispatcher closed").Len())
}

func TestContainer_StartFailureReleasesResources(t *testing.T) {
	cfg := testConfig(t)
	cfg.OpenAI = &OpenAIConfig{PromptsPath: filepath.Join(t.TempDir(), "missing.yaml")}
	cfg.OpenAI.APIKey = "sk-test"

	c, err := NewContainer(cfg, zap.NewNop())
	require.NoError(t, err)

	err = c.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "external adapters")
	assert.False(t, c.Ready())
	assert.False(t, c.Health().Overall)
}

func TestConvertToZapFields(t *testing.T) {
	fields := convertToZapFields("order_id", int64(7), 42, "ignored", "error", errors.New("boom"), "dangling")
	require.Len(t, fields, 2)
	assert.Equal(t, "order_id", fields[0].Key)
	assert.Equal(t, "error", fields[1].Key)
	assert.Equal(t, zapcore.ErrorType, fields[1].Type)
}
