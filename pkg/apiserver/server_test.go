package apiserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/billforge/billforge/pkg/config"
	"github.com/billforge/billforge/pkg/store/memory"
)

type healthResponse struct {
	Status string `json:"status"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Field     string `json:"field"`
	Resource  string `json:"resource"`
	Retryable bool   `json:"retryable"`
}

type idResponse struct {
	ID string `json:"id"`
}

func testConfig() *config.Config {
	return &config.Config{
		Auth:    config.AuthConfig{JWTSecret: "test-secret", TokenTTL: time.Hour, Issuer: "billforge"},
		Store:   config.StoreConfig{TxTimeout: 5 * time.Second},
		Invoice: config.InvoiceConfig{PadWidth: 6, Separator: "-", MaxAttempts: 4, BaseBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond},
		Integrity: config.IntegrityConfig{SoftDeleteIsDelete: true},
	}
}

func newTestServer() *Server {
	return NewServer(memory.NewStore(), nil, testConfig(), zap.NewNop(), nil)
}

func do(t *testing.T, s *Server, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	s.Router().ServeHTTP(recorder, req)
	return recorder
}

func decode(t *testing.T, recorder *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(recorder.Body.Bytes(), out); err != nil {
		t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
	}
}

func expectStatus(t *testing.T, recorder *httptest.ResponseRecorder, status int) {
	t.Helper()
	if recorder.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, recorder.Code, recorder.Body.String())
	}
}

func signup(t *testing.T, s *Server, email, plan string) string {
	t.Helper()
	recorder := do(t, s, http.MethodPost, "/api/v1/tenants", "", map[string]string{
		"name": "Acme", "email": email, "mobile": email + "-mobile", "plan_type": plan,
	})
	expectStatus(t, recorder, http.StatusCreated)
	var response struct {
		Token string `json:"token"`
	}
	decode(t, recorder, &response)
	if response.Token == "" {
		t.Fatalf("expected a token in the signup response")
	}
	return response.Token
}

func TestHealthEndpoint(t *testing.T) {
	server := NewServer(memory.NewStore(), nil, &config.Config{}, zap.NewNop(), nil)

	recorder := do(t, server, http.MethodGet, "/health", "", nil)
	expectStatus(t, recorder, http.StatusOK)

	var response healthResponse
	decode(t, recorder, &response)
	if response.Status != "ok" {
		t.Fatalf("expected status ok, got %q", response.Status)
	}
}

func TestAPIAuthRequired(t *testing.T) {
	server := newTestServer()

	recorder := do(t, server, http.MethodGet, "/api/v1/organisations", "", nil)
	expectStatus(t, recorder, http.StatusUnauthorized)

	var response errorResponse
	decode(t, recorder, &response)
	if response.Error != "missing authorization" {
		t.Fatalf("expected missing authorization error, got %q", response.Error)
	}

	recorder = do(t, server, http.MethodGet, "/api/v1/organisations", "not-a-jwt", nil)
	expectStatus(t, recorder, http.StatusUnauthorized)
}

func TestOrganisationQuotaAndTenantRestrict(t *testing.T) {
	server := newTestServer()
	token := signup(t, server, "owner@acme.test", "starter")

	recorder := do(t, server, http.MethodPost, "/api/v1/organisations", token, map[string]string{"name": "Main"})
	expectStatus(t, recorder, http.StatusCreated)
	var org idResponse
	decode(t, recorder, &org)

	recorder = do(t, server, http.MethodPost, "/api/v1/organisations", token, map[string]string{"name": "Second"})
	expectStatus(t, recorder, http.StatusForbidden)
	var quotaErr errorResponse
	decode(t, recorder, &quotaErr)
	if quotaErr.Error != "quota exceeded" || quotaErr.Resource != "organisations" {
		t.Fatalf("unexpected quota response %+v", quotaErr)
	}

	recorder = do(t, server, http.MethodDelete, "/api/v1/tenant", token, nil)
	expectStatus(t, recorder, http.StatusConflict)

	recorder = do(t, server, http.MethodDelete, "/api/v1/organisations/"+org.ID, token, nil)
	expectStatus(t, recorder, http.StatusOK)

	recorder = do(t, server, http.MethodDelete, "/api/v1/tenant", token, nil)
	expectStatus(t, recorder, http.StatusOK)
}

func TestBranchesAndEntities(t *testing.T) {
	server := newTestServer()
	token := signup(t, server, "shop@acme.test", "starter")

	recorder := do(t, server, http.MethodPost, "/api/v1/organisations", token, map[string]string{"name": "Main"})
	expectStatus(t, recorder, http.StatusCreated)
	var org idResponse
	decode(t, recorder, &org)
	orgPath := "/api/v1/organisations/" + org.ID

	recorder = do(t, server, http.MethodPost, orgPath+"/branches", token, map[string]string{"name": "Downtown", "branch_code": "dt01"})
	expectStatus(t, recorder, http.StatusCreated)
	recorder = do(t, server, http.MethodPost, orgPath+"/branches", token, map[string]string{"name": "Uptown", "branch_code": "up01"})
	expectStatus(t, recorder, http.StatusForbidden)

	recorder = do(t, server, http.MethodPost, orgPath+"/entities/product", token, map[string]interface{}{
		"name": "Coffee", "sku": "cof-1", "price": "3.50",
	})
	expectStatus(t, recorder, http.StatusCreated)
	var product idResponse
	decode(t, recorder, &product)

	recorder = do(t, server, http.MethodPost, orgPath+"/entities/product", token, map[string]interface{}{
		"name": "Coffee again", "sku": "COF-1",
	})
	expectStatus(t, recorder, http.StatusConflict)

	recorder = do(t, server, http.MethodPost, orgPath+"/entities/widget", token, map[string]interface{}{"name": "x"})
	expectStatus(t, recorder, http.StatusBadRequest)

	recorder = do(t, server, http.MethodDelete, orgPath+"/entities/product/"+product.ID, token, nil)
	expectStatus(t, recorder, http.StatusOK)

	recorder = do(t, server, http.MethodGet, orgPath+"/entities/product", token, nil)
	expectStatus(t, recorder, http.StatusOK)
	var list struct {
		Total int64 `json:"total"`
	}
	decode(t, recorder, &list)
	if list.Total != 0 {
		t.Fatalf("expected deleted product to be hidden, got %d", list.Total)
	}

	recorder = do(t, server, http.MethodGet, orgPath+"/entities/product?include_deleted=true", token, nil)
	expectStatus(t, recorder, http.StatusOK)
	decode(t, recorder, &list)
	if list.Total != 1 {
		t.Fatalf("expected deleted product with include_deleted, got %d", list.Total)
	}

	recorder = do(t, server, http.MethodPost, orgPath+"/entities/product/"+product.ID+"/restore", token, nil)
	expectStatus(t, recorder, http.StatusOK)
}

func TestInvoiceFlow(t *testing.T) {
	server := newTestServer()
	token := signup(t, server, "billing@acme.test", "standard")

	recorder := do(t, server, http.MethodPost, "/api/v1/organisations", token, map[string]string{"name": "Main"})
	expectStatus(t, recorder, http.StatusCreated)
	var org idResponse
	decode(t, recorder, &org)
	orgPath := "/api/v1/organisations/" + org.ID

	recorder = do(t, server, http.MethodPut, orgPath+"/invoice-sequences/INV", token, map[string]int64{"last_number": 41})
	expectStatus(t, recorder, http.StatusOK)

	recorder = do(t, server, http.MethodPost, orgPath+"/invoices", token, map[string]interface{}{
		"prefix":        "INV",
		"customer_name": "Jane",
		"lines": []map[string]interface{}{
			{"description": "Coffee", "quantity": 2, "unit_price": "3.50", "tax_rate": "10"},
		},
	})
	expectStatus(t, recorder, http.StatusCreated)
	var issued struct {
		ID     string `json:"id"`
		Number string `json:"number"`
		Total  string `json:"total"`
	}
	decode(t, recorder, &issued)
	if issued.Number != "INV-000042" {
		t.Fatalf("expected INV-000042, got %s", issued.Number)
	}
	if issued.Total != "7.7" {
		t.Fatalf("expected total 7.7, got %s", issued.Total)
	}

	recorder = do(t, server, http.MethodPost, orgPath+"/invoice-numbers", token, map[string]string{"prefix": "INV"})
	expectStatus(t, recorder, http.StatusCreated)
	var number struct {
		Formatted string `json:"formatted"`
	}
	decode(t, recorder, &number)
	if number.Formatted != "INV-000043" {
		t.Fatalf("expected INV-000043, got %s", number.Formatted)
	}

	recorder = do(t, server, http.MethodPost, orgPath+"/invoices/"+issued.ID+"/void", token, nil)
	expectStatus(t, recorder, http.StatusOK)
	recorder = do(t, server, http.MethodPost, orgPath+"/invoices/"+issued.ID+"/void", token, nil)
	expectStatus(t, recorder, http.StatusBadRequest)

	recorder = do(t, server, http.MethodPost, orgPath+"/invoices", token, map[string]interface{}{
		"prefix": "INV", "lines": []map[string]interface{}{},
	})
	expectStatus(t, recorder, http.StatusBadRequest)

	recorder = do(t, server, http.MethodGet, "/api/v1/invoice-sequences", token, nil)
	expectStatus(t, recorder, http.StatusOK)
}

func TestCrossTenantOrganisationIsHidden(t *testing.T) {
	server := newTestServer()
	first := signup(t, server, "a@acme.test", "starter")
	second := signup(t, server, "b@acme.test", "starter")

	recorder := do(t, server, http.MethodPost, "/api/v1/organisations", first, map[string]string{"name": "Main"})
	expectStatus(t, recorder, http.StatusCreated)
	var org idResponse
	decode(t, recorder, &org)

	recorder = do(t, server, http.MethodGet, "/api/v1/organisations/"+org.ID, second, nil)
	expectStatus(t, recorder, http.StatusNotFound)

	recorder = do(t, server, http.MethodPost, "/api/v1/organisations/"+org.ID+"/entities/category", second, map[string]string{"name": "Drinks"})
	expectStatus(t, recorder, http.StatusBadRequest)
}

func TestInvoiceOfAnotherOrganisationCannotBeDeleted(t *testing.T) {
	server := newTestServer()
	token := signup(t, server, "chain@acme.test", "standard")

	var orgs []idResponse
	for _, name := range []string{"North", "South"} {
		recorder := do(t, server, http.MethodPost, "/api/v1/organisations", token, map[string]string{"name": name})
		expectStatus(t, recorder, http.StatusCreated)
		var org idResponse
		decode(t, recorder, &org)
		orgs = append(orgs, org)
	}
	northPath := "/api/v1/organisations/" + orgs[0].ID
	southPath := "/api/v1/organisations/" + orgs[1].ID

	recorder := do(t, server, http.MethodPost, southPath+"/invoices", token, map[string]interface{}{
		"prefix": "INV",
		"lines":  []map[string]interface{}{{"description": "Tea", "quantity": 1, "unit_price": "2.00"}},
	})
	expectStatus(t, recorder, http.StatusCreated)
	var invoice idResponse
	decode(t, recorder, &invoice)

	recorder = do(t, server, http.MethodDelete, northPath+"/invoices/"+invoice.ID+"?mode=hard", token, nil)
	expectStatus(t, recorder, http.StatusNotFound)

	recorder = do(t, server, http.MethodGet, southPath+"/invoices/"+invoice.ID, token, nil)
	expectStatus(t, recorder, http.StatusOK)

	// The counter is shared, so the first organisation can still be removed.
	recorder = do(t, server, http.MethodDelete, northPath, token, nil)
	expectStatus(t, recorder, http.StatusOK)
}
