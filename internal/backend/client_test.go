package backend

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hydrotreat/invoice-review/internal/capability"
	"github.com/hydrotreat/invoice-review/internal/record"
	"github.com/hydrotreat/invoice-review/internal/session"
)

func testToken(t *testing.T, ttl time.Duration) string {
	t.Helper()
	claims := jwt.MapClaims{"sub": "gate", "exp": time.Now().Add(ttl).Unix()}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return token
}

// fakeBackend mimics the invoice service endpoints the client speaks.
func fakeBackend(t *testing.T) (*httptest.Server, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv, router
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	return NewClient(Config{BaseURL: baseURL, Timeout: 5 * time.Second}, zap.NewNop())
}

func TestClient_Login(t *testing.T) {
	srv, router := fakeBackend(t)
	token := testToken(t, 15*time.Minute)

	router.POST("/login", func(c *gin.Context) {
		var req struct{ Username, Password string }
		require.NoError(t, c.ShouldBindJSON(&req))
		if req.Username == "gate" && req.Password == "pw" {
			c.JSON(http.StatusOK, gin.H{"token": token, "role": "gate"})
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
	})

	client := newTestClient(t, srv.URL)

	sess, err := client.Login(context.Background(), "gate", "pw")
	require.NoError(t, err)
	assert.Equal(t, "gate", sess.Username)
	assert.Equal(t, capability.RoleGate, sess.Role)
	assert.Equal(t, token, sess.Token())

	_, err = client.Login(context.Background(), "gate", "wrong")
	assert.True(t, errors.Is(err, ErrUnauthorized))
}

func TestClient_ExpiredSessionShortCircuits(t *testing.T) {
	srv, router := fakeBackend(t)
	called := false
	router.GET("/get_invoice/:division/:id", func(c *gin.Context) {
		called = true
		c.JSON(http.StatusOK, gin.H{})
	})

	client := newTestClient(t, srv.URL)
	sess := session.New("gate", capability.RoleGate, testToken(t, -time.Minute))

	_, _, err := client.GetInvoice(context.Background(), sess, "water", 42)
	assert.True(t, errors.Is(err, ErrUnauthorized))
	assert.False(t, called, "expired sessions must not reach the backend")
}

func TestClient_MalformedTokenMapsToUnauthorized(t *testing.T) {
	srv, router := fakeBackend(t)
	router.GET("/get_invoice/:division/:id", func(c *gin.Context) {
		// The JWT layer's shape for an unparseable bearer token.
		c.JSON(http.StatusUnprocessableEntity, gin.H{"msg": "Not enough segments"})
	})

	client := newTestClient(t, srv.URL)
	sess := session.New("gate", capability.RoleGate, "corrupt-token")

	_, _, err := client.GetInvoice(context.Background(), sess, "water", 42)
	assert.True(t, errors.Is(err, ErrUnauthorized), "token errors require re-login, got %v", err)
	assert.ErrorContains(t, err, "Not enough segments")
}

func TestClient_UnprocessableDomainErrorStaysRejected(t *testing.T) {
	srv, router := fakeBackend(t)
	router.PUT("/edit_invoice/water/42", func(c *gin.Context) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invoice_date is not a valid date"})
	})

	client := newTestClient(t, srv.URL)
	sess := session.New("gate", capability.RoleGate, testToken(t, time.Hour))

	err := client.EditInvoice(context.Background(), sess, "water", 42, map[string]any{})

	var rejected *RejectedError
	require.True(t, errors.As(err, &rejected), "a 422 without a token reason is a domain rejection, got %v", err)
	assert.Contains(t, rejected.Reason, "valid date")
}

func TestClient_GetInvoice_Normalizes(t *testing.T) {
	srv, router := fakeBackend(t)
	router.GET("/get_invoice/:division/:id", func(c *gin.Context) {
		assert.Contains(t, c.GetHeader("Authorization"), "Bearer ")
		assert.NotEmpty(t, c.GetHeader("X-Request-ID"))
		c.JSON(http.StatusOK, gin.H{
			"id":             42,
			"status":         "pending",
			"invoice_number": "INV-42",
			"data":           `{"line_items":[{"item_description":"Pump","unit_Price":"10"}]}`,
		})
	})

	client := newTestClient(t, srv.URL)
	sess := session.New("gate", capability.RoleGate, testToken(t, time.Hour))

	inv, warnings, err := client.GetInvoice(context.Background(), sess, "water", 42)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, "water", inv.Division, "division tag comes from the request when absent")
	require.Len(t, inv.LineItems, 1)
	assert.Equal(t, "10", inv.LineItems[0].UnitPrice)
}

func TestClient_ListInvoices_BothResponseShapes(t *testing.T) {
	srv, router := fakeBackend(t)
	router.GET("/get_invoices/engineering", func(c *gin.Context) {
		assert.Equal(t, "pending", c.Query("status"))
		c.JSON(http.StatusOK, gin.H{
			"invoices": []gin.H{
				{"id": 1, "status": "pending", "invoice_number": "INV-1"},
				{"id": 2, "status": "pending", "invoice_number": "INV-2"},
			},
			"total": 2, "pages": 1, "current_page": 1,
		})
	})
	router.GET("/get_invoices/water", func(c *gin.Context) {
		c.JSON(http.StatusOK, []gin.H{
			{"id": 3, "status": "pending", "invoice_number": "INV-3"},
		})
	})

	client := newTestClient(t, srv.URL)
	sess := session.New("store", capability.RoleStore, testToken(t, time.Hour))

	paged, err := client.ListInvoices(context.Background(), sess, "engineering", ListQuery{Status: "pending"})
	require.NoError(t, err)
	require.Len(t, paged, 2)
	assert.Equal(t, "engineering", paged[0].Division)
	assert.Equal(t, int64(1), paged[0].ID)

	bare, err := client.ListInvoices(context.Background(), sess, "water", ListQuery{Status: "pending"})
	require.NoError(t, err)
	require.Len(t, bare, 1)
	assert.Equal(t, "water", bare[0].Division)
}

func TestClient_EditInvoice_BackendRejection(t *testing.T) {
	srv, router := fakeBackend(t)
	router.PUT("/edit_invoice/water/42", func(c *gin.Context) {
		c.JSON(http.StatusConflict, gin.H{"error": "Invoice with this number already exists in this division"})
	})

	client := newTestClient(t, srv.URL)
	sess := session.New("gate", capability.RoleGate, testToken(t, time.Hour))

	inv := &record.Invoice{ID: 42, Division: "water", Status: "pending"}
	err := client.EditInvoice(context.Background(), sess, "water", 42, record.WireShape(inv))

	var rejected *RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, http.StatusConflict, rejected.StatusCode)
	assert.Contains(t, rejected.Reason, "already exists")
}

func TestClient_ApproveAndReject(t *testing.T) {
	srv, router := fakeBackend(t)
	var approved, rejected []string
	router.PUT("/approve_invoice/:division/:id", func(c *gin.Context) {
		approved = append(approved, c.Param("division")+"/"+c.Param("id"))
		c.JSON(http.StatusOK, gin.H{"message": "Invoice approved successfully"})
	})
	router.PUT("/reject_invoice/:division/:id", func(c *gin.Context) {
		rejected = append(rejected, c.Param("division")+"/"+c.Param("id"))
		c.JSON(http.StatusOK, gin.H{"message": "Invoice rejected successfully"})
	})

	client := newTestClient(t, srv.URL)
	sess := session.New("store", capability.RoleStore, testToken(t, time.Hour))

	require.NoError(t, client.ApproveInvoice(context.Background(), sess, "water", 42))
	require.NoError(t, client.RejectInvoice(context.Background(), sess, "engineering", 7))
	assert.Equal(t, []string{"water/42"}, approved)
	assert.Equal(t, []string{"engineering/7"}, rejected)
}

func TestClient_NetworkError(t *testing.T) {
	srv, _ := fakeBackend(t)
	client := newTestClient(t, srv.URL)
	srv.Close()

	sess := session.New("gate", capability.RoleGate, testToken(t, time.Hour))
	_, _, err := client.GetInvoice(context.Background(), sess, "water", 42)

	var netErr *NetworkError
	assert.True(t, errors.As(err, &netErr), "transport failures map to NetworkError, got %v", err)
}

type httpClientFunc func(req *http.Request) (*http.Response, error)

func (f httpClientFunc) Do(req *http.Request) (*http.Response, error) {
	return f(req)
}

func TestClient_SetHTTPClient(t *testing.T) {
	client := newTestClient(t, "http://backend.invalid")
	var gotPath string
	client.SetHTTPClient(httpClientFunc(func(req *http.Request) (*http.Response, error) {
		gotPath = req.URL.Path
		return nil, errors.New("transport swapped out")
	}))

	sess := session.New("gate", capability.RoleGate, testToken(t, time.Hour))
	_, _, err := client.GetInvoice(context.Background(), sess, "water", 42)

	var netErr *NetworkError
	require.True(t, errors.As(err, &netErr))
	assert.Equal(t, "/get_invoice/water/42", gotPath)
}

func TestClient_DownloadPDF(t *testing.T) {
	srv, router := fakeBackend(t)
	pdf := []byte("%PDF-1.4 fake body")
	router.GET("/get_pdf/water/42", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/pdf", pdf)
	})

	client := newTestClient(t, srv.URL)
	sess := session.New("user", capability.RoleUser, testToken(t, time.Hour))

	var buf bytes.Buffer
	n, err := client.DownloadPDF(context.Background(), sess, "water", 42, &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(len(pdf)), n)
	assert.Equal(t, pdf, buf.Bytes())
}

func TestClient_RegisterUser(t *testing.T) {
	srv, router := fakeBackend(t)
	router.POST("/register", func(c *gin.Context) {
		var req struct{ Username, Password, Role string }
		require.NoError(t, c.ShouldBindJSON(&req))
		if req.Username == "taken" {
			c.JSON(http.StatusConflict, gin.H{"error": "Username already exists"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{"message": "User registered successfully"})
	})

	client := newTestClient(t, srv.URL)
	sess := session.New("admin", capability.RoleAdmin, testToken(t, time.Hour))

	require.NoError(t, client.RegisterUser(context.Background(), sess, "newuser", "pw", capability.RoleUser))

	err := client.RegisterUser(context.Background(), sess, "taken", "pw", capability.RoleUser)
	var rejected *RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, http.StatusConflict, rejected.StatusCode)
}
