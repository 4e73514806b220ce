package middleware

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/escrow-invite-ledger/internal/platform/auth"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	issuer := auth.NewTokenIssuer("middleware-test-secret-0123456789", "escrow-test", time.Hour)
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	accountID := uuid.New()
	valid, err := issuer.Issue(accountID, time.Now())
	require.NoError(t, err)
	expired, err := issuer.Issue(accountID, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)

	testCases := []struct {
		name       string
		header     string
		wantStatus int
	}{
		{"valid token", "Bearer " + valid, http.StatusOK},
		{"lower-case scheme", "bearer " + valid, http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + valid, http.StatusUnauthorized},
		{"expired token", "Bearer " + expired, http.StatusUnauthorized},
		{"garbage", "Bearer not.a.jwt", http.StatusUnauthorized},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			router := gin.New()
			router.Use(Auth(issuer, logger))

			var seen uuid.UUID
			router.GET("/me", func(c *gin.Context) {
				seen, _ = AccountID(c)
				c.Status(http.StatusOK)
			})

			req, _ := http.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			assert.Equal(t, tc.wantStatus, rr.Code)
			if tc.wantStatus == http.StatusOK {
				assert.Equal(t, accountID, seen)
			} else {
				assert.Contains(t, rr.Body.String(), `"code":"UNAUTHORIZED"`)
			}
		})
	}
}

func TestAccountID_Absent(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	_, ok := AccountID(c)
	assert.False(t, ok)
}
