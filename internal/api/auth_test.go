package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/npezzotti/go-chatserver/internal/config"
	"github.com/npezzotti/go-chatserver/internal/database"
	"github.com/npezzotti/go-chatserver/internal/server"
	"github.com/npezzotti/go-chatserver/internal/stats"
	"github.com/npezzotti/go-chatserver/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	return &config.Config{
		ServerAddr:         "localhost:8000",
		MongoURI:           "mongodb://localhost:27017",
		DatabaseName:       "chatserver_test",
		SigningKey:         []byte("test-signing-key"),
		ReconcileInterval:  config.DefaultReconcileInterval,
		MembershipCacheTTL: config.DefaultMembershipCacheTTL,
		MembershipTimeout:  config.DefaultMembershipTimeout,
		IdleSessionTimeout: config.DefaultIdleSessionTimeout,
	}
}

func newTestApp(t *testing.T) (*ChatApp, *database.MockChatRepository) {
	db := &database.MockChatRepository{}

	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Return().Maybe()
	su.On("Incr", mock.Anything).Return().Maybe()
	su.On("Decr", mock.Anything).Return().Maybe()

	logger := testutil.TestLogger(t)
	cfg := testConfig()

	cs, err := server.NewChatServer(logger, db, su, cfg)
	require.NoError(t, err)

	return NewChatApp(http.NewServeMux(), logger, cs, db, cfg), db
}

func TestGenerateAndExtractToken(t *testing.T) {
	app, _ := newTestApp(t)

	token, err := app.generateToken("user-1")
	require.NoError(t, err)

	userId, err := app.extractUserIdFromToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", userId)
}

func TestExtractUserIdFromTokenWrongKey(t *testing.T) {
	app, _ := newTestApp(t)
	other, _ := newTestApp(t)
	other.signingKey = []byte("a-different-key")

	token, err := other.generateToken("user-1")
	require.NoError(t, err)

	_, err = app.extractUserIdFromToken(token)
	assert.Error(t, err, "expected a token signed with a different key to be rejected")
}

func TestExtractUserIdFromTokenGarbage(t *testing.T) {
	app, _ := newTestApp(t)

	_, err := app.extractUserIdFromToken("not-a-token")
	assert.Error(t, err)
}

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := hashPassword("s3cret")
	require.NoError(t, err)

	assert.True(t, checkPassword(hash, "s3cret"))
	assert.False(t, checkPassword(hash, "wrong"))
}

func TestAuthMiddleware(t *testing.T) {
	app, _ := newTestApp(t)

	var gotUserId string
	handler := app.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		gotUserId, _ = UserId(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	t.Run("missing cookie", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler(rr, httptest.NewRequest(http.MethodGet, "/api/auth/session", nil))

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("invalid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
		req.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: "garbage"})

		rr := httptest.NewRecorder()
		handler(rr, req)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("valid token", func(t *testing.T) {
		token, err := app.generateToken("user-1")
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
		req.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: token})

		rr := httptest.NewRecorder()
		handler(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "user-1", gotUserId, "expected the user id from the token on the request context")
	})
}
