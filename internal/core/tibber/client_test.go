package tibber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testHomeID = "11111111-2222-3333-4444-555555555555"

// testUpstream fakes both the login endpoint and the GraphQL endpoint.
type testUpstream struct {
	t *testing.T

	authCalls atomic.Int64
	gqlCalls  atomic.Int64

	mu         sync.Mutex
	authStatus int
	authDelay  time.Duration
	token      string
	gqlHandler func(w http.ResponseWriter, r *http.Request, call int64)

	auth *httptest.Server
	gql  *httptest.Server
}

func newTestUpstream(t *testing.T) *testUpstream {
	u := &testUpstream{t: t, authStatus: http.StatusOK, token: "tok-1"}

	u.auth = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.authCalls.Add(1)
		u.mu.Lock()
		status, delay, token := u.authStatus, u.authDelay, u.token
		u.mu.Unlock()
		if delay > 0 {
			time.Sleep(delay)
		}
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"token": token})
	}))
	t.Cleanup(u.auth.Close)

	u.gql = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		call := u.gqlCalls.Add(1)
		u.mu.Lock()
		handler := u.gqlHandler
		u.mu.Unlock()
		if handler == nil {
			u.t.Error("unexpected graphql request")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		handler(w, r, call)
	}))
	t.Cleanup(u.gql.Close)

	return u
}

func (u *testUpstream) setAuth(status int, token string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.authStatus = status
	u.token = token
}

func (u *testUpstream) setGQL(handler func(w http.ResponseWriter, r *http.Request, call int64)) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.gqlHandler = handler
}

func (u *testUpstream) client(t *testing.T) *Client {
	t.Helper()
	return New(Config{
		Email:      "user@example.com",
		Password:   "secret",
		AuthURL:    u.auth.URL,
		GraphQLURL: u.gql.URL,
		BaseDelay:  time.Millisecond,
		MaxDelay:   5 * time.Millisecond,
	})
}

func writeData(w http.ResponseWriter, data string) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"data":%s}`, data)
}

func homesData(ids ...string) string {
	type home struct {
		ID       string `json:"id"`
		TimeZone string `json:"timeZone"`
	}
	homes := make([]home, 0, len(ids))
	for _, id := range ids {
		homes = append(homes, home{ID: id, TimeZone: "Europe/Berlin"})
	}
	encoded, _ := json.Marshal(homes)
	return fmt.Sprintf(`{"me":{"homes":%s}}`, encoded)
}

func TestAuthenticateSuccess(t *testing.T) {
	u := newTestUpstream(t)
	c := u.client(t)

	require.NoError(t, c.Authenticate(context.Background()))
	require.Equal(t, int64(1), u.authCalls.Load())

	// Token stays cached, so a second call skips the network.
	require.NoError(t, c.Authenticate(context.Background()))
	require.Equal(t, int64(1), u.authCalls.Load())
}

func TestAuthenticateRejectedCredentials(t *testing.T) {
	u := newTestUpstream(t)
	u.setAuth(http.StatusUnauthorized, "")
	c := u.client(t)

	err := c.Authenticate(context.Background())

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	// A credential rejection is permanent: no retries.
	require.Equal(t, int64(1), u.authCalls.Load())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
}

func TestAuthenticateRetriesTransientFailures(t *testing.T) {
	u := newTestUpstream(t)
	u.setAuth(http.StatusBadGateway, "")
	c := u.client(t)

	err := c.Authenticate(context.Background())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	var authErr *AuthError
	require.False(t, errors.As(err, &authErr))
	require.Equal(t, int64(3), u.authCalls.Load())
}

func TestAuthenticateEmptyToken(t *testing.T) {
	u := newTestUpstream(t)
	u.setAuth(http.StatusOK, "")
	c := u.client(t)

	err := c.Authenticate(context.Background())

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
}

func TestAuthenticateValidatesCredentialsLocally(t *testing.T) {
	u := newTestUpstream(t)
	c := New(Config{
		Email:    "not-an-email",
		Password: "secret",
		AuthURL:  u.auth.URL,
	})

	err := c.Authenticate(context.Background())

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, int64(0), u.authCalls.Load())
}

func TestConcurrentCallersShareOneAuthentication(t *testing.T) {
	u := newTestUpstream(t)
	u.mu.Lock()
	u.authDelay = 100 * time.Millisecond
	u.mu.Unlock()
	u.setGQL(func(w http.ResponseWriter, r *http.Request, call int64) {
		writeData(w, homesData(testHomeID))
	})
	c := u.client(t)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.GetHomes(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	require.Equal(t, int64(1), u.authCalls.Load())
}

func TestGetHomesFiltersRecordsWithoutID(t *testing.T) {
	u := newTestUpstream(t)
	u.setGQL(func(w http.ResponseWriter, r *http.Request, call int64) {
		writeData(w, homesData(testHomeID, "", "66666666-7777-8888-9999-000000000000"))
	})
	c := u.client(t)

	homes, err := c.GetHomes(context.Background())
	require.NoError(t, err)
	require.Len(t, homes, 2)
	require.Equal(t, testHomeID, homes[0].ID)
}

func TestGetHomesServedFromCache(t *testing.T) {
	u := newTestUpstream(t)
	u.setGQL(func(w http.ResponseWriter, r *http.Request, call int64) {
		writeData(w, homesData(testHomeID))
	})
	c := u.client(t)

	first, err := c.GetHomes(context.Background())
	require.NoError(t, err)
	second, err := c.GetHomes(context.Background())
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, int64(1), u.gqlCalls.Load())

	stats := c.CacheStats()
	require.Equal(t, uint64(1), stats.Hits)
}

func TestGetDevicesRejectsMalformedHomeID(t *testing.T) {
	u := newTestUpstream(t)
	c := u.client(t)

	for _, id := range []string{"", "not-a-uuid", "11111111-2222-3333-4444-55555555555"} {
		_, err := c.GetDevices(context.Background(), id)
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
	}

	// Validation failures never reach the network.
	require.Equal(t, int64(0), u.authCalls.Load())
	require.Equal(t, int64(0), u.gqlCalls.Load())
}

func TestGetDevicesFiltersRecordsWithoutType(t *testing.T) {
	u := newTestUpstream(t)
	u.setGQL(func(w http.ResponseWriter, r *http.Request, call int64) {
		writeData(w, `{"me":{"home":{"gizmos":[
			{"id":"d1","title":"Meter","type":"REAL_TIME_METER"},
			{"id":"d2","title":"Mystery","type":""},
			{"id":"d3","title":"Battery","type":"BATTERY"}
		]}}}`)
	})
	c := u.client(t)

	devices, err := c.GetDevices(context.Background(), testHomeID)
	require.NoError(t, err)
	require.Len(t, devices, 2)
	require.Equal(t, "REAL_TIME_METER", devices[0].Type)
	require.Equal(t, "BATTERY", devices[1].Type)
}

func TestGetRewardHistory(t *testing.T) {
	u := newTestUpstream(t)
	u.setGQL(func(w http.ResponseWriter, r *http.Request, call int64) {
		writeData(w, `{"me":{"home":{"gridRewardsHistoryPeriod":{
			"from":"2026-08-01","to":"2026-08-15",
			"batteryRewards":12.5,"vehicleRewards":3.25,
			"totalReward":15.75,"currency":"EUR"
		}}}}`)
	})
	c := u.client(t)

	period, err := c.GetRewardHistory(context.Background(), testHomeID, "2026-08-01", "2026-08-15", false)
	require.NoError(t, err)
	require.NotNil(t, period.Total)
	require.Equal(t, 15.75, *period.Total)
	require.Equal(t, 12.5, *period.Homevolt)
	require.Equal(t, 3.25, *period.EV)
	require.Equal(t, "EUR", *period.Currency)
	require.False(t, period.IsZero())
}

func TestGetRewardHistoryNullPeriod(t *testing.T) {
	u := newTestUpstream(t)
	u.setGQL(func(w http.ResponseWriter, r *http.Request, call int64) {
		writeData(w, `{"me":{"home":{"gridRewardsHistoryPeriod":null}}}`)
	})
	c := u.client(t)

	period, err := c.GetRewardHistory(context.Background(), testHomeID, "2026-08-01", "2026-08-15", false)
	require.NoError(t, err)
	require.True(t, period.IsZero())

	// Null periods are not cached; the next call asks upstream again.
	_, err = c.GetRewardHistory(context.Background(), testHomeID, "2026-08-01", "2026-08-15", false)
	require.NoError(t, err)
	require.Equal(t, int64(2), u.gqlCalls.Load())
}

func TestGetRewardHistoryRejectsBadDates(t *testing.T) {
	u := newTestUpstream(t)
	c := u.client(t)

	_, err := c.GetRewardHistory(context.Background(), testHomeID, "yesterday", "2026-08-15", false)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)

	_, err = c.GetRewardHistory(context.Background(), testHomeID, "2026-08-01", "", false)
	require.ErrorAs(t, err, &apiErr)

	require.Equal(t, int64(0), u.gqlCalls.Load())
}

func TestGraphQLRetriesServerErrors(t *testing.T) {
	u := newTestUpstream(t)
	u.setGQL(func(w http.ResponseWriter, r *http.Request, call int64) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	c := u.client(t)

	_, err := c.GetHomes(context.Background())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, int64(3), u.gqlCalls.Load())
	require.Equal(t, int64(1), u.authCalls.Load())
}

func TestGraphQLRecoversAfterServerError(t *testing.T) {
	u := newTestUpstream(t)
	u.setGQL(func(w http.ResponseWriter, r *http.Request, call int64) {
		if call == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeData(w, homesData(testHomeID))
	})
	c := u.client(t)

	homes, err := c.GetHomes(context.Background())
	require.NoError(t, err)
	require.Len(t, homes, 1)
	require.Equal(t, int64(2), u.gqlCalls.Load())
}

func TestGraphQLReauthenticatesOn401(t *testing.T) {
	u := newTestUpstream(t)
	u.setGQL(func(w http.ResponseWriter, r *http.Request, call int64) {
		if r.Header.Get("Authorization") == "Bearer tok-2" {
			writeData(w, homesData(testHomeID))
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	})
	c := u.client(t)

	// Prime the token cache with tok-1, then invalidate it server-side.
	require.NoError(t, c.Authenticate(context.Background()))
	u.setAuth(http.StatusOK, "tok-2")

	homes, err := c.GetHomes(context.Background())
	require.NoError(t, err)
	require.Len(t, homes, 1)
	require.Equal(t, int64(2), u.authCalls.Load())
	require.Equal(t, int64(2), u.gqlCalls.Load())
}

func TestGraphQLFatalAfterReauthenticatedClientError(t *testing.T) {
	u := newTestUpstream(t)
	u.setGQL(func(w http.ResponseWriter, r *http.Request, call int64) {
		if call == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusForbidden)
	})
	c := u.client(t)

	_, err := c.GetHomes(context.Background())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, int64(2), u.gqlCalls.Load())
}

func TestGraphQLHonorsRetryAfter(t *testing.T) {
	u := newTestUpstream(t)
	u.setGQL(func(w http.ResponseWriter, r *http.Request, call int64) {
		if call == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		writeData(w, homesData(testHomeID))
	})
	c := u.client(t)

	start := time.Now()
	homes, err := c.GetHomes(context.Background())
	require.NoError(t, err)
	require.Len(t, homes, 1)
	require.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
}

func TestGraphQLClientErrorIsFatal(t *testing.T) {
	u := newTestUpstream(t)
	u.setGQL(func(w http.ResponseWriter, r *http.Request, call int64) {
		w.WriteHeader(http.StatusForbidden)
	})
	c := u.client(t)

	_, err := c.GetHomes(context.Background())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	// No retries on non-transient client errors.
	require.Equal(t, int64(1), u.gqlCalls.Load())
}

func TestGraphQLErrorsArrayIsFatal(t *testing.T) {
	u := newTestUpstream(t)
	u.setGQL(func(w http.ResponseWriter, r *http.Request, call int64) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":null,"errors":[{"message":"home not found"}]}`)
	})
	c := u.client(t)

	_, err := c.GetHomes(context.Background())

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Contains(t, apiErr.Message, "home not found")
	require.Equal(t, int64(1), u.gqlCalls.Load())
}

func TestInvalidateCache(t *testing.T) {
	u := newTestUpstream(t)
	u.setGQL(func(w http.ResponseWriter, r *http.Request, call int64) {
		writeData(w, homesData(testHomeID))
	})
	c := u.client(t)

	_, err := c.GetHomes(context.Background())
	require.NoError(t, err)

	c.InvalidateCache()

	_, err = c.GetHomes(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(2), u.gqlCalls.Load())
}

func TestBackoffBounds(t *testing.T) {
	c := New(Config{
		Email:     "user@example.com",
		Password:  "secret",
		BaseDelay: time.Second,
		MaxDelay:  time.Minute,
	})

	for attempt := 0; attempt < 10; attempt++ {
		wait := c.backoff(attempt)
		require.GreaterOrEqual(t, wait, minBackoff)
		// Cap plus maximum jitter.
		require.LessOrEqual(t, wait, time.Duration(float64(time.Minute)*(1+jitterRange)))
	}
}

func TestParseISODate(t *testing.T) {
	for _, value := range []string{
		"2026-08-15",
		"2026-08-15T10:30:00",
		"2026-08-15T10:30:00Z",
		"2026-08-15T10:30:00+02:00",
	} {
		_, err := parseISODate(value)
		require.NoError(t, err, value)
	}

	for _, value := range []string{"", "15.08.2026", "today"} {
		_, err := parseISODate(value)
		require.Error(t, err, value)
	}
}

func TestRetryAfterHeader(t *testing.T) {
	resp := &http.Response{Header: http.Header{}}
	require.Equal(t, time.Duration(0), retryAfter(resp))

	resp.Header.Set("Retry-After", "2.5")
	require.Equal(t, 2500*time.Millisecond, retryAfter(resp))

	resp.Header.Set("Retry-After", "garbage")
	require.Equal(t, time.Duration(0), retryAfter(resp))
}

func TestErrorTaxonomy(t *testing.T) {
	err := newAuthError("authenticate", "invalid email or password", nil)

	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)

	// Every auth error is also an API error.
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, "authenticate", apiErr.Op)
}
