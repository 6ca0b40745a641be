package sandbox

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExecuteSuccess(t *testing.T) {
	executor := NewExecutor(nil)
	result := executor.Execute(context.Background(), `
		variables.total = variables.price * 2;
		return variables.total;
	`, map[string]any{"price": 10.0}, 1000)

	require.True(t, result.Success)
	require.EqualValues(t, 20, result.Value)
	require.EqualValues(t, 20, result.Variables["total"])
	require.EqualValues(t, 10, result.Variables["price"])
}

func TestExecuteTimeoutBusyLoop(t *testing.T) {
	executor := NewExecutor(nil)
	start := time.Now()
	result := executor.Execute(context.Background(), `while (true) {}`, nil, 200)
	elapsed := time.Since(start)

	require.False(t, result.Success)
	require.Equal(t, "timeout", result.Error)
	require.Nil(t, result.Variables)
	require.Less(t, elapsed, 2*time.Second)
}

func TestExecuteTimeoutUnsettledPromise(t *testing.T) {
	executor := NewExecutor(nil)
	result := executor.Execute(context.Background(), `await new Promise(() => {});`, map[string]any{"a": 1.0}, 150)

	require.False(t, result.Success)
	require.Equal(t, "timeout", result.Error)
	require.Nil(t, result.Variables)
}

func TestExecuteAtomicityOnThrow(t *testing.T) {
	executor := NewExecutor(nil)
	result := executor.Execute(context.Background(), `
		variables.written = "partial";
		throw new Error("boom");
	`, map[string]any{"kept": true}, 1000)

	require.False(t, result.Success)
	require.Contains(t, result.Error, "boom")
	require.Nil(t, result.Variables)
}

func TestExecuteRejection(t *testing.T) {
	executor := NewExecutor(nil)
	result := executor.Execute(context.Background(), `
		await Promise.reject(new Error("rejected downstream"));
	`, nil, 1000)

	require.False(t, result.Success)
	require.Contains(t, result.Error, "rejected downstream")
}

func TestExecuteSeedIsSnapshot(t *testing.T) {
	vars := map[string]any{"contact": map[string]any{"phone": "123"}}
	executor := NewExecutor(nil)
	result := executor.Execute(context.Background(), `
		variables.contact.phone = "999";
		throw new Error("discard me");
	`, vars, 1000)

	require.False(t, result.Success)
	require.Equal(t, "123", vars["contact"].(map[string]any)["phone"])
}

func TestExecuteHttpRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "POST", r.Method)
		require.Equal(t, "token-1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"orderId": "ord-42"}`))
	}))
	defer server.Close()

	executor := NewExecutor(server.Client())
	result := executor.Execute(context.Background(), `
		const resp = await httpRequest({
			url: "`+server.URL+`",
			method: "post",
			headers: {"Authorization": "token-1"},
			body: {q: 1},
		});
		variables.orderId = resp.json.orderId;
		return resp.status;
	`, nil, 5000)

	require.True(t, result.Success, result.Error)
	require.EqualValues(t, 200, result.Value)
	require.Equal(t, "ord-42", result.Variables["orderId"])
}

func TestExecuteHttpTimeoutCountsAgainstWallClock(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer server.Close()

	executor := NewExecutor(server.Client())
	start := time.Now()
	result := executor.Execute(context.Background(), `
		await httpRequest({url: "`+server.URL+`"});
		variables.done = true;
	`, nil, 300)

	require.False(t, result.Success)
	require.Equal(t, "timeout", result.Error)
	require.Nil(t, result.Variables)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestExecuteNoAmbientCapabilities(t *testing.T) {
	executor := NewExecutor(nil)
	for _, script := range []string{
		`require("fs")`,
		`process.exit(1)`,
		`fetch("https://example.com")`,
	} {
		result := executor.Execute(context.Background(), script, nil, 500)
		require.False(t, result.Success, script)
	}
}

func TestClampTimeout(t *testing.T) {
	require.Equal(t, MIN_TIMEOUT_MS, ClampTimeout(5))
	require.Equal(t, MAX_TIMEOUT_MS, ClampTimeout(600000))
	require.Equal(t, 1500, ClampTimeout(1500))
}
