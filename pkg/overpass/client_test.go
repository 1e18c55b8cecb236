package overpass

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// testConfig returns a Config pointed at the given endpoints with rate
// limiting effectively disabled so tests run without limiter waits.
func testConfig(endpoints ...string) Config {
	return Config{
		Endpoints:     endpoints,
		RatePerSecond: 1000,
		Burst:         1000,
	}
}

func TestRunQueryFailover(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "mirror one down", http.StatusInternalServerError)
	}))
	defer bad.Close()

	var gotQuery string
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.FormValue("data")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"elements":[{"type":"count","tags":{"total":"3"}}]}`))
	}))
	defer good.Close()

	c := NewClient(testConfig(bad.URL, good.URL))
	raw, err := c.RunQuery(context.Background(), "[out:json];out count;")
	if err != nil {
		t.Fatalf("RunQuery failed despite healthy second mirror: %v", err)
	}
	if gotQuery != "[out:json];out count;" {
		t.Errorf("mirror received query %q, want the form-posted original", gotQuery)
	}
	if got := ExtractCount(raw); got != 3 {
		t.Errorf("count from failover result = %d, want 3", got)
	}
}

func TestRunQueryStopsAtFirstSuccess(t *testing.T) {
	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"elements":[]}`))
	}))
	defer first.Close()

	var secondHit bool
	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secondHit = true
		w.Write([]byte(`{"elements":[]}`))
	}))
	defer second.Close()

	c := NewClient(testConfig(first.URL, second.URL))
	if _, err := c.RunQuery(context.Background(), "query"); err != nil {
		t.Fatalf("RunQuery failed: %v", err)
	}
	if secondHit {
		t.Error("second mirror was queried after the first succeeded")
	}
}

func TestRunQueryAggregatesAllFailures(t *testing.T) {
	httpError := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate  limited\nplease retry", http.StatusTooManyRequests)
	}))
	defer httpError.Close()

	notJSON := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>gateway maintenance</html>"))
	}))
	defer notJSON.Close()

	truncatedJSON := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"elements":[`))
	}))
	defer truncatedJSON.Close()

	c := NewClient(testConfig(httpError.URL, notJSON.URL, truncatedJSON.URL))
	_, err := c.RunQuery(context.Background(), "query")
	if err == nil {
		t.Fatal("RunQuery succeeded with every mirror failing")
	}

	var agg *AggregateError
	if !errors.As(err, &agg) {
		t.Fatalf("error type = %T, want *AggregateError", err)
	}
	if len(agg.Diagnostics) != 3 {
		t.Fatalf("diagnostics = %d, want one per mirror: %v", len(agg.Diagnostics), agg.Diagnostics)
	}

	msg := err.Error()
	if !strings.HasPrefix(msg, "All Overpass endpoints failed. ") {
		t.Errorf("aggregate message %q missing prefix", msg)
	}
	for _, want := range []string{
		httpError.URL + " returned 429: rate limited please retry",
		notJSON.URL + " returned non-JSON payload: <html>gateway maintenance</html>",
		truncatedJSON.URL + " returned invalid JSON payload.",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("aggregate message missing %q:\n%s", want, msg)
		}
	}
	if strings.Count(msg, " | ") != 2 {
		t.Errorf("diagnostics should be pipe-separated: %s", msg)
	}
}

func TestRunQueryTransportFailure(t *testing.T) {
	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close() // refuse connections

	c := NewClient(testConfig(dead.URL))
	_, err := c.RunQuery(context.Background(), "query")
	if err == nil {
		t.Fatal("RunQuery succeeded against a closed listener")
	}
	if !strings.Contains(err.Error(), dead.URL+" failed: ") {
		t.Errorf("transport diagnostic missing endpoint prefix: %v", err)
	}
}

func TestRunQueryAcceptsAnyValidJSON(t *testing.T) {
	// Mirrors occasionally return bare remarks; any parseable JSON is the
	// caller's problem to interpret.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`"runtime remark"`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	raw, err := c.RunQuery(context.Background(), "query")
	if err != nil {
		t.Fatalf("RunQuery rejected scalar JSON: %v", err)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s != "runtime remark" {
		t.Errorf("raw result = %s, want JSON string", raw)
	}
}

func TestRunQueryRequestHeaders(t *testing.T) {
	var ua, accept, contentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.Header.Get("User-Agent")
		accept = r.Header.Get("Accept")
		contentType = r.Header.Get("Content-Type")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL))
	if _, err := c.RunQuery(context.Background(), "query"); err != nil {
		t.Fatalf("RunQuery failed: %v", err)
	}
	if ua != "geogate-osm-proxy/1.0" {
		t.Errorf("User-Agent = %q", ua)
	}
	if accept != "application/json,text/plain;q=0.9,*/*;q=0.8" {
		t.Errorf("Accept = %q", accept)
	}
	if contentType != "application/x-www-form-urlencoded" {
		t.Errorf("Content-Type = %q", contentType)
	}
}

func TestAppendExtraEndpoints(t *testing.T) {
	tests := []struct {
		name string
		csv  string
		want []string
	}{
		{
			name: "empty keeps defaults",
			csv:  "",
			want: DefaultEndpoints,
		},
		{
			name: "extras appended in order",
			csv:  " https://a.example/api , ,https://b.example/api",
			want: append(append([]string{}, DefaultEndpoints...), "https://a.example/api", "https://b.example/api"),
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := AppendExtraEndpoints(tc.csv)
			if len(got) != len(tc.want) {
				t.Fatalf("endpoints = %v, want %v", got, tc.want)
			}
			for i := range tc.want {
				if got[i] != tc.want[i] {
					t.Fatalf("endpoints = %v, want %v", got, tc.want)
				}
			}
		})
	}
}

func TestAggregateErrorBareMessage(t *testing.T) {
	err := &AggregateError{}
	if got := err.Error(); got != "All Overpass endpoints failed." {
		t.Errorf("Error() = %q", got)
	}
}
