package build

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsentra/opsentra/internal/record"
)

func testResolver() *IdentityResolver {
	r := NewIdentityResolver("")
	r.hostnameFn = func() (string, error) { return "capture-host", nil }
	return r
}

func TestBuildDropsEmptyLines(t *testing.T) {
	b := NewBuilder(testResolver())
	_, ok := b.Build(context.Background(), "   \n", SourceDescriptor{Service: "app"})
	assert.False(t, ok)
}

func TestBuildExtractsBracketLevel(t *testing.T) {
	b := NewBuilder(testResolver())
	rec, ok := b.Build(context.Background(), "[ERROR] disk full", SourceDescriptor{Service: "app"})
	require.True(t, ok)
	assert.Equal(t, record.LevelError, rec.Level)
	assert.Contains(t, rec.Message, "disk full")
}

func TestBuildExtractsColonLevel(t *testing.T) {
	b := NewBuilder(testResolver())
	rec, ok := b.Build(context.Background(), "WARN: retrying connection", SourceDescriptor{Service: "app"})
	require.True(t, ok)
	assert.Equal(t, record.LevelWarn, rec.Level)
}

func TestBuildExtractsISODatePrefixedLevel(t *testing.T) {
	b := NewBuilder(testResolver())
	rec, ok := b.Build(context.Background(), "2026-08-02T10:00:00Z INFO request handled", SourceDescriptor{Service: "app"})
	require.True(t, ok)
	assert.Equal(t, record.LevelInfo, rec.Level)
}

func TestBuildFallsBackToKeywordScan(t *testing.T) {
	b := NewBuilder(testResolver())
	rec, ok := b.Build(context.Background(), "something critical happened here", SourceDescriptor{Service: "app"})
	require.True(t, ok)
	assert.Equal(t, record.LevelError, rec.Level)
}

func TestBuildDefaultsToInfoWhenNoKeyword(t *testing.T) {
	b := NewBuilder(testResolver())
	rec, ok := b.Build(context.Background(), "nothing special", SourceDescriptor{Service: "app"})
	require.True(t, ok)
	assert.Equal(t, record.LevelInfo, rec.Level)
}

func TestBuildUnwrapsContainerJSONLine(t *testing.T) {
	b := NewBuilder(testResolver())
	line := `{"log":"[ERROR] boom\n","stream":"stdout","time":"2026-08-02T10:00:00Z"}`
	rec, ok := b.Build(context.Background(), line, SourceDescriptor{Service: "app", SourceType: record.SourceTypeContainer})
	require.True(t, ok)
	assert.Equal(t, record.LevelError, rec.Level)
	assert.Equal(t, "[ERROR] boom", rec.Message)
}

func TestBuildFallsBackToPlainTextOnUnparsableContainerJSON(t *testing.T) {
	b := NewBuilder(testResolver())
	rec, ok := b.Build(context.Background(), `{not valid json`, SourceDescriptor{Service: "app", SourceType: record.SourceTypeContainer})
	require.True(t, ok)
	assert.Equal(t, `{not valid json`, rec.Message)
}

func TestBuildPopulatesHostAndService(t *testing.T) {
	b := NewBuilder(testResolver())
	rec, ok := b.Build(context.Background(), "hello world", SourceDescriptor{Service: "checkout", Path: "/var/log/app.log"})
	require.True(t, ok)
	assert.Equal(t, "capture-host", rec.Host)
	assert.Equal(t, "checkout", rec.Service)
	assert.Equal(t, "/var/log/app.log", rec.Source)
}

func TestIdentityResolverFallsBackToHostOnMetadataFailure(t *testing.T) {
	r := NewIdentityResolver("http://127.0.0.1:1/metadata")
	r.hostnameFn = func() (string, error) { return "capture-host", nil }
	host, ip := r.Resolve(context.Background())
	assert.Equal(t, "capture-host", host)
	assert.Equal(t, "capture-host", ip)
}

func TestIdentityResolverUsesCloudMetadataIP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("203.0.113.5"))
	}))
	defer srv.Close()

	r := NewIdentityResolver(srv.URL)
	r.hostnameFn = func() (string, error) { return "capture-host", nil }
	host, ip := r.Resolve(context.Background())
	assert.Equal(t, "capture-host", host)
	assert.Equal(t, "203.0.113.5", ip)
}

func TestIdentityResolverCachesAcrossCalls(t *testing.T) {
	calls := 0
	r := NewIdentityResolver("")
	r.hostnameFn = func() (string, error) { calls++; return "capture-host", nil }

	r.Resolve(context.Background())
	r.Resolve(context.Background())
	assert.Equal(t, 1, calls)
}
