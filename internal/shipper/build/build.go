// Package build implements the Record Builder: turns a raw tailed line and
// its source descriptor into a fully populated record.Record, extracting
// level, unwrapping container JSON envelopes, and resolving capture
// identity.
package build

import (
	"context"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/opsentra/opsentra/internal/record"
)

func osHostname() (string, error) { return os.Hostname() }

var (
	bracketLevelRe = regexp.MustCompile(`(?i)\[(trace|debug|info|warn|warning|error|fatal|critical)\]`)
	colonLevelRe   = regexp.MustCompile(`(?i)\b(trace|debug|info|warn|warning|error|fatal|critical):`)
	isoDateLevelRe = regexp.MustCompile(`(?i)\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}\S*\s+(trace|debug|info|warn|warning|error|fatal|critical)\b`)
)

// Builder constructs records from raw lines, caching identity resolution
// across calls.
type Builder struct {
	identity *IdentityResolver
}

// NewBuilder constructs a Builder using resolver for host/IP identity.
func NewBuilder(resolver *IdentityResolver) *Builder {
	return &Builder{identity: resolver}
}

// SourceDescriptor is the minimal surface the Builder needs from a
// discovered source; kept narrow to avoid importing the discover package's
// full Config and Discover machinery here.
type SourceDescriptor struct {
	Path        string
	SourceType  record.SourceType
	Service     string
	AuxMetadata map[string]string
}

// Build turns one raw line into a record.Record, or returns ok=false for
// an empty (post-trim) line, which is dropped rather than emitted.
func (b *Builder) Build(ctx context.Context, rawLine string, source SourceDescriptor) (record.Record, bool) {
	trimmed := strings.TrimRight(rawLine, "\r\n")
	trimmed = strings.TrimSpace(trimmed)
	if trimmed == "" {
		return record.Record{}, false
	}

	message := trimmed
	sourceType := source.SourceType
	if sourceType == record.SourceTypeContainer && strings.HasPrefix(trimmed, "{") {
		if unwrapped, ok := unwrapContainerLine(trimmed); ok {
			message = unwrapped
		}
	}

	host, ip := b.identity.Resolve(ctx)

	rec := record.Record{
		Timestamp:  time.Now().UTC(),
		Level:      extractLevel(message),
		Service:    source.Service,
		Host:       host,
		IP:         ip,
		Source:     source.Path,
		Message:    message,
		SourceType: sourceType,
		Metadata:   source.AuxMetadata,
	}
	return rec, true
}

type containerEnvelope struct {
	Log    string `json:"log"`
	Stream string `json:"stream"`
	Time   string `json:"time"`
}

// unwrapContainerLine parses a container-runtime JSON log line, returning
// its "log" field trimmed of its own trailing newline. Parse failures fall
// back to treating the line as plain text.
func unwrapContainerLine(line string) (string, bool) {
	var env containerEnvelope
	if err := json.Unmarshal([]byte(line), &env); err != nil {
		return "", false
	}
	if env.Log == "" {
		return "", false
	}
	return strings.TrimRight(env.Log, "\r\n"), true
}

// extractLevel applies the ordered level-extraction rules, falling back to
// a secondary keyword scan, defaulting to info.
func extractLevel(message string) record.Level {
	if m := bracketLevelRe.FindStringSubmatch(message); m != nil {
		return record.Normalize(m[1])
	}
	if m := colonLevelRe.FindStringSubmatch(message); m != nil {
		return record.Normalize(m[1])
	}
	if m := isoDateLevelRe.FindStringSubmatch(message); m != nil {
		return record.Normalize(m[1])
	}
	return keywordScan(message)
}

// keywordScan is the secondary heuristic: a simple substring scan in
// priority order (error-class beats warn beats info beats debug).
func keywordScan(message string) record.Level {
	lower := strings.ToLower(message)
	switch {
	case containsAny(lower, "error", "err", "fatal", "critical"):
		return record.LevelError
	case containsAny(lower, "warn", "warning"):
		return record.LevelWarn
	case containsAny(lower, "info"):
		return record.LevelInfo
	case containsAny(lower, "debug", "trace"):
		return record.LevelDebug
	default:
		return record.LevelInfo
	}
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

const cloudMetadataTimeout = 2 * time.Second

// IdentityResolver resolves and caches the capture host's stable name and
// best-effort network identity (cloud-metadata IP, falling back to host).
type IdentityResolver struct {
	metadataURL string
	client      *http.Client
	hostnameFn  func() (string, error)

	once sync.Once
	host string
	ip   string
}

// NewIdentityResolver constructs a resolver. metadataURL is the
// cloud-metadata endpoint to probe for the instance IP; an empty value
// skips the probe and uses host for both fields.
func NewIdentityResolver(metadataURL string) *IdentityResolver {
	return &IdentityResolver{
		metadataURL: metadataURL,
		client:      &http.Client{Timeout: cloudMetadataTimeout},
		hostnameFn:  osHostname,
	}
}

// Resolve returns the cached (host, ip) pair, resolving it on first call.
func (r *IdentityResolver) Resolve(ctx context.Context) (host, ip string) {
	r.once.Do(func() { r.resolve(ctx) })
	return r.host, r.ip
}

func (r *IdentityResolver) resolve(ctx context.Context) {
	host, err := r.hostnameFn()
	if err != nil || host == "" {
		host = "unknown"
	}
	r.host = host
	r.ip = host

	if r.metadataURL == "" {
		return
	}

	reqCtx, cancel := context.WithTimeout(ctx, cloudMetadataTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, r.metadataURL, nil)
	if err != nil {
		return
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return
	}

	buf := make([]byte, 64)
	n, _ := resp.Body.Read(buf)
	ipText := strings.TrimSpace(string(buf[:n]))
	if ipText != "" {
		r.ip = ipText
	}
}
