// Package discover implements the Source Discoverer: a one-shot startup
// scan that expands configured glob patterns and source-type roots into a
// flat set of log sources, each assigned a service name, ready to be
// handed to the File Tailer.
package discover

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/opsentra/opsentra/internal/logging"
	"github.com/opsentra/opsentra/internal/record"
)

// Source is the ephemeral descriptor created by discovery and consumed by
// exactly one Tailer.
type Source struct {
	Path        string
	SourceType  record.SourceType
	Service     string
	AuxMetadata map[string]string
}

// Config mirrors the Shipper's discovery-relevant configuration surface.
type Config struct {
	LogPaths         []string
	ContainerEnabled bool
	PodEnabled       bool
	CIEnabled        bool
	CustomPaths      []string

	ContainerLogRoot string
	PodLogRoot       string
	CIRoot           string
}

var wellKnownServices = []string{"nginx", "apache", "mysql", "postgres", "redis", "mongo"}

// Discover runs all enabled discovery strategies once and returns the
// union of sources found. A failure in one source type is logged and does
// not prevent the others from running; Discover only returns an error if
// every strategy failed.
func Discover(cfg Config, logger *logging.EventLogger) ([]Source, error) {
	var (
		sources []Source
		errs    []error
		ran     int
	)

	collect := func(name string, fn func() ([]Source, error)) {
		ran++
		found, err := fn()
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			if logger != nil {
				logger.Warn("source discovery strategy failed", "strategy", name, "error", err.Error())
			}
			return
		}
		sources = append(sources, found...)
	}

	collect("glob", func() ([]Source, error) { return discoverGlobs(cfg.LogPaths, record.SourceTypeSystem) })
	collect("custom", func() ([]Source, error) { return discoverGlobs(cfg.CustomPaths, record.SourceTypeCustom) })

	if cfg.ContainerEnabled {
		collect("container", func() ([]Source, error) { return discoverContainers(cfg.ContainerLogRoot) })
	}
	if cfg.PodEnabled {
		collect("pod", func() ([]Source, error) { return discoverPods(cfg.PodLogRoot) })
	}
	if cfg.CIEnabled {
		collect("ci", func() ([]Source, error) { return discoverCI(cfg.CIRoot) })
	}

	if len(errs) == ran && ran > 0 {
		return nil, fmt.Errorf("discover: all strategies failed: %w", errors.Join(errs...))
	}
	return sources, nil
}

// discoverGlobs expands each pattern and builds a source of sourceType for
// every readable match.
func discoverGlobs(patterns []string, sourceType record.SourceType) ([]Source, error) {
	var sources []Source
	var errs []error

	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			errs = append(errs, fmt.Errorf("glob %q: %w", pattern, err))
			continue
		}
		for _, path := range matches {
			if !readable(path) {
				continue
			}
			sources = append(sources, Source{
				Path:       path,
				SourceType: sourceType,
				Service:    serviceNameForPath(path),
			})
		}
	}

	if len(errs) > 0 {
		return sources, errors.Join(errs...)
	}
	return sources, nil
}

// discoverContainers walks the per-container log root; each entry is a
// directory named after the container ID, expected to hold a JSON config
// document with "image"/"name" fields and a log file.
func discoverContainers(root string) ([]Source, error) {
	if root == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read container log root: %w", err)
	}

	var sources []Source
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		containerID := entry.Name()
		logPath := filepath.Join(root, containerID, containerID+"-json.log")
		if !readable(logPath) {
			continue
		}

		name := containerFriendlyName(filepath.Join(root, containerID))
		if name == "" {
			name = "container-" + shortID(containerID)
		}

		sources = append(sources, Source{
			Path:       logPath,
			SourceType: record.SourceTypeContainer,
			Service:    name,
			AuxMetadata: map[string]string{
				"container_id": containerID,
			},
		})
	}
	return sources, nil
}

// discoverPods walks <root>/<namespace>/<pod>/<container>.log.
func discoverPods(root string) ([]Source, error) {
	if root == "" {
		return nil, nil
	}
	namespaces, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read pod log root: %w", err)
	}

	var sources []Source
	for _, ns := range namespaces {
		if !ns.IsDir() {
			continue
		}
		nsPath := filepath.Join(root, ns.Name())
		pods, err := os.ReadDir(nsPath)
		if err != nil {
			continue
		}
		for _, pod := range pods {
			if !pod.IsDir() {
				continue
			}
			podPath := filepath.Join(nsPath, pod.Name())
			containers, err := os.ReadDir(podPath)
			if err != nil {
				continue
			}
			for _, c := range containers {
				if c.IsDir() || !strings.HasSuffix(c.Name(), ".log") {
					continue
				}
				containerName := strings.TrimSuffix(c.Name(), ".log")
				sources = append(sources, Source{
					Path:       filepath.Join(podPath, c.Name()),
					SourceType: record.SourceTypePod,
					Service:    "k8s-" + pod.Name(),
					AuxMetadata: map[string]string{
						"namespace": ns.Name(),
						"pod":       pod.Name(),
						"container": containerName,
					},
				})
			}
		}
	}
	return sources, nil
}

// discoverCI walks any configured CI roots for **/*.log files, deriving a
// job identifier from the path segment following "jobs/".
func discoverCI(root string) ([]Source, error) {
	if root == "" {
		return nil, nil
	}

	var sources []Source
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // isolate per-entry errors, never abort the walk
		}
		if d.IsDir() || !strings.HasSuffix(path, ".log") {
			return nil
		}
		sources = append(sources, Source{
			Path:       path,
			SourceType: record.SourceTypeCI,
			Service:    jobIdentifier(path),
			AuxMetadata: map[string]string{
				"ci_root": root,
			},
		})
		return nil
	})
	if err != nil {
		return sources, fmt.Errorf("walk CI root: %w", err)
	}
	return sources, nil
}

// jobIdentifier derives a job name from the path segment following "jobs/".
func jobIdentifier(path string) string {
	segments := strings.Split(filepath.ToSlash(path), "/")
	for i, seg := range segments {
		if seg == "jobs" && i+1 < len(segments) {
			return segments[i+1]
		}
	}
	return "ci-job"
}

// containerFriendlyName reads an adjacent container-config document
// (config.json, as written by most container runtimes) and extracts
// "name" or "image".
func containerFriendlyName(containerDir string) string {
	data, err := os.ReadFile(filepath.Join(containerDir, "config.json"))
	if err != nil {
		return ""
	}
	name := extractJSONStringField(data, "name")
	if name != "" {
		return strings.TrimPrefix(name, "/")
	}
	return extractJSONStringField(data, "image")
}

// extractJSONStringField does a minimal, allocation-light scan for
// "<field>":"<value>" without requiring a full JSON unmarshal of the
// (potentially large and otherwise-irrelevant) container config document.
func extractJSONStringField(data []byte, field string) string {
	needle := []byte(`"` + field + `":"`)
	idx := indexBytes(data, needle)
	if idx < 0 {
		return ""
	}
	start := idx + len(needle)
	end := start
	for end < len(data) && data[end] != '"' {
		end++
	}
	if end >= len(data) {
		return ""
	}
	return string(data[start:end])
}

func indexBytes(data, needle []byte) int {
	return strings.Index(string(data), string(needle))
}

func shortID(id string) string {
	if len(id) <= 12 {
		return id
	}
	return id[:12]
}

// serviceNameForPath derives a service name from a generic log file path.
// A well-known service name often shows up as a directory segment rather
// than the log file's own basename (e.g. /var/log/nginx/error.log), so the
// whole path is scanned before falling back to the basename.
func serviceNameForPath(path string) string {
	lower := strings.ToLower(filepath.ToSlash(path))

	for _, known := range wellKnownServices {
		if strings.Contains(lower, known) {
			return known
		}
	}

	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func readable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}
