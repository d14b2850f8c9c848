package startup

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"smart-gallery/internal/folders"
	"smart-gallery/internal/logging"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// RouteInfo contains information about a registered route
type RouteInfo struct {
	Method string
	Path   string
	Name   string
}

// LogDatabaseInit logs catalog initialization
func LogDatabaseInit(path string, duration time.Duration, rebuilt bool) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("CATALOG INITIALIZATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Path: %s", path)
	if rebuilt {
		logging.Warn("  Schema changed, catalog rebuilt empty; a full sync will repopulate it")
	}
	logging.Info("  [OK] Catalog ready in %v", duration)
}

// LogMediaInit logs the media toolchain: libvips and the ffmpeg tools.
func LogMediaInit(cfg *Config, vipsAvailable bool) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("MEDIA TOOLS")
	logging.Info("------------------------------------------------------------")
	if vipsAvailable {
		logging.Info("  [OK] libvips available")
	} else {
		logging.Warn("  libvips unavailable, using the pure Go image pipeline")
	}
	logTool("ffprobe", cfg.FFprobePath, "video metadata and workflows in video containers will be skipped")
	logTool("ffmpeg", cfg.FFmpegPath, "video previews will not be generated")
}

func logTool(name, path, consequence string) {
	if path == "" {
		logging.Warn("  %s not found, %s", name, consequence)
		return
	}
	if version, err := ToolVersion(path); err == nil {
		logging.Info("  [OK] %s: %s", name, version)
		return
	}
	logging.Info("  [OK] %s: %s", name, path)
}

// LogIndexerInit logs sync and change detection settings
func LogIndexerInit(cfg *Config, workers int) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SYNC INITIALIZATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Workers:         %d", workers)
	logging.Info("  Batch size:      %d", cfg.BatchSize)
	logging.Info("  Stale after:     %v", cfg.StaleAfter)
	if cfg.WatchEnabled {
		logging.Info("  Change watching: ON (debounce %v)", cfg.WatchDebounce)
	} else {
		logging.Info("  Change watching: OFF (polling every %v)", cfg.PollInterval)
	}
	if cfg.RescanInterval > 0 {
		logging.Info("  Scheduled rescan: every %v", cfg.RescanInterval)
	} else {
		logging.Info("  Scheduled rescan: OFF")
	}
}

// LogIndexerStarted logs successful indexer start
func LogIndexerStarted() {
	logging.Info("  [OK] Sync started")
}

// GetRoutes lists every method/path pair registered on router. Subrouter
// prefixes, which carry no methods, are left out.
func GetRoutes(router *mux.Router) ([]RouteInfo, error) {
	var routes []RouteInfo
	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		path, err := route.GetPathTemplate()
		if err != nil {
			return err
		}
		methods, err := route.GetMethods()
		if err != nil {
			return nil
		}
		for _, m := range methods {
			routes = append(routes, RouteInfo{Method: m, Path: path, Name: route.GetName()})
		}
		return nil
	})
	sort.SliceStable(routes, func(i, j int) bool {
		gi, gj := getRouteGroup(routes[i].Path), getRouteGroup(routes[j].Path)
		if gi != gj {
			return gi < gj
		}
		return routes[i].Path < routes[j].Path
	})
	return routes, err
}

// LogHTTPRoutes logs a route count per group; the full table, with event
// streams marked, is logged at debug level.
func LogHTTPRoutes(router *mux.Router, logHealthChecks bool) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("HTTP SERVER SETUP")
	logging.Info("------------------------------------------------------------")

	routes, err := GetRoutes(router)
	if err != nil {
		logging.Warn("  Could not walk routes: %v", err)
	}

	var groups []string
	counts := make(map[string]int)
	for _, r := range routes {
		g := getRouteGroup(r.Path)
		if g == "" {
			g = "root"
		}
		if counts[g] == 0 {
			groups = append(groups, g)
		}
		counts[g]++
	}
	summary := make([]string, 0, len(groups))
	for _, g := range groups {
		summary = append(summary, fmt.Sprintf("%s=%d", g, counts[g]))
	}
	logging.Info("  Routes: %d (%s)", len(routes), strings.Join(summary, " "))

	for _, r := range routes {
		kind := ""
		if strings.HasSuffix(r.Path, "/events") {
			kind = " [sse]"
		}
		logging.Debug("    %-6s %s%s", r.Method, r.Path, kind)
	}

	if logHealthChecks {
		logging.Info("  Probe logging:   ON")
	} else {
		logging.Info("  Probe logging:   OFF (LOG_HEALTH_CHECKS=true to enable)")
	}
}

// getRouteGroup returns "api/<resource>" for API routes and the first
// path segment otherwise.
func getRouteGroup(path string) string {
	first, rest, _ := strings.Cut(strings.TrimPrefix(path, "/"), "/")
	if first == "api" && rest != "" {
		resource, _, _ := strings.Cut(rest, "/")
		return "api/" + resource
	}
	return first
}

// ServerConfig holds what the startup summary reports.
type ServerConfig struct {
	Port            string
	BaseDir         string
	MetricsEnabled  bool
	StartupDuration time.Duration
}

// LogServerStarted logs the listening address and the main entry points.
func LogServerStarted(config ServerConfig) {
	addr := "http://0.0.0.0:" + config.Port
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SERVER STARTED in %v", config.StartupDuration)
	logging.Info("------------------------------------------------------------")
	logging.Info("  Gallery:  %s", config.BaseDir)
	logging.Info("  Catalog:  %s/api/folders/%s/files", addr, folders.RootKey)
	logging.Info("  Probes:   %s/livez %s/readyz", addr, addr)
	if config.MetricsEnabled {
		logging.Info("  Metrics:  %s/metrics", addr)
	}
	logging.Info("------------------------------------------------------------")
}

// LogShutdownInitiated logs the signal that started shutdown.
func LogShutdownInitiated(signal string) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SHUTDOWN (%s)", signal)
	logging.Info("------------------------------------------------------------")
}

// ShutdownStep runs one shutdown step and logs how it went. Errors are
// logged and returned so the caller can fall back.
func ShutdownStep(name string, fn func() error) error {
	start := time.Now()
	if err := fn(); err != nil {
		logging.Warn("  [FAIL] %s after %v: %v", name, time.Since(start).Round(time.Millisecond), err)
		return err
	}
	logging.Info("  [OK] %s (%v)", name, time.Since(start).Round(time.Millisecond))
	return nil
}

// LogShutdownComplete logs the end of shutdown.
func LogShutdownComplete(started time.Time) {
	logging.Info("  Shutdown complete in %v", time.Since(started).Round(time.Millisecond))
}

// LogFatal logs a fatal error and exits.
func LogFatal(format string, args ...interface{}) {
	logging.Fatal(format, args...)
}

func printBanner() {
	banner := `
------------------------------------------------------------
   _____                      __     ______      ____
  / ___/____ ___  ____ ______/ /_   / ____/___ _/ / /__  _______  __
  \__ \/ __ '__ \/ __ '/ ___/ __/  / / __/ __ '/ / / _ \/ ___/ / / /
 ___/ / / / / / / /_/ / /  / /_   / /_/ / /_/ / / /  __/ /  / /_/ /
/____/_/ /_/ /_/\__,_/_/   \__/   \____/\__,_/_/_/\___/_/   \__, /
                                                           /____/
------------------------------------------------------------`
	fmt.Println(banner)
	logging.Info("  Version:    %s", Version)
	logging.Info("  Commit:     %s", Commit)
	logging.Info("  Build Time: %s", BuildTime)
	logging.Info("  Started:    %s", time.Now().Format(time.RFC1123))
	logging.Info("")
}

func logSystemInfo() {
	logging.Info("------------------------------------------------------------")
	logging.Info("SYSTEM INFORMATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Go version:      %s", runtime.Version())
	logging.Info("  OS/Arch:         %s/%s", runtime.GOOS, runtime.GOARCH)
	logging.Info("  CPUs available:  %d", runtime.NumCPU())
	logging.Info("  GOMAXPROCS:      %d", runtime.GOMAXPROCS(0))

	if runtime.GOMAXPROCS(0) < runtime.NumCPU() {
		logging.Info("  (Container CPU limit detected)")
	}

	if logging.IsDebugEnabled() {
		if wd, err := os.Getwd(); err == nil {
			logging.Debug("  Working dir:     %s", wd)
		}
		if hostname, err := os.Hostname(); err == nil {
			logging.Debug("  Hostname:        %s", hostname)
		}
	}
	logging.Info("")
}

func ensureDirectory(path, name string) error {
	logging.Debug("  Checking %s directory: %s", name, path)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		logging.Debug("    [OK] Created directory: %s", path)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path exists but is not a directory")
	}
	return nil
}

func testWriteAccess(dir string) error {
	testFile := filepath.Join(dir, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		return err
	}
	if err := os.Remove(testFile); err != nil {
		logging.Warn("failed to remove write test file %s: %v", testFile, err)
	}
	return nil
}
