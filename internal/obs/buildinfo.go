package obs

import (
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// BuildInfo describes the running binary.
type BuildInfo struct {
	Version   string
	Commit    string
	GoVersion string
	Modified  bool
}

var (
	buildInfoOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Time-off manager API build information; always 1.",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// InitBuildInfo publishes build_info for the binary and returns what it
// published. Linker-set values win; empty or "dev" ones fall back to the VCS
// stamp the go tool embeds.
func InitBuildInfo(version, commit string) BuildInfo {
	bi, _ := debug.ReadBuildInfo()
	info := resolveBuildInfo(version, commit, bi)

	buildInfoOnce.Do(func() {
		prometheus.MustRegister(buildInfo)
	})
	buildInfo.Reset()
	buildInfo.WithLabelValues(info.Version, info.Commit, info.GoVersion).Set(1)
	return info
}

func resolveBuildInfo(version, commit string, bi *debug.BuildInfo) BuildInfo {
	info := BuildInfo{Version: version, Commit: commit, GoVersion: runtime.Version()}
	if bi == nil {
		return withDefaults(info)
	}
	if bi.GoVersion != "" {
		info.GoVersion = bi.GoVersion
	}
	if unset(info.Version) && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	var revision string
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = shortRevision(s.Value)
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	if unset(info.Commit) && revision != "" {
		info.Commit = revision
		if info.Modified {
			info.Commit += "-dirty"
		}
	}
	return withDefaults(info)
}

func unset(v string) bool { return v == "" || v == "dev" }

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

func withDefaults(info BuildInfo) BuildInfo {
	if info.Version == "" {
		info.Version = "unknown"
	}
	if info.Commit == "" {
		info.Commit = "unknown"
	}
	return info
}
