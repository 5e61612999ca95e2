// Package version is stamped at build time:
//
//	go build -ldflags "-X github.com/veesix-networks/hotspotd/pkg/version.Version=v0.3.0"
package version

import "runtime"

var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

func Full() string {
	return Version + " (" + Commit + ") built on " + Date
}

type BuildInfo struct {
	Version   string `json:"version" prometheus:"label"`
	Commit    string `json:"commit" prometheus:"label"`
	GoVersion string `json:"go_version" prometheus:"label"`
	Info      int    `json:"-" prometheus:"name=hotspotd_build_info,help=Build information; always 1,type=gauge"`
}

func Info() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		GoVersion: runtime.Version(),
		Info:      1,
	}
}
