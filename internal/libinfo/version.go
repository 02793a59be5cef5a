/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package libinfo reports the version of the module the binary was built with.
package libinfo

import (
	"runtime/debug"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// ModulePath is the import path of this module.
const ModulePath = "github.com/mlandesman/sams-reqkit"

// VersionLabel is the Prometheus label carrying the module version.
const VersionLabel = "reqkit_version"

const unknownVersion = "v0.0.0"

var (
	version     string
	versionOnce sync.Once
)

// Version returns the module version from the build info, "v0.0.0" if it is unknown.
func Version() string {
	versionOnce.Do(func() {
		if info, ok := debug.ReadBuildInfo(); ok {
			version = moduleVersion(info, ModulePath)
		}
		if version == "" {
			version = unknownVersion
		}
	})
	return version
}

// WithVersionLabel returns a copy of labels with VersionLabel added.
func WithVersionLabel(labels prometheus.Labels) prometheus.Labels {
	res := make(prometheus.Labels, len(labels)+1)
	for k, v := range labels {
		res[k] = v
	}
	res[VersionLabel] = Version()
	return res
}

// moduleVersion looks the module up among the main module and the dependencies.
// Major version suffixes ("/v2") are accepted. "(devel)" counts as unknown.
func moduleVersion(info *debug.BuildInfo, path string) string {
	if info == nil {
		return ""
	}
	matches := func(p string) bool {
		if p == path {
			return true
		}
		suffix, ok := strings.CutPrefix(p, path+"/v")
		if !ok || suffix == "" {
			return false
		}
		for _, r := range suffix {
			if r < '0' || r > '9' {
				return false
			}
		}
		return true
	}
	if matches(info.Main.Path) && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	for _, dep := range info.Deps {
		if matches(dep.Path) {
			return dep.Version
		}
	}
	return ""
}
