// Package buildinfo describes the running chattr binary.
//
// Release builds stamp Version, Commit and Date with -ldflags -X. A binary
// built from a checkout or with go install fills whatever was not stamped
// from the module and VCS metadata the toolchain embeds.
package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"
	"sync"
	"time"
)

// Name is the product name used in user agents and MCP client info.
const Name = "chattr"

// Stamped at link time.
var (
	Version = "dev"
	Commit  = ""
	Date    = ""
)

var startTime = time.Now()

// Info is the build and runtime description served by /v1/version and
// printed by chattr version.
type Info struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Commit   string `json:"commit,omitempty"`
	Date     string `json:"date,omitempty"`
	Go       string `json:"go"`
	Platform string `json:"platform"`
	Uptime   string `json:"uptime"`
}

// static is resolved once; only Uptime changes afterwards.
var static = sync.OnceValue(func() Info {
	info := Info{
		Name:     Name,
		Version:  Version,
		Commit:   Commit,
		Date:     Date,
		Go:       runtime.Version(),
		Platform: runtime.GOOS + "/" + runtime.GOARCH,
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		info = merge(info, bi)
	}
	return info
})

// Get returns the current Info.
func Get() Info {
	info := static()
	info.Uptime = Uptime().String()
	return info
}

// merge fills unstamped fields from toolchain build metadata. A dirty
// checkout gets "+dirty" on its commit.
func merge(info Info, bi *debug.BuildInfo) Info {
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	stamped := info.Commit != ""
	var dirty bool
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if !stamped {
				info.Commit = s.Value
			}
		case "vcs.time":
			if info.Date == "" {
				info.Date = s.Value
			}
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if dirty && !stamped && info.Commit != "" {
		info.Commit += "+dirty"
	}
	return info
}

// Uptime returns the duration since process start.
func Uptime() time.Duration {
	return time.Since(startTime).Truncate(time.Second)
}

// UserAgent returns the User-Agent sent on outbound requests, e.g.
// "chattr/1.2.0 (linux/amd64)".
func UserAgent() string {
	info := static()
	return fmt.Sprintf("%s/%s (%s)", Name, info.Version, info.Platform)
}

// String is a one-line summary, e.g. "chattr 1.2.0 (3f9c2ab10e4d) 2026-03-01T12:00:00Z".
func (i Info) String() string {
	var b strings.Builder
	b.WriteString(i.Name + " " + i.Version)
	if i.Commit != "" {
		b.WriteString(" (" + shortCommit(i.Commit) + ")")
	}
	if i.Date != "" {
		b.WriteString(" " + i.Date)
	}
	return b.String()
}

func shortCommit(c string) string {
	dirty := strings.HasSuffix(c, "+dirty")
	c = strings.TrimSuffix(c, "+dirty")
	if len(c) > 12 {
		c = c[:12]
	}
	if dirty {
		c += "+dirty"
	}
	return c
}
