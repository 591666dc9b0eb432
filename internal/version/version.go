package version

import (
	"fmt"
	"strings"
)

// Set at build time with -ldflags "-X github.com/opentalon/geminicog/internal/version.Version=...".
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

type Info struct {
	Version string
	Commit  string
	Date    string
}

func Get() Info {
	return Info{
		Version: Version,
		Commit:  Commit,
		Date:    Date,
	}
}

// Manifest is the version reported to hosts: the release tag without its
// leading "v".
func (i Info) Manifest() string {
	return strings.TrimPrefix(i.Version, "v")
}

func (i Info) String() string {
	return fmt.Sprintf("geminicog %s (commit: %s, built: %s)", i.Version, i.Commit, i.Date)
}
