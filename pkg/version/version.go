// Package version holds build-time version info injected via ldflags.
//
//	go build -ldflags "-X github.com/bedekelly/twistchat/pkg/version.tag=v0.2.0
//	  -X github.com/bedekelly/twistchat/pkg/version.commit=abc1234
//	  -X github.com/bedekelly/twistchat/pkg/version.date=2026-01-01"
package version

var (
	tag    = ""
	commit = "unknown"
	date   = "unknown"
)

// String returns the tag, else the commit, else "dev".
func String() string {
	switch {
	case tag != "":
		return tag
	case commit != "unknown":
		return commit
	default:
		return "dev"
	}
}

// Full returns String plus commit and build date when they are known.
func Full() string {
	switch {
	case tag != "":
		return tag + " (" + commit + ") built " + date
	case commit != "unknown":
		return commit + " built " + date
	default:
		return "dev"
	}
}
