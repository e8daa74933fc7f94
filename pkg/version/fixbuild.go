//go:build go1.18

package version

import "runtime/debug"

func init() {
	fixBuild = vcsFixBuild
}

// vcsFixBuild replaces the placeholder build ID with the VCS revision
// stamped by the go command.
func vcsFixBuild(v *Version) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			v.Build = s.Value
		case "vcs.modified":
			if s.Value == "true" && v.Metadata == "" {
				v.Metadata = "dirty"
			}
		}
	}
}
