// Package version resolves the build identity stamped into logs and the
// health endpoint.
package version

import "runtime/debug"

// AppName names the service in logs and version strings.
const AppName = "parley"

// commit is set with -ldflags "-X .../pkg/version.commit=<sha>" by container
// builds, where the .git directory is not part of the build context.
var commit string

// GitCommit is the short commit hash of this build, or "dev" when neither
// the linker override nor VCS build info is present.
var GitCommit = resolve()

func resolve() string {
	if commit != "" {
		return short(commit)
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return short(s.Value)
			}
		}
	}
	return "dev"
}

func short(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}

// Full returns "parley/<commit>".
func Full() string { return AppName + "/" + GitCommit }
