package corebinary

import (
	"fmt"
	"regexp"
	"strconv"
)

var versionRE = regexp.MustCompile(`(\d+)\.(\d+)\.(\d+)\.(\d+)`)

// ParseVersion extracts a major.minor.build.patch version from arbitrary
// text, such as the output of `<path> --version`.
func ParseVersion(text string) (Version, error) {
	m := versionRE.FindStringSubmatch(text)
	if m == nil {
		return Version{}, fmt.Errorf("no parseable version in %q", text)
	}
	major, _ := strconv.Atoi(m[1])
	minor, _ := strconv.Atoi(m[2])
	build, _ := strconv.Atoi(m[3])
	patch, _ := strconv.Atoi(m[4])
	return Version{Major: major, Minor: minor, Build: build, Patch: patch, Raw: m[0]}, nil
}

// String renders the version in major.minor.build.patch form.
func (v Version) String() string {
	if v.Raw != "" {
		return v.Raw
	}
	return fmt.Sprintf("%d.%d.%d.%d", v.Major, v.Minor, v.Build, v.Patch)
}
