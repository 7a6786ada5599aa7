package collector

import (
	"context"
	"runtime"
	"strings"

	"github.com/spf13/afero"
)

const (
	OSID          = "os"
	osReleasePath = "/etc/os-release"
	kernelPath    = "/proc/sys/kernel/osrelease"
)

// OS reports the distribution and kernel
type OS struct {
	fs afero.Fs
}

func NewOS(fs afero.Fs) *OS {
	return &OS{fs: fs}
}

func (*OS) ID() string {
	return OSID
}

func (o *OS) Collect(_ context.Context) (map[string]string, error) {
	raw, err := afero.ReadFile(o.fs, osReleasePath)
	if err != nil {
		return nil, err
	}
	release := parseOSRelease(string(raw))

	data := map[string]string{
		"goos":    runtime.GOOS,
		"name":    release["NAME"],
		"id":      release["ID"],
		"version": release["VERSION_ID"],
		"pretty":  release["PRETTY_NAME"],
	}

	if kernel, err := afero.ReadFile(o.fs, kernelPath); err == nil {
		data["kernel"] = strings.TrimSpace(string(kernel))
	}

	return data, nil
}

func parseOSRelease(contents string) map[string]string {
	values := make(map[string]string)
	for _, line := range strings.Split(contents, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		values[k] = strings.Trim(v, `"'`)
	}
	return values
}
