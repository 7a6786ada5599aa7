package collector

import (
	"context"
	"errors"
	"runtime"
	"strconv"
	"strings"

	"codeberg.org/mutker/hmsd/internal/logger"
	"github.com/spf13/afero"
	"github.com/tklauser/go-sysconf"
)

const (
	CPUID       = "cpu"
	cpuInfoPath = "/proc/cpuinfo"
)

type cpuInfo struct {
	model   string
	sockets int
	cores   int
	threads int
}

// CPU reports the processor model and topology
type CPU struct {
	fs     afero.Fs
	online func() (int64, error)
}

func NewCPU(fs afero.Fs) *CPU {
	return &CPU{
		fs: fs,
		online: func() (int64, error) {
			return sysconf.Sysconf(sysconf.SC_NPROCESSORS_ONLN)
		},
	}
}

func (*CPU) ID() string {
	return CPUID
}

func (c *CPU) Collect(_ context.Context) (map[string]string, error) {
	info, err := readCPUInfo(c.fs)
	if err != nil {
		return nil, err
	}

	online, err := c.online()
	if err != nil {
		logger.Debug().Err(err).Msg("sysconf unavailable, falling back to runtime CPU count")
		online = int64(runtime.NumCPU())
	}

	return map[string]string{
		"model":   info.model,
		"sockets": strconv.Itoa(info.sockets),
		"cores":   strconv.Itoa(info.cores),
		"threads": strconv.Itoa(info.threads),
		"online":  strconv.FormatInt(online, 10),
		"arch":    runtime.GOARCH,
	}, nil
}

func readCPUInfo(fs afero.Fs) (cpuInfo, error) {
	bytes, err := afero.ReadFile(fs, cpuInfoPath)
	if err != nil {
		return cpuInfo{}, err
	}
	contents := strings.TrimSpace(string(bytes))
	if contents == "" {
		return cpuInfo{}, errors.New("/proc/cpuinfo is empty")
	}

	info := cpuInfo{}
	coresPerSocket := map[string]int{}
	for _, section := range strings.Split(contents, "\n\n") {
		if strings.TrimSpace(section) == "" {
			continue
		}
		info.threads++

		socket := "0"
		cores := 1
		for _, line := range strings.Split(section, "\n") {
			k, v, ok := strings.Cut(line, ":")
			if !ok {
				continue
			}
			k = strings.TrimSpace(k)
			v = strings.TrimSpace(v)

			switch k {
			case "model name":
				if info.model == "" {
					info.model = v
				}
			case "physical id":
				socket = v
			case "cpu cores":
				n, err := strconv.Atoi(v)
				if err != nil {
					return cpuInfo{}, err
				}
				cores = n
			}
		}
		coresPerSocket[socket] = cores
	}

	info.sockets = len(coresPerSocket)
	for _, n := range coresPerSocket {
		info.cores += n
	}

	return info, nil
}
