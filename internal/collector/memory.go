package collector

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/docker/go-units"
	"github.com/spf13/afero"
)

const (
	MemoryID    = "memory"
	memInfoPath = "/proc/meminfo"
)

// Memory reports installed and available memory
type Memory struct {
	fs afero.Fs
}

func NewMemory(fs afero.Fs) *Memory {
	return &Memory{fs: fs}
}

func (*Memory) ID() string {
	return MemoryID
}

func (m *Memory) Collect(_ context.Context) (map[string]string, error) {
	info, err := readMemInfo(m.fs)
	if err != nil {
		return nil, err
	}

	total, ok := info["MemTotal"]
	if !ok {
		return nil, fmt.Errorf("%s has no MemTotal entry", memInfoPath)
	}

	return map[string]string{
		"total":      units.BytesSize(float64(total)),
		"totalBytes": strconv.FormatUint(total, 10),
		"available":  units.BytesSize(float64(info["MemAvailable"])),
		"swap":       units.BytesSize(float64(info["SwapTotal"])),
	}, nil
}

// readMemInfo returns /proc/meminfo entries in bytes
func readMemInfo(fs afero.Fs) (map[string]uint64, error) {
	raw, err := afero.ReadFile(fs, memInfoPath)
	if err != nil {
		return nil, err
	}

	entries := make(map[string]uint64)
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	for scanner.Scan() {
		key, rest, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		fields := strings.Fields(rest)
		if len(fields) == 0 {
			continue
		}
		value, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", key, err)
		}
		if len(fields) > 1 && fields[1] == "kB" {
			value *= units.KiB
		}
		entries[key] = value
	}

	return entries, scanner.Err()
}
