package collector

import (
	"context"
	"fmt"
	"strconv"

	"codeberg.org/mutker/hmsd/internal/gpu"
	"github.com/docker/go-units"
)

const GPUID = "gpu"

// Inventory lists the installed accelerators; *gpu.Inspector implements it
type Inventory interface {
	Devices() ([]gpu.Device, string, error)
}

// GPU reports installed NVIDIA devices
type GPU struct {
	inventory Inventory
}

func NewGPU(inventory Inventory) *GPU {
	return &GPU{inventory: inventory}
}

func (*GPU) ID() string {
	return GPUID
}

func (g *GPU) Collect(_ context.Context) (map[string]string, error) {
	devices, driver, err := g.inventory.Devices()
	if err != nil {
		return nil, err
	}

	data := map[string]string{
		"count":  strconv.Itoa(len(devices)),
		"driver": driver,
	}
	for _, d := range devices {
		prefix := fmt.Sprintf("gpu%d.", d.Index)
		data[prefix+"name"] = d.Name
		data[prefix+"memory"] = units.BytesSize(float64(d.MemoryTotal))
	}

	return data, nil
}
