// Package gpu reads the NVIDIA device inventory through NVML.
package gpu

import (
	"sync"

	"codeberg.org/mutker/hmsd/internal/errors"
	"codeberg.org/mutker/hmsd/internal/logger"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

// Device describes one installed GPU
type Device struct {
	Index       int
	Name        string
	UUID        string
	MemoryTotal uint64
}

// Inspector opens NVML for the duration of each inventory read, so hosts
// without the driver only pay for a failed library load per call.
type Inspector struct {
	nvml nvmlController
	mu   sync.Mutex
}

func NewInspector() *Inspector {
	return &Inspector{nvml: &nvmlWrapper{}}
}

// Devices returns the installed devices and the driver version
func (i *Inspector) Devices() ([]Device, string, error) {
	errFactory := errors.New()

	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.nvml.Initialize(); err != nil {
		return nil, "", err
	}
	defer func() {
		if err := i.nvml.Shutdown(); err != nil {
			logger.Debug().Err(err).Msg("Failed to shut down NVML")
		}
	}()

	driver, err := i.nvml.GetDriverVersion()
	if err != nil {
		return nil, "", err
	}

	count, err := i.nvml.GetDeviceCount()
	if err != nil {
		return nil, "", err
	}

	devices := make([]Device, 0, count)
	for idx := 0; idx < count; idx++ {
		device, err := i.nvml.GetDevice(idx)
		if err != nil {
			return nil, "", err
		}

		d, err := describe(idx, device)
		if err != nil {
			return nil, "", errFactory.Wrap(ErrDeviceInfoFailed, err)
		}
		devices = append(devices, d)
	}

	logger.Debug().Int("devices", len(devices)).Str("driver", driver).Msg("GPU inventory read")

	return devices, driver, nil
}

func describe(index int, device nvml.Device) (Device, error) {
	name, ret := device.GetName()
	if !IsNVMLSuccess(ret) {
		return Device{}, newNVMLError(ret)
	}

	uuid, ret := device.GetUUID()
	if !IsNVMLSuccess(ret) {
		return Device{}, newNVMLError(ret)
	}

	memory, ret := device.GetMemoryInfo()
	if !IsNVMLSuccess(ret) {
		return Device{}, newNVMLError(ret)
	}

	return Device{
		Index:       index,
		Name:        name,
		UUID:        uuid,
		MemoryTotal: memory.Total,
	}, nil
}
