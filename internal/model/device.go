package model

import (
	"fmt"
	"strings"
)

// Device selects the execution provider used for inference.
type Device string

const (
	// DeviceAuto uses an accelerator when one can be attached, otherwise the CPU.
	DeviceAuto Device = "auto"
	DeviceCPU  Device = "cpu"
	DeviceCUDA Device = "cuda"
)

// ParseDevice converts a config string to a Device. An empty string means auto.
func ParseDevice(s string) (Device, error) {
	switch Device(strings.ToLower(strings.TrimSpace(s))) {
	case "", DeviceAuto:
		return DeviceAuto, nil
	case DeviceCPU:
		return DeviceCPU, nil
	case DeviceCUDA, "gpu":
		return DeviceCUDA, nil
	default:
		return "", fmt.Errorf("unknown device %q (want auto, cpu or cuda)", s)
	}
}

func (d Device) String() string {
	return string(d)
}
