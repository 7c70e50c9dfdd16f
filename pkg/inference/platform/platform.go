// Package platform answers platform-support questions for the two
// backend adapters.
package platform

import "runtime"

// SupportsCPUGPU returns true if the general CPU/GPU engine is supported on
// the current platform. It ships prebuilt binaries for all three major
// desktop OSes.
func SupportsCPUGPU() bool {
	return true
}

// SupportsNPU returns true if the NPU adapter is registered on the current
// platform: Windows and Linux. The engine package the adapter downloads
// exists only for Windows on amd64; elsewhere the adapter works only with
// an explicit engine entrypoint path.
func SupportsNPU() bool {
	return runtime.GOOS == "windows" || runtime.GOOS == "linux"
}
