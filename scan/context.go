package scan

import (
	"context"

	"github.com/dotside-studios/seatlink-agent/permission"
)

type deviceKey struct{}

// WithDevice binds a scan to the remote device with the given id, typically
// the phone of the guest asking for their table. Local drivers ignore it.
func WithDevice(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, deviceKey{}, id)
}

// DeviceFrom returns the device bound with WithDevice, or "".
func DeviceFrom(ctx context.Context) string {
	id, _ := ctx.Value(deviceKey{}).(string)
	return id
}

// RequestDriver is implemented by drivers whose hardware depends on the
// request, such as a remote driver serving the device bound to ctx.
type RequestDriver interface {
	Driver
	// CapabilitiesFor lists the local permissions a scan for ctx needs.
	CapabilitiesFor(ctx context.Context) []permission.Capability
	// HardwareKey names the hardware a scan for ctx would use. Scans with
	// different keys never wait for each other.
	HardwareKey(ctx context.Context) string
}

// CapabilitiesFor returns the permissions d needs for a scan under ctx.
func CapabilitiesFor(ctx context.Context, d Driver) []permission.Capability {
	if rd, ok := d.(RequestDriver); ok {
		return rd.CapabilitiesFor(ctx)
	}
	return d.Capabilities()
}

// HardwareKey returns the lease key of d under ctx. Local drivers use "".
func HardwareKey(ctx context.Context, d Driver) string {
	if rd, ok := d.(RequestDriver); ok {
		return rd.HardwareKey(ctx)
	}
	return ""
}
