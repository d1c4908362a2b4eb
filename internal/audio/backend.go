package audio

// DeviceInfo describes a capture device.
type DeviceInfo struct {
	Name    string
	Default bool
}

// Backend opens capture devices. MalgoBackend is the production
// implementation.
type Backend interface {
	// Devices lists the capture devices currently attached.
	Devices() ([]DeviceInfo, error)

	// Open prepares a capture device without starting it. An empty name
	// selects the system default. onData receives raw interleaved frames in
	// the device's negotiated format and must not retain the slice. onStop
	// fires when the device stops, whether requested or not.
	Open(name string, want Format, onData func([]byte), onStop func()) (Device, error)

	Close() error
}

// Device is an opened capture device.
type Device interface {
	// Format reports the format the device actually delivers.
	Format() Format
	Start() error
	Stop() error
	Close()
}
