package blob

import (
	"context"
	"fmt"
)

// Config selects and parameterizes a backend.
type Config struct {
	Driver Driver `yaml:"driver" validate:"omitempty,oneof=fs s3 memory"`
	// Root is the directory for the fs driver.
	Root string `yaml:"root"`
	// Create makes the fs driver create Root when it is missing. Asset roots
	// leave it false so a mistyped path surfaces as an error.
	Create bool     `yaml:"create"`
	S3     S3Config `yaml:"s3"`
}

// Configured reports whether cfg names a backend at all: an fs driver
// without a root is the "nothing selected" state.
func (c Config) Configured() bool {
	switch c.Driver {
	case "", DriverFilesystem:
		return c.Root != ""
	default:
		return true
	}
}

// Open selects a blob.Store implementation from cfg. An empty driver means fs.
func Open(ctx context.Context, cfg Config) (Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverFilesystem
	}
	switch driver {
	case DriverFilesystem:
		if cfg.Create {
			return NewFilesystem(cfg.Root)
		}
		return OpenFilesystem(cfg.Root)
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
