//go:build !docker
// +build !docker

package atomicmail

var (
	// ConfigDirectory specifies the platform-specific default location of
	// the configuration envelope file.
	//
	// It should not be changed and is defined as a variable only for
	// purposes of modification using -X linker flag.
	ConfigDirectory = "/etc/atomicmail"

	// DefaultStateDirectory specifies the platform-specific default for
	// StateDirectory (the entity/object store's on-disk home).
	DefaultStateDirectory = "/var/lib/atomicmail"

	// DefaultRuntimeDirectory specifies the platform-specific default for
	// RuntimeDirectory.
	DefaultRuntimeDirectory = "/run/atomicmail"

	// DefaultLibexecDirectory specifies the platform-specific default for
	// LibexecDirectory.
	DefaultLibexecDirectory = "/usr/lib/atomicmail"
)
