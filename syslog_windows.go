//go:build windows

package semlog

// Syslog is unavailable on Windows; the "syslog" sink type is simply not
// registered, so configurations referencing it fail with an unknown sink
// type error.
func registerPlatformSinks(*Registry) {}
