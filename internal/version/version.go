// Package version holds the CORE's self-reported version string. No daemon
// banner or --version output in this module prints it.
package version

// Version is overridden at link time via -ldflags in release builds.
var Version = "3.4.1-oc"
