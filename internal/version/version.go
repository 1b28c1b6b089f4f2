// Package version holds the build version, overridden at release time
// with -ldflags "-X ...version.Version=x.y.z".
package version

// Version is the running server version.
var Version = "1.5.0"
