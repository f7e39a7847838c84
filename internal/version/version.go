// Package version holds the build-time service identity used for tracing
// resource attributes and the status endpoint. The teacher's own build-info
// lookup lived in an external module unavailable to this repository, so this
// is a minimal stand-in: a build tag can override Version via -ldflags.
package version

// Version is the gateway's reported version, overridable at build time with
// -ldflags="-X github.com/aikeygate/gateway/internal/version.Version=...".
var Version = "dev"

// ServiceName identifies this service in traces and logs.
const ServiceName = "aikeygate"
