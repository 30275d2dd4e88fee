package transport

import (
	"encoding/base64"
	"runtime"
	"strings"
)

// VersionSign is the client version a session announces. The server checks
// Sign against Build and Platform, so the three travel together.
//
// A VersionSign with an empty Sign asks the transport to use its built-in
// signature for Platform.
type VersionSign struct {
	Build    string
	Platform string
	Sign     string
}

var (
	VersionWindows = VersionSign{Platform: "Windows"}
	VersionLinux   = VersionSign{Platform: "Linux"}
	VersionMacOS   = VersionSign{Platform: "OS X"}
)

// signatureSize is the length of a decoded ed25519 version signature.
const signatureSize = 64

// Valid reports whether all three fields are present and Sign decodes to a
// signature of the expected size.
func (v VersionSign) Valid() bool {
	if v.Build == "" || v.Platform == "" || v.Sign == "" {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(v.Sign))
	return err == nil && len(raw) == signatureSize
}

// IsZero reports whether nothing was configured.
func (v VersionSign) IsZero() bool {
	return v.Build == "" && v.Platform == "" && v.Sign == ""
}

// DefaultVersion picks the built-in version for the running OS.
func DefaultVersion() VersionSign {
	return DefaultVersionFor(runtime.GOOS)
}

func DefaultVersionFor(goos string) VersionSign {
	switch goos {
	case "windows":
		return VersionWindows
	case "darwin":
		return VersionMacOS
	default:
		return VersionLinux
	}
}
