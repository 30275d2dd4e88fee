package transport

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ggoodman/voicebot/identity"
)

// Descriptor is everything one connection attempt needs. It is built fresh
// for every attempt and never modified afterwards.
type Descriptor struct {
	Address         string
	Identity        *identity.Identity
	Name            string
	ServerPassword  string
	DefaultChannel  string
	ChannelPassword string
	Version         VersionSign
	// CorrelationID tags every log line and round trip of the attempt.
	CorrelationID string
}

// ChannelPath renders a channel id the way DefaultChannel expects it.
func ChannelPath(id ChannelID) string {
	return "/" + strconv.FormatUint(uint64(id), 10)
}

// ParseChannelPath is the inverse of ChannelPath. ok is false for named
// channel paths.
func ParseChannelPath(path string) (ChannelID, bool) {
	rest, found := strings.CutPrefix(path, "/")
	if !found {
		return 0, false
	}
	n, err := strconv.ParseUint(rest, 10, 64)
	if err != nil || n == 0 {
		return 0, false
	}
	return ChannelID(n), true
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s as %q (attempt %s)", d.Address, d.Name, d.CorrelationID)
}
