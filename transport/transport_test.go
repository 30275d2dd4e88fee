package transport

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersionSignValid(t *testing.T) {
	sig := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("s", signatureSize)))
	require.True(t, VersionSign{Build: "3.5.0", Platform: "Linux", Sign: sig}.Valid())
	require.False(t, VersionSign{Build: "3.5.0", Platform: "Linux", Sign: "not base64!"}.Valid())
	require.False(t, VersionSign{Build: "3.5.0", Platform: "Linux", Sign: base64.StdEncoding.EncodeToString([]byte("short"))}.Valid())
	require.False(t, VersionSign{Platform: "Linux", Sign: sig}.Valid())
	require.True(t, VersionSign{}.IsZero())
}

func TestDefaultVersionFor(t *testing.T) {
	require.Equal(t, VersionWindows, DefaultVersionFor("windows"))
	require.Equal(t, VersionMacOS, DefaultVersionFor("darwin"))
	require.Equal(t, VersionLinux, DefaultVersionFor("freebsd"))
}

func TestChannelPath(t *testing.T) {
	require.Equal(t, "/42", ChannelPath(42))
	id, ok := ParseChannelPath("/42")
	require.True(t, ok)
	require.Equal(t, ChannelID(42), id)

	for _, p := range []string{"", "42", "/0", "/Lobby/Music"} {
		_, ok := ParseChannelPath(p)
		require.False(t, ok, p)
	}
}

func TestCommandErrorMatching(t *testing.T) {
	err := fmt.Errorf("upload: %w", &CommandError{Code: CodePermissionInvalidSize, Message: "too big"})
	require.ErrorIs(t, err, NewError(CodePermissionInvalidSize, ""))
	require.False(t, errors.Is(err, NewError(CodeParameterInvalidSize, "")))

	code, ok := CodeOf(err)
	require.True(t, ok)
	require.Equal(t, CodePermissionInvalidSize, code)

	_, ok = CodeOf(errors.New("plain"))
	require.False(t, ok)
}

func TestCommandErrorString(t *testing.T) {
	e := &CommandError{Code: CodeCouldNotValidateIdentity, Message: "level too low", ExtraMessage: "25"}
	require.Equal(t, "client_could_not_validate_identity: level too low (25)", e.Error())
	require.Equal(t, "error_0xffff", ErrorCode(0xffff).String())
}
