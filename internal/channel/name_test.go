package channel_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/loqui/pulse/internal/channel"
)

func TestValidate(t *testing.T) {

	t.Run("user channels", func(t *testing.T) {
		require.NoError(t, channel.Validate("user-7"))
		require.NoError(t, channel.Validate("user-k8GJd_2xPq"))
	})

	t.Run("empty", func(t *testing.T) {
		require.Error(t, channel.Validate(""))
	})

	t.Run("invalid characters", func(t *testing.T) {
		require.Error(t, channel.Validate("user/7"))
		require.Error(t, channel.Validate("user 7"))
		require.Error(t, channel.Validate("user-7\n"))
	})
}

func TestForUser(t *testing.T) {
	name := channel.ForUser("42")
	require.Equal(t, "user-42", name)
	require.NoError(t, channel.Validate(name))
}
