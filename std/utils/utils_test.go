package utils_test

import (
	"testing"
	"time"

	"github.com/pinorobotics/rtpstalk/std/utils"
	tu "github.com/pinorobotics/rtpstalk/std/utils/testutils"
	"github.com/stretchr/testify/require"
)

func TestMillis(t *testing.T) {
	tu.SetT(t)
	require.Equal(t, 1500*time.Millisecond, utils.Millis(uint64(1500)))
}
