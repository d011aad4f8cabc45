package input

import (
	"testing"

	"github.com/rivermedia/chancore/internal/config"
	"github.com/stretchr/testify/assert"
)

func TestBuildFFmpegArgs(t *testing.T) {
	args := buildFFmpegArgs(config.InputSpec{URI: "srt://source:9000"}, "/tmp/sock")
	assert.Contains(t, args, "srt://source:9000")
	assert.Equal(t, "unix:/tmp/sock", args[len(args)-1])
}
