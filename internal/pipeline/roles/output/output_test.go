package output

import (
	"testing"

	"github.com/rivermedia/chancore/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDestinationURI(t *testing.T) {
	uri, err := destinationURI(config.OutputSpec{URI: "srt://explicit:9000"})
	require.NoError(t, err)
	assert.Equal(t, "srt://explicit:9000", uri)

	uri, err = destinationURI(config.OutputSpec{Kind: config.OutputDatagram, Host: "239.1.1.1", Port: 5000})
	require.NoError(t, err)
	assert.Equal(t, "udp://239.1.1.1:5000", uri)

	uri, err = destinationURI(config.OutputSpec{Kind: config.OutputReliableStream, Host: "1.2.3.4", Port: 9001})
	require.NoError(t, err)
	assert.Equal(t, "srt://1.2.3.4:9001", uri)

	_, err = destinationURI(config.OutputSpec{})
	assert.Error(t, err)
}

func TestBuildFFmpegArgs_IncludesProgramNumber(t *testing.T) {
	args := buildFFmpegArgs(config.MuxSpec{ProgramNumber: 7, BitrateBps: 5_000_000}, "/tmp/sock", config.OutputDatagram, "udp://1.2.3.4:5000")
	assert.Contains(t, args, "7")
	assert.Contains(t, args, "5000000")
	assert.Equal(t, "udp://1.2.3.4:5000", args[len(args)-1])
}
