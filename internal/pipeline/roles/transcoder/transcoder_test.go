package transcoder

import (
	"testing"

	"github.com/rivermedia/chancore/internal/config"
	"github.com/rivermedia/chancore/internal/handoff"
	"github.com/stretchr/testify/assert"
)

func TestDescriptorForVideo_PassthroughUsesUpstream(t *testing.T) {
	upstream := &handoff.Descriptor{Video: &handoff.StreamFormat{Codec: "h264"}}
	spec := config.TranscodingSpec{Video: config.VideoTranscodingSpec{Streams: []config.VideoStreamSpec{{Codec: "passthrough"}}}}

	got := descriptorForVideo(spec, upstream)
	assert.Equal(t, "h264", got.Codec)
}

func TestDescriptorForVideo_TranscodedUsesConfiguredCodec(t *testing.T) {
	upstream := &handoff.Descriptor{Video: &handoff.StreamFormat{Codec: "h264"}}
	spec := config.TranscodingSpec{Video: config.VideoTranscodingSpec{Streams: []config.VideoStreamSpec{{Codec: "hevc"}}}}

	got := descriptorForVideo(spec, upstream)
	assert.Equal(t, "hevc", got.Codec)
}

func TestBuildFFmpegArgs_PassthroughCopiesBothStreams(t *testing.T) {
	spec := config.TranscodingSpec{}
	args := buildFFmpegArgs(spec, "/tmp/in", "/tmp/out")
	assert.Contains(t, args, "copy")
	assert.Equal(t, []string{"-c:v", "copy", "-c:a", "copy"}, args[5:9])
}

func TestBuildFFmpegArgs_TranscodedVideoSetsBitrateAndResolution(t *testing.T) {
	spec := config.TranscodingSpec{
		Video: config.VideoTranscodingSpec{
			Streams: []config.VideoStreamSpec{{Codec: "h264", BitrateBps: 3_000_000, Width: 1280, Height: 720}},
		},
	}
	args := buildFFmpegArgs(spec, "/tmp/in", "/tmp/out")
	assert.Contains(t, args, "3000000")
	assert.Contains(t, args, "1280x720")
}
