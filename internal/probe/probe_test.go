package probe

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProbeJSON = `{
  "streams": [
    {"index": 0, "codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080},
    {"index": 1, "codec_type": "audio", "codec_name": "aac", "sample_rate": "48000", "channels": 2}
  ],
  "programs": [
    {"program_id": 1, "pmt_pid": 256, "pcr_pid": 257, "streams": [
      {"index": 0, "codec_type": "video", "codec_name": "h264"},
      {"index": 1, "codec_type": "audio", "codec_name": "aac"}
    ]}
  ],
  "format": {"format_name": "mpegts", "nb_streams": 2, "nb_programs": 1}
}`

func TestResult_VideoAndAudioStream(t *testing.T) {
	var result Result
	require.NoError(t, json.Unmarshal([]byte(sampleProbeJSON), &result))

	video, ok := result.VideoStream()
	require.True(t, ok)
	assert.Equal(t, "h264", video.CodecName)

	audio, ok := result.AudioStream()
	require.True(t, ok)
	assert.Equal(t, "aac", audio.CodecName)

	assert.Equal(t, 1, result.ProgramNumber())
}

func TestResult_FallsBackToTopLevelStreamsWithoutProgram(t *testing.T) {
	var result Result
	require.NoError(t, json.Unmarshal([]byte(`{
		"streams": [{"codec_type": "video", "codec_name": "mpeg2video"}],
		"programs": []
	}`), &result))

	video, ok := result.VideoStream()
	require.True(t, ok)
	assert.Equal(t, "mpeg2video", video.CodecName)
	assert.Equal(t, 0, result.ProgramNumber())
}

func TestResult_NoVideoStream(t *testing.T) {
	var result Result
	require.NoError(t, json.Unmarshal([]byte(`{"streams": [], "programs": []}`), &result))
	_, ok := result.VideoStream()
	assert.False(t, ok)
}
