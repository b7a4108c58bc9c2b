//go:build mediadevices

package rtc

import (
	"testing"

	"github.com/pion/mediadevices/pkg/io/audio"
	"github.com/pion/mediadevices/pkg/wave"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceAudioMuteSilencesSamples(t *testing.T) {
	source := audio.ReaderFunc(func() (wave.Audio, func(), error) {
		chunk := wave.NewInt16Interleaved(wave.ChunkInfo{Len: 4, Channels: 1, SamplingRate: 48000})
		copy(chunk.Data, []int16{100, -100, 200, -200})
		return chunk, func() {}, nil
	})
	d := &deviceAudio{}
	r := d.gate(source)

	chunk, _, err := r.Read()
	require.NoError(t, err)
	assert.Equal(t, []int16{100, -100, 200, -200}, chunk.(*wave.Int16Interleaved).Data)

	d.SetMuted(true)
	chunk, _, err = r.Read()
	require.NoError(t, err)
	assert.Equal(t, []int16{0, 0, 0, 0}, chunk.(*wave.Int16Interleaved).Data)

	d.SetMuted(false)
	chunk, _, err = r.Read()
	require.NoError(t, err)
	assert.Equal(t, []int16{100, -100, 200, -200}, chunk.(*wave.Int16Interleaved).Data)
}
