// Package audio provides PCM16 sample-rate conversion and silence
// generation for the relay path. The remote leg speaks 24kHz mono and
// the local leg 16kHz mono, so the 24000→16000 conversion is the hot
// path.
package audio

// Resample converts audio from one sample rate to another using linear
// interpolation. This is a simple resampler suitable for speech audio;
// it is a pure function, so identical input always yields identical
// output. Output length is floor(len(samples)·toRate/fromRate).
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate {
		return samples
	}

	if len(samples) == 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	newLen := int(float64(len(samples)) / ratio)

	if newLen == 0 {
		return []int16{}
	}

	result := make([]int16, newLen)

	for i := 0; i < newLen; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := srcPos - float64(srcIdx)

		if srcIdx >= len(samples)-1 {
			result[i] = samples[len(samples)-1]
		} else {
			// Linear interpolation
			s1 := float64(samples[srcIdx])
			s2 := float64(samples[srcIdx+1])
			result[i] = int16(s1 + frac*(s2-s1))
		}
	}

	return result
}

// ResampleBytes resamples raw PCM16 little-endian bytes. Multi-channel
// input is interleaved; channels are resampled independently.
func ResampleBytes(data []byte, fromRate, toRate, channels int) []byte {
	if fromRate == toRate || len(data) == 0 {
		return data
	}
	if channels <= 1 {
		return SamplesToBytes(Resample(BytesToSamples(data), fromRate, toRate))
	}

	interleaved := BytesToSamples(data)
	frames := len(interleaved) / channels
	out := make([][]int16, channels)
	for ch := 0; ch < channels; ch++ {
		plane := make([]int16, frames)
		for f := 0; f < frames; f++ {
			plane[f] = interleaved[f*channels+ch]
		}
		out[ch] = Resample(plane, fromRate, toRate)
	}

	outFrames := len(out[0])
	merged := make([]int16, outFrames*channels)
	for f := 0; f < outFrames; f++ {
		for ch := 0; ch < channels; ch++ {
			merged[f*channels+ch] = out[ch][f]
		}
	}
	return SamplesToBytes(merged)
}

// BytesToSamples converts raw PCM16 little-endian bytes to int16 samples.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}

// SamplesToBytes converts int16 samples to raw PCM16 little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		data[i*2] = byte(s)
		data[i*2+1] = byte(s >> 8)
	}
	return data
}
