package audio

// SilenceChunks returns zeroed PCM16 mono buffers covering durationMS at
// the given sample rate, sliced into chunks of chunkSamples samples.
// The remote model's voice activity detection needs a short tail of
// silence after the user stops talking to close the turn.
func SilenceChunks(durationMS, sampleRate, chunkSamples int) [][]byte {
	if durationMS <= 0 || sampleRate <= 0 || chunkSamples <= 0 {
		return nil
	}

	totalSamples := durationMS * sampleRate / 1000
	full := totalSamples / chunkSamples
	remainder := totalSamples % chunkSamples

	chunks := make([][]byte, 0, full+1)
	for i := 0; i < full; i++ {
		chunks = append(chunks, make([]byte, chunkSamples*2))
	}
	if remainder > 0 {
		chunks = append(chunks, make([]byte, remainder*2))
	}
	return chunks
}
