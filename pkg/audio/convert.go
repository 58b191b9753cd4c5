package audio

import "fmt"

// Downmix averages interleaved multi-channel float samples into mono. Mono
// input is returned unchanged. A trailing partial frame is dropped.
func Downmix(interleaved []float32, channels int) []float32 {
	if channels <= 1 {
		return interleaved
	}
	frames := len(interleaved) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for ch := range channels {
			sum += interleaved[i*channels+ch]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Resample converts mono float samples from srcRate to dstRate using linear
// interpolation. If the rates match or are invalid the input is returned
// unchanged.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) == 0 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := range dstLen {
		pos := float64(i) * ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))

		s0 := samples[idx]
		s1 := s0
		if idx+1 < len(samples) {
			s1 = samples[idx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}

// ResamplePCM16 resamples little-endian mono 16-bit PCM bytes. It is used for
// backends whose input rate differs from the capture rate.
func ResamplePCM16(pcm []byte, srcRate, dstRate int) ([]byte, error) {
	if srcRate == dstRate {
		return pcm, nil
	}
	samples, err := DecodePCM16LE(pcm)
	if err != nil {
		return nil, err
	}
	return EncodePCM16LE(FloatToPCM16(Resample(PCM16ToFloat(samples), srcRate, dstRate))), nil
}

// formatString returns a human-readable string for a sample rate and channel count,
// e.g. "24000Hz mono".
func formatString(rate, channels int) string {
	ch := "mono"
	if channels == 2 {
		ch = "stereo"
	} else if channels > 2 || channels <= 0 {
		ch = fmt.Sprintf("%dch", channels)
	}
	return fmt.Sprintf("%dHz %s", rate, ch)
}
