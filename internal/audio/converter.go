package audio

import (
	"errors"
	"fmt"
	"math"
)

const (
	// TelephonySampleRate is the G.711 rate Twilio Media Streams uses in both directions.
	TelephonySampleRate = 8000

	mulawClip = 8159
	mulawBias = 0x21
)

var (
	// ErrEmptyAudio is returned when a conversion receives no samples.
	ErrEmptyAudio = errors.New("empty audio data")

	// ErrOddLength is returned for 16-bit PCM payloads with a dangling byte.
	ErrOddLength = errors.New("PCM data length must be even (16-bit samples)")
)

// ConvertPCMToPCMU converts 16-bit little-endian PCM at inputSampleRate to G.711
// μ-law at outputSampleRate.
func ConvertPCMToPCMU(pcmData []byte, inputSampleRate, outputSampleRate int) ([]byte, error) {
	if len(pcmData) == 0 {
		return nil, ErrEmptyAudio
	}
	samples, err := BytesToSamples(pcmData)
	if err != nil {
		return nil, err
	}
	if inputSampleRate != outputSampleRate {
		samples = Resample(samples, inputSampleRate, outputSampleRate)
	}
	return EncodeMulaw(samples), nil
}

// ConvertPCMUToPCM converts G.711 μ-law to 16-bit little-endian PCM at the same rate.
func ConvertPCMUToPCM(pcmuData []byte) ([]byte, error) {
	if len(pcmuData) == 0 {
		return nil, ErrEmptyAudio
	}
	return SamplesToBytes(DecodeMulaw(pcmuData)), nil
}

// EncodeMulaw encodes linear samples as μ-law bytes.
func EncodeMulaw(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = linearToMulaw(s)
	}
	return out
}

// DecodeMulaw expands μ-law bytes to linear samples.
func DecodeMulaw(data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = mulawToLinear(b)
	}
	return out
}

// Resample performs linear interpolation resampling. Good enough for speech going
// to an 8kHz phone line.
func Resample(samples []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(outputRate) / float64(inputRate)
	out := make([]int16, len(samples)*outputRate/inputRate)
	last := len(samples) - 1

	for i := range out {
		pos := float64(i) / ratio
		i0 := int(pos)
		if i0 > last {
			i0 = last
		}
		i1 := i0 + 1
		if i1 > last {
			i1 = last
		}
		frac := pos - float64(i0)
		out[i] = int16(float64(samples[i0])*(1-frac) + float64(samples[i1])*frac)
	}
	return out
}

// linearToMulaw implements the ITU-T G.711 μ-law compander for one sample.
func linearToMulaw(sample int16) byte {
	magnitude := int32(sample)
	var sign byte
	if magnitude < 0 {
		sign = 0x80
		magnitude = -magnitude
	}
	if magnitude > mulawClip {
		magnitude = mulawClip
	}
	magnitude += mulawBias

	// segment is the position of the highest set bit above bit 5
	segment := byte(0)
	for threshold := int32(0x40); segment < 7 && magnitude >= threshold; threshold <<= 1 {
		segment++
	}

	mantissa := byte((magnitude >> (segment + 1)) & 0x0F)
	return ^(sign | segment<<4 | mantissa)
}

// mulawToLinear inverts linearToMulaw.
func mulawToLinear(b byte) int16 {
	b = ^b
	segment := int32((b >> 4) & 0x07)
	mantissa := int32(b & 0x0F)

	magnitude := (mantissa<<(segment+1) + mulawBias<<segment) - mulawBias
	if b&0x80 != 0 {
		return int16(-magnitude)
	}
	return int16(magnitude)
}

// CalculateRMS calculates the root mean square of the samples.
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// PCMRMS is CalculateRMS over 16-bit little-endian bytes.
func PCMRMS(pcm []byte) (float64, error) {
	samples, err := BytesToSamples(pcm)
	if err != nil {
		return 0, err
	}
	return CalculateRMS(samples), nil
}

// BytesToSamples decodes 16-bit little-endian PCM.
func BytesToSamples(pcm []byte) ([]int16, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("%w: got %d bytes", ErrOddLength, len(pcm))
	}
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
	}
	return samples, nil
}

// SamplesToBytes encodes samples as 16-bit little-endian PCM.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[2*i] = byte(s)
		out[2*i+1] = byte(uint16(s) >> 8)
	}
	return out
}
