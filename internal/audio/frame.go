package audio

import "time"

// Encoding names the sample format of a byte stream.
type Encoding string

const (
	EncodingMulaw    Encoding = "mulaw"
	EncodingLinear16 Encoding = "linear16"
)

// Format describes mono audio at a sample rate.
type Format struct {
	Encoding   Encoding
	SampleRate int
}

// TelephonyMulaw is what Twilio sends and expects.
var TelephonyMulaw = Format{Encoding: EncodingMulaw, SampleRate: TelephonySampleRate}

// TelephonyLinear16 is the decoded form used by the input pipeline.
var TelephonyLinear16 = Format{Encoding: EncodingLinear16, SampleRate: TelephonySampleRate}

// BytesPerSample returns 1 for μ-law and 2 for 16-bit PCM.
func (f Format) BytesPerSample() int {
	if f.Encoding == EncodingMulaw {
		return 1
	}
	return 2
}

// BytesPerSecond is the byte rate of the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.BytesPerSample()
}

// Duration returns how long n bytes of this format play for.
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// BytesFor returns the byte count for d, rounded down to a whole sample.
func (f Format) BytesFor(d time.Duration) int {
	n := int(int64(f.BytesPerSecond()) * int64(d) / int64(time.Second))
	return n - n%f.BytesPerSample()
}

// Silence returns n bytes of digital silence in this format.
func (f Format) Silence(n int) []byte {
	out := make([]byte, n)
	if f.Encoding == EncodingMulaw {
		for i := range out {
			out[i] = 0xFF
		}
	}
	return out
}
