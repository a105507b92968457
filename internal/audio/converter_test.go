package audio

import (
	"errors"
	"math"
	"testing"
	"time"
)

func TestConvertPCMToPCMU(t *testing.T) {
	samples := []int16{0, 1000, -1000, 32767, -32768}
	pcmData := SamplesToBytes(samples)

	pcmuData, err := ConvertPCMToPCMU(pcmData, 8000, 8000)
	if err != nil {
		t.Fatalf("ConvertPCMToPCMU failed: %v", err)
	}
	if len(pcmuData) != len(samples) {
		t.Errorf("Expected PCMU length %d, got %d", len(samples), len(pcmuData))
	}
}

func TestConvertPCMToPCMU_Errors(t *testing.T) {
	if _, err := ConvertPCMToPCMU(nil, 8000, 8000); !errors.Is(err, ErrEmptyAudio) {
		t.Errorf("Expected ErrEmptyAudio, got %v", err)
	}
	if _, err := ConvertPCMToPCMU([]byte{1, 2, 3}, 8000, 8000); !errors.Is(err, ErrOddLength) {
		t.Errorf("Expected ErrOddLength, got %v", err)
	}
}

func TestConvertPCMToPCMU_Resample(t *testing.T) {
	// 0.1 seconds at 24kHz
	samples := make([]int16, 2400)
	for i := range samples {
		samples[i] = int16(i % 1000)
	}

	pcmuData, err := ConvertPCMToPCMU(SamplesToBytes(samples), 24000, 8000)
	if err != nil {
		t.Fatalf("ConvertPCMToPCMU failed: %v", err)
	}
	if len(pcmuData) != 800 {
		t.Errorf("Expected PCMU length 800, got %d", len(pcmuData))
	}
}

func TestConvertPCMUToPCM(t *testing.T) {
	pcmuData := []byte{0x7F, 0xFF, 0x00, 0x80, 0x7E}

	pcmData, err := ConvertPCMUToPCM(pcmuData)
	if err != nil {
		t.Fatalf("ConvertPCMUToPCM failed: %v", err)
	}
	if len(pcmData) != len(pcmuData)*2 {
		t.Errorf("Expected PCM length %d, got %d", len(pcmuData)*2, len(pcmData))
	}
}

func TestMulaw_SilenceDecodesToZero(t *testing.T) {
	// 0xFF is μ-law silence
	if got := mulawToLinear(0xFF); got != 0 {
		t.Errorf("Expected 0 for μ-law silence, got %d", got)
	}
	if got := linearToMulaw(0); got != 0xFF {
		t.Errorf("Expected 0xFF for linear zero, got %#x", got)
	}
}

func TestMulaw_RoundTripWithinQuantization(t *testing.T) {
	testSamples := []int16{-8000, -4096, -1024, -256, 0, 256, 1024, 4096, 8000}

	for _, sample := range testSamples {
		recovered := mulawToLinear(linearToMulaw(sample))
		diff := math.Abs(float64(sample) - float64(recovered))

		// quantization step doubles per segment; allow one step for the sample's segment
		tolerance := math.Max(16, math.Abs(float64(sample))/16)
		if diff > tolerance {
			t.Errorf("Round-trip for %d recovered %d (diff %.0f > %.0f)", sample, recovered, diff, tolerance)
		}
	}
}

func TestMulaw_SignSymmetry(t *testing.T) {
	for _, sample := range []int16{100, 1000, 5000} {
		pos := mulawToLinear(linearToMulaw(sample))
		neg := mulawToLinear(linearToMulaw(-sample))
		if pos != -neg {
			t.Errorf("Expected symmetric decode for ±%d, got %d and %d", sample, pos, neg)
		}
	}
}

func TestResample(t *testing.T) {
	samples := make([]int16, 100)
	for i := range samples {
		samples[i] = int16(i * 100)
	}

	if got := Resample(samples, 8000, 16000); len(got) != 200 {
		t.Errorf("Expected resampled length 200, got %d", len(got))
	}
	if got := Resample(samples, 16000, 8000); len(got) != 50 {
		t.Errorf("Expected resampled length 50, got %d", len(got))
	}
	if got := Resample(samples, 8000, 8000); len(got) != len(samples) {
		t.Errorf("Expected unchanged length %d, got %d", len(samples), len(got))
	}
}

func TestBytesToSamples(t *testing.T) {
	samples, err := BytesToSamples([]byte{0x00, 0x00, 0xFF, 0x7F, 0x00, 0x80})
	if err != nil {
		t.Fatalf("BytesToSamples failed: %v", err)
	}

	expected := []int16{0, 32767, -32768}
	for i, exp := range expected {
		if samples[i] != exp {
			t.Errorf("Expected sample %d at index %d, got %d", exp, i, samples[i])
		}
	}
}

func TestSamplesToBytes(t *testing.T) {
	bytes := SamplesToBytes([]int16{0, 32767, -32768})

	expected := []byte{0x00, 0x00, 0xFF, 0x7F, 0x00, 0x80}
	for i, exp := range expected {
		if bytes[i] != exp {
			t.Errorf("Expected byte %d at index %d, got %d", exp, i, bytes[i])
		}
	}
}

func TestCalculateRMS(t *testing.T) {
	samples := []int16{1000, -1000, 2000, -2000}
	rms := CalculateRMS(samples)

	expected := math.Sqrt((1000000 + 1000000 + 4000000 + 4000000) / 4.0)
	if math.Abs(rms-expected) > 0.1 {
		t.Errorf("Expected RMS %.2f, got %.2f", expected, rms)
	}
	if CalculateRMS(nil) != 0 {
		t.Error("Expected RMS 0 for empty slice")
	}
}

func TestFormat_Durations(t *testing.T) {
	if d := TelephonyMulaw.Duration(8000); d != time.Second {
		t.Errorf("Expected 1s for 8000 μ-law bytes, got %v", d)
	}
	if d := TelephonyLinear16.Duration(320); d != 20*time.Millisecond {
		t.Errorf("Expected 20ms for 320 linear16 bytes, got %v", d)
	}
	if n := TelephonyLinear16.BytesFor(10 * time.Millisecond); n != 160 {
		t.Errorf("Expected 160 bytes for 10ms linear16, got %d", n)
	}
}

func TestFormat_Silence(t *testing.T) {
	for _, b := range TelephonyMulaw.Silence(4) {
		if b != 0xFF {
			t.Fatalf("Expected μ-law silence byte 0xFF, got %#x", b)
		}
	}
	for _, b := range TelephonyLinear16.Silence(4) {
		if b != 0 {
			t.Fatalf("Expected zero PCM silence, got %#x", b)
		}
	}
}
