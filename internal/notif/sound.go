package notif

import (
	"bytes"
	"encoding/binary"
	"math"
)

const (
	chimeSampleRate = 8000
	chimeFrequency  = 800.0
	chimeDuration   = 0.3 // seconds
)

// Chime renders the notification cue: a 300 ms 800 Hz sine with a fast
// attack and an exponential fade, as 16-bit mono PCM in a WAV container.
func Chime() []byte {
	sampleCount := int(chimeSampleRate * chimeDuration)
	samples := make([]int16, sampleCount)

	for i := range samples {
		t := float64(i) / chimeSampleRate
		amp := 0.1
		if t < 0.01 {
			amp *= t / 0.01
		} else {
			amp *= math.Pow(0.1, (t-0.01)/(chimeDuration-0.01))
		}
		samples[i] = int16(amp * math.Sin(2*math.Pi*chimeFrequency*t) * math.MaxInt16)
	}

	return wrapWAV(samples)
}

func wrapWAV(samples []int16) []byte {
	dataSize := len(samples) * 2
	buf := &bytes.Buffer{}

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(buf, binary.LittleEndian, uint32(chimeSampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(chimeSampleRate*2)) // byte rate
	binary.Write(buf, binary.LittleEndian, uint16(2))                 // block align
	binary.Write(buf, binary.LittleEndian, uint16(16))                // bits per sample

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataSize))
	binary.Write(buf, binary.LittleEndian, samples)

	return buf.Bytes()
}
