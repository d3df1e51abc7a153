package data

import (
	"math"
	"math/cmplx"

	"codeberg.org/teralab/teractl/internal/errors"
	"gonum.org/v1/gonum/dsp/fourier"
)

// Spectrum is the one-sided FFT of a waveform. Freq is in THz when the
// waveform time axis is in ps. Phase is unwrapped.
type Spectrum struct {
	Freq      []float64
	Amplitude []float64
	Phase     []float64
}

func (s *Spectrum) Arrays() map[string][]float64 {
	return map[string][]float64{
		"freq":      s.Freq,
		"amplitude": s.Amplitude,
		"phase":     s.Phase,
	}
}

type spectrumOptions struct {
	cutoff    float64
	hasCutoff bool
	length    int
	pow2      bool
}

// SpectrumOption configures Waveform.Spectrum.
type SpectrumOption func(*spectrumOptions)

// WithCutoff keeps only samples with time < t before the FFT.
func WithCutoff(t float64) SpectrumOption {
	return func(o *spectrumOptions) {
		o.cutoff = t
		o.hasCutoff = true
	}
}

// WithLength sets the FFT length. Longer inputs are truncated, shorter
// ones zero-padded.
func WithLength(n int) SpectrumOption {
	return func(o *spectrumOptions) {
		o.length = n
	}
}

// WithPowerOfTwoPadding zero-pads to the next power of two. It is ignored
// when WithLength is given.
func WithPowerOfTwoPadding() SpectrumOption {
	return func(o *spectrumOptions) {
		o.pow2 = true
	}
}

// Spectrum computes the one-sided spectrum of the waveform. The sample
// spacing is taken from the first two time points.
func (w *Waveform) Spectrum(opts ...SpectrumOption) (*Spectrum, error) {
	errFactory := errors.New()

	var o spectrumOptions
	for _, opt := range opts {
		opt(&o)
	}

	if w.Len() < 2 {
		return nil, errFactory.New(ErrEmptyWaveform)
	}
	dt := w.Time[1] - w.Time[0]
	if dt <= 0 {
		return nil, errFactory.WithData(ErrInvalidSpectrum, "time axis is not increasing")
	}

	signal := w.Signal
	if o.hasCutoff {
		signal = make([]float64, 0, len(w.Signal))
		for i, t := range w.Time {
			if t < o.cutoff {
				signal = append(signal, w.Signal[i])
			}
		}
	}

	n := len(signal)
	switch {
	case o.length > 0:
		n = o.length
	case o.pow2:
		n = nextPowerOfTwo(n)
	}
	if n < 2 {
		return nil, errFactory.WithData(ErrInvalidSpectrum, "fewer than two samples after cutoff")
	}

	seq := make([]float64, n)
	copy(seq, signal)

	fft := fourier.NewFFT(n)
	coeff := fft.Coefficients(nil, seq)

	half := n / 2
	s := &Spectrum{
		Freq:      make([]float64, half),
		Amplitude: make([]float64, half),
		Phase:     make([]float64, half),
	}
	for k := 0; k < half; k++ {
		s.Freq[k] = fft.Freq(k) / dt
		s.Amplitude[k] = cmplx.Abs(coeff[k])
		s.Phase[k] = cmplx.Phase(coeff[k])
	}
	unwrap(s.Phase)

	return s, nil
}

func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// unwrap removes 2π jumps between consecutive phase samples in place.
func unwrap(phase []float64) {
	var offset float64
	for i := 1; i < len(phase); i++ {
		raw := phase[i] + offset
		d := raw - phase[i-1]
		if math.Abs(d) < math.Pi {
			phase[i] = raw
			continue
		}
		dd := math.Mod(d+math.Pi, 2*math.Pi)
		if dd < 0 {
			dd += 2 * math.Pi
		}
		dd -= math.Pi
		if dd == -math.Pi && d > 0 {
			dd = math.Pi
		}
		offset += dd - d
		phase[i] = raw + dd - d
	}
}
