package receiver

import "context"

// Capture holds one simultaneous acquisition from both receivers.
type Capture struct {
	R1 []complex128
	R2 []complex128
	// Noise1 and Noise2 are the additive noise realisations, when the source knows them.
	// They are used for SNR reporting only.
	Noise1 []complex128
	Noise2 []complex128
}

// Truth carries the parameters injected into a capture by a simulated source.
type Truth struct {
	Delay    int
	PhaseRad float64
}

// Source produces paired captures from two receivers.
type Source interface {
	Capture(ctx context.Context) (Capture, error)
}

// TruthSource is implemented by sources that know what they injected.
type TruthSource interface {
	Source
	Truth() Truth
}
