package daemon

// Inferencer is the named external-collaborator interface for the
// neural-network dimensionality-reduction model (spec §1 non-goal:
// "neural-network dim-reduction inference adapter" stays out of
// scope beyond this entry point; spec §4.4.4).
type Inferencer interface {
	// Infer runs one model invocation per full batch, zero-padding and
	// truncating the tail to match BatchSize (spec §4.4.4).
	Infer(input []float32, n, dimIn, dimOut int) (output []float32)
	BatchSize() int
}

// IdentityInferencer is a deterministic stand-in for "the neural
// network dim-reduction inference adapter": it truncates or zero-pads
// each input row to dimOut rather than running any model, giving
// NNDimReduction a concrete, testable implementation without importing
// the named-external collaborator.
type IdentityInferencer struct {
	batchSize int
}

func NewIdentityInferencer(batchSize int) *IdentityInferencer {
	if batchSize < 1 {
		batchSize = 1
	}
	return &IdentityInferencer{batchSize: batchSize}
}

func (s *IdentityInferencer) BatchSize() int { return s.batchSize }

// Infer pads n rows (dimIn each) up to a whole number of batches, runs
// the (trivial) per-batch transform, and truncates the output back to
// n rows of dimOut (spec §4.4.4: "tail elements are zero-padded up to
// one full batch and the unused outputs are truncated").
func (s *IdentityInferencer) Infer(input []float32, n, dimIn, dimOut int) []float32 {
	batches := (n + s.batchSize - 1) / s.batchSize
	if batches == 0 {
		return nil
	}
	padded := batches * s.batchSize
	in := make([]float32, padded*dimIn)
	copy(in, input[:n*dimIn])

	out := make([]float32, padded*dimOut)
	for i := 0; i < padded; i++ {
		row := in[i*dimIn : (i+1)*dimIn]
		o := out[i*dimOut : (i+1)*dimOut]
		m := dimIn
		if dimOut < m {
			m = dimOut
		}
		copy(o[:m], row[:m])
	}
	return out[:n*dimOut]
}

// NNDimReduction wraps an Inferencer with the model handle lifecycle
// (create/infer/destroy) described in spec §6.
type NNDimReduction struct {
	Model           Inferencer
	DimIn, DimOut   int
}

func (n *NNDimReduction) Infer(input []float32, count int) []float32 {
	return n.Model.Infer(input, count, n.DimIn, n.DimOut)
}
