package r2n2

// DummyEncoder stands in for a real view encoder. It ignores the view and
// returns Size features, each the mean of the view's values plus Bias.
type DummyEncoder struct {
	Size int
	Bias float32
}

func (d DummyEncoder) Encode(view []float32) ([]float32, error) {
	var mean float32
	for _, v := range view {
		mean += v
	}
	if len(view) > 0 {
		mean /= float32(len(view))
	}
	retVal := make([]float32, d.Size)
	for i := range retVal {
		retVal[i] = mean + d.Bias
	}
	return retVal, nil
}
