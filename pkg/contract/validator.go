package contract

// 校验库函数（纯函数，无 I/O）：
// - ValidateBatches: 批按 Index 自 0 递增，半开区间首尾相接，恰好覆盖 [0,n)
// - ValidateFrames:  帧按下标对齐，逐个非空，恰好覆盖 [0,n)

func ValidateBatches(batches []Batch, n int) error {
	if n < 0 {
		return ErrInvalidInput
	}
	expect := 0
	for i, b := range batches {
		if b.Index != i || b.Start != expect || b.End <= b.Start {
			return ErrSeqInvalid
		}
		expect = b.End
	}
	if expect != n {
		return ErrSeqInvalid
	}
	return nil
}

func ValidateFrames(frames []RenderedFrame, n int) error {
	if n <= 0 {
		return ErrNothingToRender
	}
	if len(frames) != n {
		return ErrSeqInvalid
	}
	for i, f := range frames {
		if f.Index != i || f.Path == "" {
			return ErrSeqInvalid
		}
	}
	return nil
}
