// Package sampling picks which extracted frames are sent for analysis.
//
// Frames are taken every stride-th position. When even that would exceed
// the frame cap, the cap wins and the picks spread uniformly across the
// whole timeline rather than bunching at the start.
package sampling

// Indices returns the frame positions to keep out of n frames, sampling
// every stride-th frame up to maxFrames picks. When the strided count
// would exceed maxFrames, exactly maxFrames positions are returned,
// spaced evenly across [0, n). The result is strictly increasing and
// never longer than min(maxFrames, n).
func Indices(n, stride, maxFrames int) []int {
	if n <= 0 {
		return nil
	}
	if stride < 1 {
		stride = 1
	}
	if maxFrames < 1 {
		maxFrames = 1
	}
	strided := (n + stride - 1) / stride
	if strided <= maxFrames {
		out := make([]int, 0, strided)
		for i := 0; i < n; i += stride {
			out = append(out, i)
		}
		return out
	}
	out := make([]int, maxFrames)
	for i := range out {
		out[i] = i * n / maxFrames
	}
	return out
}
