package proc

// Nice range accepted by the fair-share scheduler.
const (
	NiceMin = -20
	NiceMax = 19
)

// NiceZeroWeight is the load weight of a nice 0 process; vruntime advances at
// wall-clock rate for a process of this weight.
const NiceZeroWeight = 1024

// niceToWeight maps nice -20..19 to load weight. Each step is roughly a 10%
// change in CPU share.
var niceToWeight = [40]uint64{
	/* -20 */ 88761, 71755, 56483, 46273, 36291,
	/* -15 */ 29154, 23254, 18705, 14949, 11916,
	/* -10 */ 9548, 7620, 6100, 4904, 3906,
	/*  -5 */ 3121, 2501, 1991, 1586, 1277,
	/*   0 */ 1024, 820, 655, 526, 423,
	/*   5 */ 335, 272, 215, 172, 137,
	/*  10 */ 110, 87, 70, 56, 45,
	/*  15 */ 36, 29, 23, 18, 15,
}

// ClampNice limits nice to NiceMin..NiceMax.
func ClampNice(nice int) int {
	if nice < NiceMin {
		return NiceMin
	}
	if nice > NiceMax {
		return NiceMax
	}
	return nice
}

// WeightForNice returns the load weight for nice, clamping out-of-range values.
func WeightForNice(nice int) uint64 {
	return niceToWeight[ClampNice(nice)-NiceMin]
}
