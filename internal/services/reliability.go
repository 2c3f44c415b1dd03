package services

// cronbachAlpha estimates how consistently raters used a set of rating
// questions. rows holds one answer set per response, every row the same
// length. Population variance is used throughout; the result is clamped to
// [0, 1] and is 0 when it cannot be computed.
func cronbachAlpha(rows [][]float64) float64 {
	n := len(rows)
	if n < 2 || len(rows[0]) < 2 {
		return 0
	}
	k := len(rows[0])
	sums := make([]float64, k)
	sumSq := make([]float64, k)
	var totalSum, totalSq float64
	for _, row := range rows {
		if len(row) != k {
			return 0
		}
		var total float64
		for j, v := range row {
			sums[j] += v
			sumSq[j] += v * v
			total += v
		}
		totalSum += total
		totalSq += total * total
	}
	nf := float64(n)
	variance := func(sum, sq float64) float64 {
		m := sum / nf
		return sq/nf - m*m
	}
	var itemVar float64
	for j := 0; j < k; j++ {
		itemVar += variance(sums[j], sumSq[j])
	}
	totalVar := variance(totalSum, totalSq)
	if totalVar <= 0 {
		return 0
	}
	kf := float64(k)
	alpha := kf / (kf - 1) * (1 - itemVar/totalVar)
	switch {
	case alpha < 0:
		return 0
	case alpha > 1:
		return 1
	}
	return alpha
}
