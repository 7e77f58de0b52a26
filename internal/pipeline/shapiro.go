package pipeline

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// ShapiroWilk computes the Shapiro-Wilk W statistic using Royston's
// approximation of the normal-order-statistic weights (AS R94). W near 1
// indicates a sample consistent with a normal distribution. Only the
// statistic is computed; the pipeline uses it to rank transforms, not to run
// a hypothesis test.
func ShapiroWilk(x []float64) (float64, error) {
	n := len(x)
	if n < 3 {
		return 0, fmt.Errorf("shapiro-wilk requires at least 3 observations, got %d", n)
	}

	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)

	if sorted[0] == sorted[n-1] {
		return 0, fmt.Errorf("shapiro-wilk undefined for identical values")
	}

	// Expected normal order statistics (Blom approximation).
	m := make([]float64, n)
	ssm := 0.0
	for i := range m {
		m[i] = distuv.UnitNormal.Quantile((float64(i+1) - 0.375) / (float64(n) + 0.25))
		ssm += m[i] * m[i]
	}

	a := make([]float64, n)
	if n == 3 {
		a[0] = -math.Sqrt(0.5)
		a[2] = math.Sqrt(0.5)
	} else {
		u := 1 / math.Sqrt(float64(n))

		c := make([]float64, n)
		rm := math.Sqrt(ssm)
		for i := range c {
			c[i] = m[i] / rm
		}

		an := c[n-1] + u*(0.221157+u*(-0.147981+u*(-2.071190+u*(4.434685+u*(-2.706056)))))

		if n > 5 {
			an1 := c[n-2] + u*(0.042981+u*(-0.293762+u*(-1.752461+u*(5.682633+u*(-3.582633)))))
			phi := (ssm - 2*m[n-1]*m[n-1] - 2*m[n-2]*m[n-2]) / (1 - 2*an*an - 2*an1*an1)

			sp := math.Sqrt(phi)
			for i := 2; i < n-2; i++ {
				a[i] = m[i] / sp
			}
			a[n-1], a[n-2] = an, an1
			a[0], a[1] = -an, -an1
		} else {
			phi := (ssm - 2*m[n-1]*m[n-1]) / (1 - 2*an*an)

			sp := math.Sqrt(phi)
			for i := 1; i < n-1; i++ {
				a[i] = m[i] / sp
			}
			a[n-1] = an
			a[0] = -an
		}
	}

	mean := stat.Mean(sorted, nil)
	num, den := 0.0, 0.0
	for i, v := range sorted {
		num += a[i] * v
		den += (v - mean) * (v - mean)
	}

	if den == 0 {
		return 0, fmt.Errorf("shapiro-wilk undefined for zero variance")
	}

	return num * num / den, nil
}
