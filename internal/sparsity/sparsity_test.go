package sparsity

import (
	"math"
	"math/rand"
	"testing"

	"github.com/FlavioCFOliveira/GoSAE/internal/layer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func randomMatrix(rng *rand.Rand, rows, cols int, lo, hi float64) *mat.Dense {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = lo + rng.Float64()*(hi-lo)
	}
	return mat.NewDense(rows, cols, data)
}

func mustL0(t *testing.T, theta *layer.Parameter, epsilon float64) *L0 {
	l0, err := NewL0(theta, epsilon)
	require.NoError(t, err)
	return l0
}

func TestL1Forward(t *testing.T) {
	l1 := NewL1()
	a := mat.NewDense(2, 3, []float64{
		1, -2, 0,
		0.5, 0.5, -1,
	})
	// (3 + 2) / 2
	assert.InDelta(t, 2.5, l1.Forward(a, nil), 1e-12)
}

func TestL1NeverNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	l1 := NewL1()
	for trial := 0; trial < 20; trial++ {
		a := randomMatrix(rng, 1+rng.Intn(5), 1+rng.Intn(16), -10, 10)
		assert.GreaterOrEqual(t, l1.Forward(a, a), 0.0)
	}
}

func TestL0Bounds(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	for trial := 0; trial < 20; trial++ {
		hidden := 1 + rng.Intn(16)
		theta := layer.NewVectorParameter("theta", randomMatrix(rng, 1, hidden, 0, 0.1).RawRowView(0))
		l0 := mustL0(t, theta, DefaultL0Epsilon)

		z := randomMatrix(rng, 1+rng.Intn(5), hidden, -50, 50)
		got := l0.Forward(nil, z)
		assert.GreaterOrEqual(t, got, 0.0)
		assert.LessOrEqual(t, got, float64(hidden))
	}
}

func TestL0CountsOpenGates(t *testing.T) {
	theta := layer.NewVectorParameter("theta", []float64{0, 0, 0, 0})
	l0 := mustL0(t, theta, 1e-3)

	// Far from the threshold the surrogate is a hard count: 2 open gates per row.
	z := mat.NewDense(2, 4, []float64{
		5, -5, 5, -5,
		-5, 5, -5, 5,
	})
	assert.InDelta(t, 2.0, l0.Forward(nil, z), 1e-9)

	// At the threshold every gate counts for one half.
	assert.InDelta(t, 2.0, l0.Forward(nil, mat.NewDense(1, 4, nil)), 1e-12)
}

func TestL0ForwardHasNoSideEffects(t *testing.T) {
	theta := layer.NewVectorParameter("theta", []float64{0.05, 0.02})
	l0 := mustL0(t, theta, DefaultL0Epsilon)

	z := mat.NewDense(1, 2, []float64{0.3, -0.1})
	first := l0.Forward(nil, z)
	assert.Equal(t, first, l0.Forward(nil, z))
	assert.Equal(t, []float64{0, 0}, theta.GradRow())
	assert.Equal(t, []float64{0.05, 0.02}, theta.Row())
}

func TestNewL0Validation(t *testing.T) {
	_, err := NewL0(nil, 0.1)
	assert.Error(t, err)

	_, err = NewL0(layer.NewParameter("theta", 1, 2), 0)
	assert.Error(t, err)
}

func TestKLZeroAtTargetRate(t *testing.T) {
	kl, err := NewKL(0.25)
	require.NoError(t, err)

	// Every column has mean exactly 0.25.
	a := mat.NewDense(4, 3, []float64{
		0, 1, 0.25,
		0, 0, 0.25,
		0, 0, 0.25,
		1, 0, 0.25,
	})
	assert.InDelta(t, 0.0, kl.Forward(a, nil), 1e-12)

	gradAct := mat.NewDense(4, 3, nil)
	kl.Backward(a, nil, gradAct, nil, 1)
	for _, g := range gradAct.RawMatrix().Data {
		assert.InDelta(t, 0.0, g, 1e-12)
	}
}

func TestKLClampAtZeroActivation(t *testing.T) {
	kl, err := NewKL(0.05)
	require.NoError(t, err)

	a := mat.NewDense(3, 5, nil)
	got := kl.Forward(a, nil)
	require.False(t, math.IsNaN(got), "KL must not be NaN")
	require.False(t, math.IsInf(got, 0), "KL must not be Inf")

	perNeuron := 0.05*math.Log(0.05/KLEpsilon) + 0.95*math.Log(0.95/(1-KLEpsilon))
	assert.InDelta(t, 5*perNeuron, got, 1e-9)

	// Clamped neurons receive no gradient.
	gradAct := mat.NewDense(3, 5, nil)
	kl.Backward(a, nil, gradAct, nil, 1)
	assert.Equal(t, 0.0, mat.Sum(gradAct))
}

func TestKLClampAtSaturation(t *testing.T) {
	kl, err := NewKL(0.5)
	require.NoError(t, err)

	a := mat.NewDense(2, 2, []float64{1, 1, 1, 1})
	got := kl.Forward(a, nil)
	assert.False(t, math.IsInf(got, 0) || math.IsNaN(got))
}

func TestNewKLValidation(t *testing.T) {
	for _, rho := range []float64{0, 1, -0.1, 1.5, math.NaN()} {
		_, err := NewKL(rho)
		assert.Errorf(t, err, "rho=%v must be rejected", rho)
	}
}

func TestFactoriesBuildFreshInstances(t *testing.T) {
	f := KLFactory(0.1)
	a, err := f(8)
	require.NoError(t, err)
	b, err := f(8)
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.Equal(t, KindKL, a.Kind())

	_, err = KLFactory(2)(8)
	assert.Error(t, err)

	p, err := L1Factory()(8)
	require.NoError(t, err)
	assert.Equal(t, KindL1, p.Kind())
}

// numericGrad returns the central difference of f w.r.t. x[i][j].
func numericGrad(f func() float64, x *mat.Dense, i, j int) float64 {
	const h = 1e-6
	orig := x.At(i, j)
	x.Set(i, j, orig+h)
	plus := f()
	x.Set(i, j, orig-h)
	minus := f()
	x.Set(i, j, orig)
	return (plus - minus) / (2 * h)
}

func TestBackwardMatchesFiniteDifference(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	const rows, cols, scale = 3, 4, 0.7

	kl, err := NewKL(0.1)
	require.NoError(t, err)
	theta := layer.NewVectorParameter("theta", []float64{0.05, 0.01, 0.08, 0.03})
	l0 := mustL0(t, theta, 0.5)

	cases := []struct {
		name    string
		penalty Penalty
		lo, hi  float64
	}{
		// Activations kept away from the KL clamp and from L1's kink at 0.
		{"KL", kl, 0.05, 0.6},
		{"L0", l0, -1, 1},
		{"L1", NewL1(), 0.1, 2},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			act := randomMatrix(rng, rows, cols, tc.lo, tc.hi)
			if tc.name == "L1" {
				act.Set(1, 2, -act.At(1, 2))
			}
			pre := randomMatrix(rng, rows, cols, tc.lo, tc.hi)
			theta.ZeroGrad()

			gradAct := mat.NewDense(rows, cols, nil)
			gradPre := mat.NewDense(rows, cols, nil)
			tc.penalty.Backward(act, pre, gradAct, gradPre, scale)

			f := func() float64 { return scale * tc.penalty.Forward(act, pre) }
			for i := 0; i < rows; i++ {
				for j := 0; j < cols; j++ {
					assert.InDeltaf(t, numericGrad(f, act, i, j), gradAct.At(i, j), 1e-5, "dAct[%d][%d]", i, j)
					assert.InDeltaf(t, numericGrad(f, pre, i, j), gradPre.At(i, j), 1e-5, "dPre[%d][%d]", i, j)
				}
			}

			if tc.name == "L0" {
				thetaM := theta.Value
				for j := 0; j < cols; j++ {
					assert.InDeltaf(t, numericGrad(f, thetaM, 0, j), theta.GradRow()[j], 1e-5, "dTheta[%d]", j)
				}
			}
		})
	}
}

func TestBackwardShapeMismatch(t *testing.T) {
	a := mat.NewDense(2, 3, nil)
	assert.Panics(t, func() {
		NewL1().Backward(a, a, mat.NewDense(2, 2, nil), mat.NewDense(2, 3, nil), 1)
	})
}
