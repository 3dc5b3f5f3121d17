package bayesian

import (
	"fmt"
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/copyleftdev/paramopt/internal/optimization"
	"github.com/copyleftdev/paramopt/internal/optimization/kernels"
)

const maxJitterAttempts = 10

// GP implements a Gaussian Process regression model used as the surrogate of
// the objective. Targets are standardized before fitting and predictions are
// returned in the original units.
type GP struct {
	// Kernel function
	kernel kernels.Kernel

	// Noise variance added to the diagonal before factorization
	noiseVar float64

	// Training inputs, one point per row
	X *mat.Dense

	// Standardization of the targets
	yMean float64
	yStd  float64

	// Precomputed values
	alpha *mat.VecDense
	chol  *mat.Cholesky

	logger *zap.Logger
}

// NewGP creates a new Gaussian Process model
func NewGP(kernel kernels.Kernel, noiseVar float64, logger *zap.Logger) *GP {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GP{
		kernel:   kernel,
		noiseVar: noiseVar,
		logger:   logger.Named("gaussian_process"),
	}
}

// Fit fits the GP model to the training data. X holds one point per row.
func (gp *GP) Fit(X *mat.Dense, y []float64) error {
	const op = "GP.Fit"

	if X == nil {
		return optimization.NewErrorf("input matrix must not be nil").WithOperation(op)
	}

	nSamples, nFeatures := X.Dims()
	if nSamples == 0 || nFeatures == 0 {
		return optimization.NewErrorf("input matrix must not be empty").WithOperation(op)
	}
	if nSamples != len(y) {
		return optimization.NewErrorf("dimension mismatch: X has %d samples but y has length %d", nSamples, len(y)).WithOperation(op)
	}
	for i, v := range y {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return optimization.NewErrorf("target %d is not finite: %v", i, v).WithOperation(op)
		}
	}

	mean, std := stat.MeanStdDev(y, nil)
	if nSamples < 2 || std < 1e-12 || math.IsNaN(std) {
		std = 1
	}
	standardized := make([]float64, nSamples)
	for i, v := range y {
		standardized[i] = (v - mean) / std
	}

	K := gp.kernelMatrix(X)

	chol, jitter, err := gp.factorize(K)
	if err != nil {
		return optimization.WrapError(err, op)
	}

	alpha := mat.NewVecDense(nSamples, nil)
	if err := chol.SolveVecTo(alpha, mat.NewVecDense(nSamples, standardized)); err != nil {
		return optimization.WrapError(fmt.Errorf("failed to solve linear system: %w", err), op)
	}

	gp.X = mat.DenseCopyOf(X)
	gp.yMean = mean
	gp.yStd = std
	gp.alpha = alpha
	gp.chol = chol

	gp.logger.Debug("fitted GP model",
		zap.Int("samples", nSamples),
		zap.Int("features", nFeatures),
		zap.Float64("jitter", jitter),
		zap.Float64("length_scale", gp.kernel.LengthScale()),
	)
	return nil
}

// Fitted reports whether Fit has succeeded at least once.
func (gp *GP) Fitted() bool {
	return gp.alpha != nil
}

// PredictPoint returns the posterior mean and standard deviation at x.
func (gp *GP) PredictPoint(x []float64) (mean, std float64, err error) {
	const op = "GP.PredictPoint"

	if !gp.Fitted() {
		return 0, 0, optimization.NewErrorf("model not trained").WithOperation(op)
	}
	if _, trained := gp.X.Dims(); len(x) != trained {
		return 0, 0, optimization.NewErrorf("dimension mismatch: model has %d features, got %d", trained, len(x)).WithOperation(op)
	}
	mu, v, err := gp.predict(x)
	if err != nil {
		return 0, 0, err
	}
	return mu, math.Sqrt(v), nil
}

func (gp *GP) predict(x []float64) (float64, float64, error) {
	nTrain, _ := gp.X.Dims()

	kStar := mat.NewVecDense(nTrain, nil)
	for j := 0; j < nTrain; j++ {
		kStar.SetVec(j, gp.kernel.Eval(x, gp.X.RawRowView(j)))
	}

	mu := mat.Dot(kStar, gp.alpha)

	// variance = k(x,x) - k*^T K^-1 k*
	w := mat.NewVecDense(nTrain, nil)
	if err := gp.chol.SolveVecTo(w, kStar); err != nil {
		return 0, 0, fmt.Errorf("failed to solve linear system: %w", err)
	}
	v := math.Max(0, gp.kernel.Variance()-mat.Dot(kStar, w))

	return gp.yMean + gp.yStd*mu, v * gp.yStd * gp.yStd, nil
}

func (gp *GP) kernelMatrix(X *mat.Dense) *mat.SymDense {
	n, _ := X.Dims()
	K := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		x1 := X.RawRowView(i)
		for j := i; j < n; j++ {
			K.SetSym(i, j, gp.kernel.Eval(x1, X.RawRowView(j)))
		}
	}
	return K
}

// factorize adds noise to the diagonal and escalates the jitter tenfold
// until the Cholesky factorization succeeds.
func (gp *GP) factorize(K *mat.SymDense) (*mat.Cholesky, float64, error) {
	n := K.SymmetricDim()
	jitter := math.Max(gp.noiseVar, 1e-10)

	for attempt := 0; attempt < maxJitterAttempts; attempt++ {
		Kj := mat.NewSymDense(n, nil)
		Kj.CopySym(K)
		for i := 0; i < n; i++ {
			Kj.SetSym(i, i, Kj.At(i, i)+jitter)
		}

		var chol mat.Cholesky
		if chol.Factorize(Kj) {
			return &chol, jitter, nil
		}
		gp.logger.Debug("Cholesky factorization failed, increasing jitter",
			zap.Int("attempt", attempt+1),
			zap.Float64("jitter", jitter))
		jitter *= 10
	}
	return nil, 0, fmt.Errorf("kernel matrix is not positive definite after %d jitter attempts", maxJitterAttempts)
}
