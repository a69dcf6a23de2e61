package kalman

import (
	"errors"
	"fmt"
	"math"

	"github.com/LucaChot/fairprice/src/matrix"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

const (
	// EMA weights for the noise scales. Measurement noise reacts faster than
	// process noise.
	rWeight = 0.05
	qWeight = 0.02

	// Caps on the innovation magnitude fed into each EMA.
	rCap = 10.0
	qCap = 5.0

	covTolerance = 1e-9
)

// AdaptiveFilter is a constant-velocity Kalman filter over the state
// [price, velocity] whose process and measurement noise are rescaled after
// every update from the magnitude of the innovation.
//
// An AdaptiveFilter is not safe for concurrent use; every price stream owns
// its own instance.
type AdaptiveFilter struct {
	// state vector [price, velocity]
	x vec2
	// covariance P
	P mat2

	qScale float64
	rScale float64

	// fixed model
	f     mat2
	h     vec2
	qBase mat2
	rBase float64

	velocityBound float64
	checkCov      bool
	steps         int
	logger        *log.Entry
}

type adaptiveOptions struct {
	initX         []float64
	initP         []float64
	Q             []float64
	R             float64
	velocityBound float64
	checkCov      bool
	logger        *log.Entry
}

// Option configures an AdaptiveFilter.
type Option func(*adaptiveOptions)

// WithInitX sets the initial [price, velocity].
func WithInitX(initX []float64) Option {
	return func(o *adaptiveOptions) {
		o.initX = initX
	}
}

// WithInitP sets the initial covariance, row-major.
func WithInitP(initP []float64) Option {
	return func(o *adaptiveOptions) {
		o.initP = initP
	}
}

// WithQ sets the base process-noise matrix, row-major.
func WithQ(q []float64) Option {
	return func(o *adaptiveOptions) {
		o.Q = q
	}
}

// WithR sets the base measurement-noise variance.
func WithR(r float64) Option {
	return func(o *adaptiveOptions) {
		o.R = r
	}
}

// WithVelocityBound sets the symmetric clamp applied to the velocity state.
func WithVelocityBound(bound float64) Option {
	return func(o *adaptiveOptions) {
		o.velocityBound = bound
	}
}

// WithCovarianceCheck verifies P after every update.
func WithCovarianceCheck() Option {
	return func(o *adaptiveOptions) {
		o.checkCov = true
	}
}

func WithLogger(logger *log.Entry) Option {
	return func(o *adaptiveOptions) {
		o.logger = logger
	}
}

func defaultAdaptiveOptions() adaptiveOptions {
	return adaptiveOptions{
		initX:         []float64{0, 0},
		initP:         []float64{10, 0, 0, 10},
		Q:             []float64{0.01, 0, 0, 0.001},
		R:             0.1,
		velocityBound: 2000,
		logger:        log.NewEntry(log.StandardLogger()),
	}
}

// NewAdaptiveFilter builds a filter from the documented initial state
// x=[0,0], P=10·I with Qbase=diag(0.01, 0.001) and Rbase=0.1, unless
// overridden by opts.
func NewAdaptiveFilter(opts ...Option) (*AdaptiveFilter, error) {
	options := defaultAdaptiveOptions()
	for _, opt := range opts {
		opt(&options)
	}

	if len(options.initX) != 2 {
		return nil, errors.New("initX must have length 2")
	}
	if len(options.initP) != 4 {
		return nil, errors.New("initP must have length 4")
	}
	if len(options.Q) != 4 {
		return nil, errors.New("Q must have length 4")
	}
	if !allFinite(options.initX, options.initP, options.Q) {
		return nil, errors.New("initial state and noise must be finite")
	}

	initP := toMat2(options.initP)
	if err := checkCovarianceLike("initP", initP); err != nil {
		return nil, err
	}
	q := toMat2(options.Q)
	if err := checkCovarianceLike("Q", q); err != nil {
		return nil, err
	}
	if math.IsNaN(options.R) || math.IsInf(options.R, 0) || options.R < 0 {
		return nil, fmt.Errorf("R must be a finite non-negative variance, got %g", options.R)
	}
	if !(options.velocityBound > 0) {
		return nil, fmt.Errorf("velocity bound must be positive, got %g", options.velocityBound)
	}
	if options.logger == nil {
		options.logger = log.NewEntry(log.StandardLogger())
	}

	kf := &AdaptiveFilter{
		x:             vec2{options.initX[0], options.initX[1]},
		P:             initP,
		qScale:        1.0,
		rScale:        1.0,
		f:             mat2{{1, 1}, {0, 1}},
		h:             vec2{1, 0},
		qBase:         q,
		rBase:         options.R,
		velocityBound: options.velocityBound,
		checkCov:      options.checkCov,
		logger:        options.logger,
	}
	kf.x[1] = kf.clampVelocity(kf.x[1])
	return kf, nil
}

func allFinite(vs ...[]float64) bool {
	for _, v := range vs {
		for _, f := range v {
			if math.IsNaN(f) || math.IsInf(f, 0) {
				return false
			}
		}
	}
	return true
}

func toMat2(v []float64) mat2 {
	return mat2{{v[0], v[1]}, {v[2], v[3]}}
}

func checkCovarianceLike(name string, m mat2) error {
	if m[0][1] != m[1][0] {
		return fmt.Errorf("%s must be symmetric", name)
	}
	if m[0][0] < 0 || m[1][1] < 0 {
		return fmt.Errorf("%s must have a non-negative diagonal", name)
	}
	return nil
}

// Step consumes one observation: predict, update, adapt the noise scales
// and clamp the velocity. A non-finite observation is rejected before the
// state is touched.
func (kf *AdaptiveFilter) Step(z float64) (Estimate, error) {
	if math.IsNaN(z) || math.IsInf(z, 0) {
		return Estimate{}, fmt.Errorf("%w: %v", ErrNonFinite, z)
	}
	kf.Predict()
	return kf.Update(z)
}

// Predict propagates the state one interval under constant velocity and
// inflates P by the scaled process noise.
func (kf *AdaptiveFilter) Predict() {
	q := kf.qBase.scale(kf.qScale)
	kf.x = kf.f.mulVec(kf.x)
	kf.P = kf.f.mul(kf.P).mul(kf.f.t()).add(q)
}

// Update incorporates observation z into the predicted state. On a
// degenerate innovation covariance the predicted state is left in place.
func (kf *AdaptiveFilter) Update(z float64) (Estimate, error) {
	// Innovation y = z - H x
	y := z - dot(kf.h, kf.x)

	// Innovation covariance S = H P H^T + R
	r := kf.rBase * kf.rScale
	ph := kf.P.mulVec(kf.h)
	S := dot(kf.h, ph) + r
	if !(S > 0) || math.IsInf(S, 0) {
		return Estimate{}, fmt.Errorf("%w: S=%g", ErrDegenerateInnovation, S)
	}
	if math.IsNaN(y) || math.IsInf(y, 0) {
		return Estimate{}, fmt.Errorf("%w: innovation=%g", ErrDegenerateInnovation, y)
	}

	// Kalman gain K = P H^T / S
	k := vec2{ph[0] / S, ph[1] / S}

	kf.x = vec2{kf.x[0] + k[0]*y, kf.x[1] + k[1]*y}

	// Joseph form: P = (I - K H) P (I - K H)^T + K R K^T
	ikh := identity.sub(outer(k, kf.h))
	kf.P = ikh.mul(kf.P).mul(ikh.t()).add(outer(k, k).scale(r)).symmetrize()

	kf.adapt(y)
	kf.x[1] = kf.clampVelocity(kf.x[1])
	kf.steps++

	if sigma := math.Sqrt(S); math.Abs(y) > 3*sigma {
		if kf.logger.Logger.IsLevelEnabled(log.DebugLevel) {
			kf.logger.WithField("cond", matrix.Condition(matrix.Dense(kf.P))).
				Debugf("large innovation: y=%.4f, 3σ=%.4f", y, 3*sigma)
		}
	}

	if kf.checkCov {
		if err := kf.checkCovariance(); err != nil {
			return Estimate{}, err
		}
	}

	return Estimate{
		FairPrice:     kf.x[0],
		FairVelocity:  kf.x[1],
		QScale:        kf.qScale,
		RScale:        kf.rScale,
		Innovation:    y,
		InnovationVar: S,
	}, nil
}

func (kf *AdaptiveFilter) adapt(y float64) {
	m := math.Abs(y)
	kf.rScale = (1-rWeight)*kf.rScale + rWeight*math.Min(rCap, m)
	kf.qScale = (1-qWeight)*kf.qScale + qWeight*math.Min(qCap, m)
}

func (kf *AdaptiveFilter) clampVelocity(v float64) float64 {
	return math.Max(-kf.velocityBound, math.Min(kf.velocityBound, v))
}

func (kf *AdaptiveFilter) checkCovariance() error {
	if !matrix.IsSymmetric(matrix.Dense(kf.P), covTolerance) {
		return fmt.Errorf("%w: P=%v", ErrCovariance, kf.P)
	}
	tol := covTolerance * math.Max(1, kf.P[0][0]+kf.P[1][1])
	ok, err := matrix.IsPSD(matrix.FromArray(kf.P), tol)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCovariance, err)
	}
	if !ok {
		return fmt.Errorf("%w: P=%v", ErrCovariance, kf.P)
	}
	return nil
}

// State returns a copy of [price, velocity].
func (kf *AdaptiveFilter) State() []float64 {
	return []float64{kf.x[0], kf.x[1]}
}

// ForceState overwrites [price, velocity]. The velocity clamp still applies.
func (kf *AdaptiveFilter) ForceState(newX []float64) error {
	if len(newX) != 2 {
		return errors.New("newX must have length 2")
	}
	if !allFinite(newX) {
		return fmt.Errorf("%w: %v", ErrNonFinite, newX)
	}
	kf.x = vec2{newX[0], kf.clampVelocity(newX[1])}
	return nil
}

// Covariance returns a copy of P.
func (kf *AdaptiveFilter) Covariance() *mat.SymDense {
	return matrix.FromArray(kf.P)
}

// Scales returns the current process and measurement noise multipliers.
func (kf *AdaptiveFilter) Scales() (q, r float64) {
	return kf.qScale, kf.rScale
}

// Steps returns the number of successful updates.
func (kf *AdaptiveFilter) Steps() int {
	return kf.steps
}

var _ KalmanFilter = &AdaptiveFilter{}
