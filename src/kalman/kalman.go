package kalman

import "errors"

var (
	// ErrNonFinite is returned when an observation is NaN or infinite.
	ErrNonFinite = errors.New("observation is not a finite number")

	// ErrDegenerateInnovation is returned when the innovation covariance S
	// is zero, negative or not finite and the gain cannot be computed.
	ErrDegenerateInnovation = errors.New("degenerate innovation covariance")

	// ErrCovariance is returned by the optional self-check when P is no
	// longer symmetric positive-semi-definite.
	ErrCovariance = errors.New("state covariance is not symmetric positive-semi-definite")
)

// KalmanFilter is a filter that consumes one scalar observation per step.
type KalmanFilter interface {
	Step(z float64) (Estimate, error)
	State() []float64
	ForceState(newX []float64) error
}

// Estimate is the result of one filter step.
type Estimate struct {
	FairPrice    float64
	FairVelocity float64
	QScale       float64
	RScale       float64

	// Innovation is y = z - H·x computed against the predicted state.
	Innovation float64
	// InnovationVar is S = H·P·Hᵗ + R used for the gain.
	InnovationVar float64
}
