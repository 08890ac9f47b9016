// Package game holds the authoritative state and fixed-step physics for one
// paddle-ball match, plus the simulation session that drives it.
package game

// Court geometry and kinematics, expressed in normalized coordinates where
// both axes span [0,1]. Velocities are court-units per tick.
const (
	// BaseSpeedX is the horizontal ball speed after every serve.
	BaseSpeedX = 0.015
	// BaseSpeedY is the vertical ball speed after every serve.
	BaseSpeedY = 0.012
	// BounceAccel multiplies speed on every wall or paddle rebound.
	BounceAccel = 1.05
	// PaddleHalfHeight is half the paddle's vertical extent (100px of a
	// 600px court in the reference client).
	PaddleHalfHeight = 1.0 / 12.0
	// PaddleBand is the horizontal band near each paddle plane inside which
	// a collision is possible (15px paddle width).
	PaddleBand = 0.02
	// MaxDeflect caps the vertical speed imparted by an off-center hit.
	MaxDeflect = 0.02
)

// Ball is the ball's position and per-tick velocity.
type Ball struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

// State is the mutable match state advanced by the simulation loop. Callers
// must serialize access through the owning Session.
type State struct {
	Ball     Ball
	Paddle1Y float64
	Paddle2Y float64
	Score1   int
	Score2   int
}

// NewState centers both paddles and serves toward player2.
func NewState() State {
	return State{
		Ball:     Ball{X: 0.5, Y: 0.5, DX: BaseSpeedX, DY: BaseSpeedY},
		Paddle1Y: 0.5,
		Paddle2Y: 0.5,
	}
}

// Outcome describes what a single physics step produced.
type Outcome int

const (
	// OutcomeNone means the ball advanced without contact.
	OutcomeNone Outcome = iota
	// OutcomeBounce means the ball rebounded off a wall or paddle.
	OutcomeBounce
	// OutcomePoint1 means the ball exited past player2's edge.
	OutcomePoint1
	// OutcomePoint2 means the ball exited past player1's edge.
	OutcomePoint2
)

// Step advances the ball one tick: integrate, bounce off the horizontal
// walls, collide with either paddle, then check for a court exit. Scores are
// incremented here; serving the next ball is the caller's decision.
func (s *State) Step() Outcome {
	if s == nil {
		return OutcomeNone
	}
	ball := &s.Ball
	//1.- Integrate position by the per-tick velocity.
	ball.X += ball.DX
	ball.Y += ball.DY

	outcome := OutcomeNone

	//2.- Rebound off the top and bottom walls with a small energy gain.
	if ball.Y < 0 {
		ball.Y = 0
		ball.DY = -ball.DY * BounceAccel
		outcome = OutcomeBounce
	} else if ball.Y > 1 {
		ball.Y = 1
		ball.DY = -ball.DY * BounceAccel
		outcome = OutcomeBounce
	}

	//3.- Collide with the paddle the ball is travelling toward. Snapping X to
	// the paddle plane prevents tunneling at high speed, and the return angle
	// scales with how far from the paddle center the ball struck.
	if ball.DX < 0 && ball.X <= PaddleBand {
		if offset := ball.Y - s.Paddle1Y; offset >= -PaddleHalfHeight && offset <= PaddleHalfHeight {
			ball.X = PaddleBand
			ball.DX = -ball.DX * BounceAccel
			ball.DY = (offset / PaddleHalfHeight) * MaxDeflect
			return OutcomeBounce
		}
	} else if ball.DX > 0 && ball.X >= 1-PaddleBand {
		if offset := ball.Y - s.Paddle2Y; offset >= -PaddleHalfHeight && offset <= PaddleHalfHeight {
			ball.X = 1 - PaddleBand
			ball.DX = -ball.DX * BounceAccel
			ball.DY = (offset / PaddleHalfHeight) * MaxDeflect
			return OutcomeBounce
		}
	}

	//4.- A court exit scores for the opposite player.
	if ball.X < 0 {
		s.Score2++
		return OutcomePoint2
	}
	if ball.X > 1 {
		s.Score1++
		return OutcomePoint1
	}
	return outcome
}

// Serve recenters the ball at fixed speed with the supplied direction signs.
func (s *State) Serve(towardPlayer1, upward bool) {
	if s == nil {
		return
	}
	dx := BaseSpeedX
	if towardPlayer1 {
		dx = -dx
	}
	dy := BaseSpeedY
	if upward {
		dy = -dy
	}
	s.Ball = Ball{X: 0.5, Y: 0.5, DX: dx, DY: dy}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
