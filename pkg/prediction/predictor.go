package prediction

import (
	"github.com/cbodonnell/tether/pkg/kinematic"
	"github.com/cbodonnell/tether/pkg/netid"
	"github.com/cbodonnell/tether/pkg/snapshot"
)

// StepFunc advances an actor by one tick of input. It must be deterministic:
// the server runs the same function on the same frames.
type StepFunc func(state snapshot.CharacterStateInfo, input InputFrame, dt float64) snapshot.CharacterStateInfo

// Predictor runs the locally controlled actor ahead of the server and
// corrects it when authoritative states come back.
type Predictor struct {
	step      StepFunc
	dt        float64
	inputs    *InputBuffer
	predicted IDHistory
	current   snapshot.CharacterStateInfo
	// correction is the visual offset left by a small correction, blended
	// out over the following ticks.
	correction kinematic.Vector
	// lastAuthID is the newest input id an authoritative state was seen for.
	lastAuthID uint16
	hasAuth    bool

	tolerance     float64
	snapThreshold float64
	blendRate     float64
}

type NewPredictorOptions struct {
	Step StepFunc
	// TickInterval is the simulation step in seconds.
	TickInterval float64
	// Tolerance is the position error below which a prediction is accepted.
	Tolerance float64
	// SnapThreshold is the error above which the actor is moved at once
	// instead of blended.
	SnapThreshold float64
	// BlendRate is the share of the remaining visual offset removed per tick.
	BlendRate float64
	// Inputs is shared by every predictor of one session so input ids keep
	// rising when the controlled actor changes. A fresh buffer when nil.
	Inputs *InputBuffer
}

func NewPredictor(initial snapshot.CharacterStateInfo, opts NewPredictorOptions) *Predictor {
	if opts.BlendRate <= 0 || opts.BlendRate > 1 {
		opts.BlendRate = 0.2
	}
	if opts.Inputs == nil {
		opts.Inputs = NewInputBuffer()
	}
	return &Predictor{
		step:          opts.Step,
		dt:            opts.TickInterval,
		inputs:        opts.Inputs,
		current:       initial,
		tolerance:     opts.Tolerance,
		snapThreshold: opts.SnapThreshold,
		blendRate:     opts.BlendRate,
	}
}

// Current returns the predicted present state.
func (p *Predictor) Current() snapshot.CharacterStateInfo {
	return p.current
}

// RenderPosition is the present position with any pending correction
// offset still applied.
func (p *Predictor) RenderPosition() kinematic.Vector {
	return p.current.Position.Add(p.correction)
}

// Inputs returns the frames to send to the server.
func (p *Predictor) Inputs() []InputFrame {
	return p.inputs.Frames()
}

func (p *Predictor) History() *IDHistory {
	return &p.predicted
}

// Tick captures this tick's input and predicts its outcome.
func (p *Predictor) Tick(keys InputFlags, aim uint16, interact uint16) InputFrame {
	frame := p.inputs.Capture(keys, aim, interact)
	p.current = p.step(p.current, frame, p.dt)
	p.current.HasInputID = true
	p.current.InputID = frame.ID
	p.predicted.Insert(p.current)
	p.correction = p.correction.Scale(1 - p.blendRate)
	return frame
}

// Reconcile checks an authoritative state against the prediction made for
// the same input. On a mismatch the actor is rewound to the authoritative
// state and every later input is replayed. It reports whether a correction
// was made.
func (p *Predictor) Reconcile(auth snapshot.CharacterStateInfo) bool {
	if !auth.HasInputID || netid.MoreRecent(auth.InputID, p.inputs.LastID()) {
		return false
	}
	if p.hasAuth && !netid.MoreRecent(auth.InputID, p.lastAuthID) {
		return false
	}
	p.lastAuthID = auth.InputID
	p.hasAuth = true
	predicted, ok := p.predicted.Find(auth.InputID)
	p.predicted.DropThrough(auth.InputID)
	if ok && predicted.Position.Distance(auth.Position) <= p.tolerance {
		return false
	}

	previous := p.current.Position
	state := auth
	for _, frame := range p.inputs.After(auth.InputID) {
		state = p.step(state, frame, p.dt)
		state.HasInputID = true
		state.InputID = frame.ID
		p.predicted.Insert(state)
	}
	state.HasInputID = true
	if netid.MoreRecent(p.inputs.LastID(), auth.InputID) {
		state.InputID = p.inputs.LastID()
	}
	p.current = state

	offset := previous.Add(p.correction).Sub(state.Position)
	if offset.Length() > p.snapThreshold {
		p.correction = kinematic.Vector{}
	} else {
		p.correction = offset
	}
	return true
}
