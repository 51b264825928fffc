package arm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/minifc/internal/controller"
	"github.com/nerrad567/minifc/internal/hardware"
)

// Stage names in pass order.
const (
	StageHome = "home"
	StageFind = "find"
	StagePick = "pick"
	StageSort = "sort"
)

// DefaultFindInterval is the pause between two camera samples.
const DefaultFindInterval = time.Second

// Target is the find result. X and Y are null when nothing was found.
type Target struct {
	X        *float64 `json:"x"`
	Y        *float64 `json:"y"`
	Filename string   `json:"filename,omitempty"`
}

// Found reports whether the target carries coordinates.
func (t Target) Found() bool {
	return t.X != nil && t.Y != nil
}

// MoveResult is the result of home and of a halt.
type MoveResult struct {
	OK     bool   `json:"ok"`
	Goals  []int  `json:"goals,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// PickResult is the pick result.
type PickResult struct {
	Picked bool   `json:"picked"`
	Goals  []int  `json:"goals,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// SortResult is the sort result.
type SortResult struct {
	Sorted bool   `json:"sorted"`
	Reason string `json:"reason,omitempty"`
}

// Skip reasons.
const (
	ReasonNoTarget  = "no target"
	ReasonNotPicked = "nothing picked"
)

// Options configures an Arm.
type Options struct {
	// Detector samples the camera. Required.
	Detector hardware.Detector

	// Uploader receives captured frames. Nil disables uploads.
	Uploader Uploader

	// Poses defaults to DefaultPoses when Home is nil.
	Poses Poses

	// FindInterval defaults to DefaultFindInterval.
	FindInterval time.Duration
}

// Arm is a controller.Device for a five joint pick and sort arm.
type Arm struct {
	detector     hardware.Detector
	uploader     Uploader
	poses        Poses
	findInterval time.Duration
}

// New creates an arm.
func New(opts Options) (*Arm, error) {
	if opts.Detector == nil {
		return nil, errors.New("arm: detector is required")
	}
	if opts.Poses.Home == nil {
		opts.Poses = DefaultPoses()
	}
	if opts.FindInterval <= 0 {
		opts.FindInterval = DefaultFindInterval
	}
	return &Arm{
		detector:     opts.Detector,
		uploader:     opts.Uploader,
		poses:        opts.Poses,
		findInterval: opts.FindInterval,
	}, nil
}

// Stages implements controller.Device.
func (a *Arm) Stages() []controller.Stage {
	return []controller.Stage{
		homeStage{a},
		findStage{a},
		pickStage{a},
		sortStage{a},
	}
}

// Halt moves the arm to its rest pose.
func (a *Arm) Halt(ctx context.Context, env *controller.Env) controller.StageResult {
	goals, err := a.move(ctx, env, a.poses.Rest)
	if err != nil {
		env.Logger.Warn("arm halt incomplete", "error", err)
		return controller.StageResult{Payload: MoveResult{Reason: err.Error()}}
	}
	return controller.StageResult{Payload: MoveResult{OK: true, Goals: goals}}
}

// move writes pose as goal positions to the whole group.
func (a *Arm) move(ctx context.Context, env *controller.Env, pose Pose) ([]int, error) {
	goals, err := pose.Goals(env.Group.Names())
	if err != nil {
		return nil, err
	}
	results, err := env.Group.WriteAll(ctx, hardware.RegGoalPosition, goals)
	if err != nil {
		return nil, err
	}
	return goals, results.Err()
}

// =============================================================================
// Stages
// =============================================================================

type homeStage struct{ arm *Arm }

func (homeStage) Name() string { return StageHome }

func (s homeStage) Run(ctx context.Context, env *controller.Env, _ controller.StageResult) controller.StageResult {
	goals, err := s.arm.move(ctx, env, s.arm.poses.Home)
	if err != nil {
		env.Logger.Warn("homing failed", "error", err)
		return controller.StageResult{Payload: MoveResult{Reason: err.Error()}}
	}
	return controller.StageResult{Payload: MoveResult{OK: true, Goals: goals}}
}

type findStage struct{ arm *Arm }

func (findStage) Name() string { return StageFind }

// Run samples the camera until a box is found or the gate is disarmed.
// The last captured frame is uploaded either way.
func (s findStage) Run(ctx context.Context, env *controller.Env, _ controller.StageResult) controller.StageResult {
	var target Target
	for env.Running(ctx) {
		det, err := s.arm.detector.Detect(ctx)
		if err != nil {
			env.Logger.Warn("camera sample failed", "error", err)
		} else {
			target = Target{X: det.X, Y: det.Y, Filename: det.Filename}
			if target.Found() {
				break
			}
		}
		if err := env.Wait(ctx, s.arm.findInterval); err != nil {
			break
		}
	}

	if s.arm.uploader != nil && target.Filename != "" {
		if err := s.arm.uploader.Upload(ctx, target.Filename); err != nil {
			env.Logger.Warn("frame upload failed", "file", target.Filename, "error", err)
		}
	}
	return controller.StageResult{Payload: target}
}

type pickStage struct{ arm *Arm }

func (pickStage) Name() string { return StagePick }

func (s pickStage) Run(ctx context.Context, env *controller.Env, prior controller.StageResult) controller.StageResult {
	target, ok := prior.Payload.(Target)
	if !ok || !target.Found() {
		return controller.StageResult{Payload: PickResult{Reason: ReasonNoTarget}}
	}

	pose := PickPose(s.arm.poses.Reach, *target.X, *target.Y)
	goals, err := s.arm.move(ctx, env, pose)
	if err != nil {
		env.Logger.Warn("reach failed", "error", err)
		return controller.StageResult{Payload: PickResult{Reason: err.Error()}}
	}
	if err := env.Group.Write(ctx, JointEffector, hardware.RegGoalPosition, EffectorClosed); err != nil {
		env.Logger.Warn("grip failed", "error", err)
		return controller.StageResult{Payload: PickResult{Goals: goals, Reason: err.Error()}}
	}
	return controller.StageResult{Payload: PickResult{Picked: true, Goals: goals}}
}

type sortStage struct{ arm *Arm }

func (sortStage) Name() string { return StageSort }

func (s sortStage) Run(ctx context.Context, env *controller.Env, prior controller.StageResult) controller.StageResult {
	picked, ok := prior.Payload.(PickResult)
	if !ok || !picked.Picked {
		return controller.StageResult{Payload: SortResult{Reason: ReasonNotPicked}}
	}

	if _, err := s.arm.move(ctx, env, s.arm.poses.Sort); err != nil {
		env.Logger.Warn("carry to drop pose failed", "error", err)
		return controller.StageResult{Payload: SortResult{Reason: err.Error()}}
	}
	if err := env.Group.Write(ctx, JointEffector, hardware.RegGoalPosition, EffectorOpen); err != nil {
		env.Logger.Warn("release failed", "error", err)
		return controller.StageResult{Payload: SortResult{Reason: fmt.Sprintf("release: %v", err)}}
	}
	return controller.StageResult{Payload: SortResult{Sorted: true}}
}
