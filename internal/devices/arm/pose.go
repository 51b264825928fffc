package arm

import (
	"fmt"
	"math"

	"github.com/nerrad567/minifc/internal/hardware"
)

// Joint names of the arm group.
const (
	JointBase     = "base"
	JointFemur01  = "femur01"
	JointFemur02  = "femur02"
	JointTibia    = "tibia"
	JointEffector = "effector"
)

// Effector goals.
const (
	EffectorOpen   = 400
	EffectorClosed = 650
)

// Pose is a goal position per joint name.
type Pose map[string]int

// Poses are the fixed configurations an arm moves through.
type Poses struct {
	Home Pose
	Sort Pose
	Rest Pose

	// Reach is the pick pose before the target offset is applied.
	Reach Pose
}

// DefaultPoses returns the poses of the five joint arm.
func DefaultPoses() Poses {
	return Poses{
		Home:  Pose{JointBase: 512, JointFemur01: 420, JointFemur02: 600, JointTibia: 510, JointEffector: EffectorOpen},
		Sort:  Pose{JointBase: 200, JointFemur01: 380, JointFemur02: 640, JointTibia: 480, JointEffector: EffectorClosed},
		Rest:  Pose{JointBase: 512, JointFemur01: 512, JointFemur02: 512, JointTibia: 512, JointEffector: EffectorOpen},
		Reach: Pose{JointBase: 512, JointFemur01: 360, JointFemur02: 660, JointTibia: 480, JointEffector: EffectorOpen},
	}
}

// Goals orders the pose by the group's member names. Every member must
// have a goal.
func (p Pose) Goals(names []string) ([]int, error) {
	goals := make([]int, len(names))
	for i, name := range names {
		v, ok := p[name]
		if !ok {
			return nil, fmt.Errorf("pose has no goal for %q", name)
		}
		goals[i] = v
	}
	return goals, nil
}

// with returns a copy of p with one goal replaced.
func (p Pose) with(name string, value int) Pose {
	out := make(Pose, len(p))
	for k, v := range p {
		out[k] = v
	}
	out[name] = value
	return out
}

// Pixel to goal gains of the pick map.
const (
	baseGain  = 2.0
	tibiaGain = 1.5
)

// PickPose maps a camera offset to joint goals: x swings the base, y
// extends the tibia.
func PickPose(reach Pose, x, y float64) Pose {
	p := reach.with(JointBase, clampGoal(reach[JointBase]+int(math.Round(x*baseGain))))
	return p.with(JointTibia, clampGoal(reach[JointTibia]+int(math.Round(y*tibiaGain))))
}

func clampGoal(v int) int {
	if v < 0 {
		return 0
	}
	if v > hardware.JointCCWLimit {
		return hardware.JointCCWLimit
	}
	return v
}
