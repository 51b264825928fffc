package hardware

import (
	"context"

	"github.com/nerrad567/minifc/internal/telemetry"
)

// Register names understood by every Bus.
const (
	RegGoalPosition = "goal_position"
	RegMovingSpeed  = "moving_speed"
	RegCWLimit      = "cw_angle_limit"
	RegCCWLimit     = "ccw_angle_limit"
	RegTorqueEnable = "torque_enable"
)

// Joint mode angle limits and the direction bit of a wheel speed.
const (
	JointCCWLimit = 1023
	wheelCWBit    = 1024
	maxWheelSpeed = 1023
)

// ReadFields lists the telemetry fields refreshed by Group.Read, in the
// order they are read.
var ReadFields = []string{
	telemetry.FieldPresentSpeed,
	telemetry.FieldPresentPosition,
	telemetry.FieldPresentLoad,
	telemetry.FieldGoalPosition,
	telemetry.FieldMoving,
	telemetry.FieldPresentTemperature,
	telemetry.FieldTorqueLimit,
}

// Bus is the transport to a set of actuators addressed by numeric id.
//
// Implementations must honour ctx cancellation and deadlines. Values are
// int for numeric registers and bool for flags such as "moving".
type Bus interface {
	Ping(ctx context.Context, servoID int) error
	ReadRegister(ctx context.Context, servoID int, register string) (any, error)
	WriteRegister(ctx context.Context, servoID int, register string, value int) error
	Close() error
}
