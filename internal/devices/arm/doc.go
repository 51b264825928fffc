// Package arm implements the sort and inventory arm devices.
//
// One pass of an arm runs four stages in this order:
//
//	home → find → pick → sort
//
// home moves every joint to the home pose. find samples the camera until a
// box is seen or the gate is disarmed, and uploads the captured frame.
// pick maps the find result to joint goals with a fixed linear map and
// closes the effector. sort carries a picked box to the drop pose and
// opens the effector. Each stage only sees the result of the stage before
// it, so an interrupted pass can never pick on a stale target.
//
// The inventory arm is the same device driven by a different command key.
package arm
