package surface

import "runtime"

// enforce the bound automatically on boards up to this many cores
const autoGateCPUs = 4

// GateFromMode maps a configured gate mode onto Options fields. "off"
// lifts the bound entirely, "auto" enforces it only on small
// appliance-class hosts, anything else enforces it unconditionally.
func GateFromMode(mode string) (gated bool, probe func() bool) {
	switch mode {
	case "off":
		return false, nil
	case "auto":
		return false, func() bool { return runtime.NumCPU() <= autoGateCPUs }
	default:
		return true, nil
	}
}
