package claimingmode

import (
	"os"
)

// SysfsButton samples a GPIO value file exported under sysfs. Exporting
// the pin and setting its direction is provisioning's job.
type SysfsButton struct {
	path      string
	activeLow bool
}

// NewSysfsButton creates a button input over the given value file
func NewSysfsButton(path string, activeLow bool) *SysfsButton {
	return &SysfsButton{path: path, activeLow: activeLow}
}

func (b *SysfsButton) Pressed() bool {
	data, err := os.ReadFile(b.path)
	if err != nil || len(data) == 0 {
		return false
	}
	high := data[0] == '1'
	if b.activeLow {
		return !high
	}
	return high
}

// NullButton never reports a press. Used when no button pin is
// configured; the window can still be opened over the management API.
type NullButton struct{}

func (NullButton) Pressed() bool { return false }
