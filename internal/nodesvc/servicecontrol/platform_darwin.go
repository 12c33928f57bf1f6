//go:build darwin

package servicecontrol

// NewPlatformDefault returns the Controller for platforms without a dedicated case in
// cmd/antnodemgr's newController switch. On macOS that's Launchd.
func NewPlatformDefault() Controller {
	return NewLaunchd()
}
