package nodes

// Per-platform command catalog. An invoke must pass BOTH gates: the node
// declared the command in its hello AND the platform catalog lists it.
// A node cannot grant itself commands its platform does not carry.
var platformCatalog = map[string]map[string]bool{
	"ios": {
		"canvas.eval":     true,
		"canvas.navigate": true,
		"canvas.snapshot": true,
		"camera.capture":  true,
		"camera.clip":     true,
		"location.get":    true,
		"screen.record":   true,
		"system.notify":   true,
	},
	"android": {
		"canvas.eval":     true,
		"canvas.navigate": true,
		"canvas.snapshot": true,
		"camera.capture":  true,
		"camera.clip":     true,
		"location.get":    true,
		"screen.record":   true,
		"system.notify":   true,
	},
	"mac": {
		"canvas.eval":     true,
		"canvas.navigate": true,
		"canvas.snapshot": true,
		"camera.capture":  true,
		"location.get":    true,
		"screen.record":   true,
		"system.notify":   true,
		"system.run":      true,
	},
	"linux": {
		"canvas.snapshot": true,
		"system.notify":   true,
		"system.run":      true,
	},
	"windows": {
		"canvas.snapshot": true,
		"system.notify":   true,
		"system.run":      true,
	},
}

// PlatformAllows reports whether the platform catalog carries the command.
// Unknown platforms get no commands.
func PlatformAllows(platform, command string) bool {
	return platformCatalog[platform][command]
}
