package route

import (
	"fmt"
	"sort"

	"github.com/gin-gonic/gin"
)

// RouterLoader mounts a plugin's routes.
type RouterLoader func(r gin.IRouter) error

// Plugin is a route plugin. Lower Order mounts first.
type Plugin struct {
	Name   string
	Order  int
	Loader RouterLoader
}

var plugins []Plugin

// Register adds a route plugin. Called from init() in plugin packages.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

func sorted() []Plugin {
	out := append([]Plugin(nil), plugins...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out
}

// Names returns the registered plugin names in mount order.
func Names() []string {
	var names []string
	for _, p := range sorted() {
		names = append(names, p.Name)
	}
	return names
}

// MountAll mounts every registered plugin on r.
func MountAll(r gin.IRouter) error {
	for _, p := range sorted() {
		if err := p.Loader(r); err != nil {
			return fmt.Errorf("mount %s routes: %w", p.Name, err)
		}
	}
	return nil
}
