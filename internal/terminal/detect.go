package terminal

import "context"

// Detect finds the multiplexer session the current process runs inside,
// using the environment the multiplexers export to their children.
func Detect(ctx context.Context, getenv func(string) string, tmux *Tmux) (Target, bool) {
	if getenv("TMUX") != "" && tmux != nil {
		name, err := tmux.Current(ctx)
		if err == nil && name != "" {
			return Target{Backend: BackendTmux, Handle: name}, true
		}
	}
	if name := getenv("ZELLIJ_SESSION_NAME"); name != "" {
		return Target{Backend: BackendZellij, Handle: name}, true
	}
	return Target{}, false
}
