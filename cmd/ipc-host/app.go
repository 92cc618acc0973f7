package main

import (
	"context"

	"github.com/jarrod-lowe/webview-ipc-bridge/internal/plugin"
	"github.com/jarrod-lowe/webview-ipc-bridge/pkg/ipccontract"
)

// hostInfo is returned by App|info
type hostInfo struct {
	Version string              `json:"version"`
	Window  string              `json:"window"`
	Local   bool                `json:"local"`
	Plugins map[string][]string `json:"plugins"`
}

// appModule builds the host's core App commands. registry is read at call
// time so remote plugins loaded later are listed.
func appModule(registry *plugin.Registry) *plugin.Builder {
	return plugin.NewBuilder(ipccontract.AppModule).
		HandleFunc("ping", func(ctx context.Context, inv *plugin.Invoke) (any, error) {
			return "pong", nil
		}).
		HandleFunc("version", func(ctx context.Context, inv *plugin.Invoke) (any, error) {
			return version, nil
		}).
		HandleFunc("info", func(ctx context.Context, inv *plugin.Invoke) (any, error) {
			plugins := make(map[string][]string)
			for _, name := range registry.Plugins() {
				plugins[name] = registry.Commands(ipccontract.PluginPrefix + name)
			}
			return hostInfo{
				Version: version,
				Window:  inv.Origin.Window,
				Local:   inv.Origin.IsLocal(),
				Plugins: plugins,
			}, nil
		}, plugin.RequirePermission("core:app:allow-info"))
}
