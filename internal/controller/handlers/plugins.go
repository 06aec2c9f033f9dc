package handlers

import (
	"net/http"

	"snakeplane/internal/registry"
	"snakeplane/pkg/api"
)

// ListPlugins handles GET /plugins.
func (h *Handlers) ListPlugins(w http.ResponseWriter, r *http.Request) {
	plugins := h.deps.Registry.Plugins()
	resp := api.ListPluginsResponse{Plugins: make([]api.PluginResponse, 0, len(plugins))}
	for _, p := range plugins {
		resp.Plugins = append(resp.Plugins, pluginResponse(p))
	}
	h.respondJson(w, http.StatusOK, resp)
}

func pluginResponse(p *registry.Plugin) api.PluginResponse {
	resp := api.PluginResponse{
		Name:              p.Name,
		NonLocalExec:      p.Common.NonLocalExec,
		ImpliesNoSharedFS: p.Common.ImpliesNoSharedFS,
		DryrunExec:        p.Common.DryrunExec,
	}
	if p.Schema == nil {
		return resp
	}
	for _, f := range p.Schema.Fields {
		s := api.SettingResponse{
			Flag:     "--" + p.FlagName(f.Name),
			Type:     f.Type.String(),
			Default:  f.Default,
			Help:     f.Help,
			Required: f.Required,
			Choices:  f.Choices,
		}
		if f.EnvVar {
			s.EnvVar = p.EnvVar(f.Name)
		}
		resp.Settings = append(resp.Settings, s)
	}
	return resp
}
