package api

import "github.com/go-chi/chi/v5"

// Handlers groups the REST handlers mounted under /api
type Handlers struct {
	Settings    *SettingsHandler
	Roster      *RosterHandler
	Kpi         *KpiHandler
	Actions     *AgentActionsHandler
	History     *AgentHistoryHandler
	Leaderboard *LeaderboardHandler
	Admin       *AdminHandler
}

// Mount registers the /api routes on an authenticated router
func (h *Handlers) Mount(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.Roster.Me)

		r.Route("/settings", func(r chi.Router) {
			r.Get("/weights", h.Settings.GetWeights)
			r.Get("/targets", h.Settings.GetTargets)
			r.Group(func(r chi.Router) {
				r.Use(RequireAdmin)
				r.Put("/weights", h.Settings.PutWeights)
				r.Put("/targets", h.Settings.PutTargets)
			})
		})

		r.With(RequireAdmin).Get("/agents", h.Roster.ListAgents)
		r.Route("/agents/{agentId}", func(r chi.Router) {
			r.Get("/", h.Roster.GetAgent)
			r.Put("/", h.Roster.UpdateAgent)

			r.Get("/kpi/{month}", h.Kpi.GetKpi)
			r.With(RequireAdmin).Put("/kpi/{month}", h.Kpi.PutKpi)

			r.Get("/tasks", h.History.GetDayTasks)
			r.Post("/tasks", h.Actions.SubmitTask)
			r.Post("/tasks/import", h.Actions.ImportTasks)
			r.Get("/tasks/month", h.History.GetMonthTasks)
			r.Get("/performance", h.History.GetPerformance)
		})

		r.With(RequireAdmin).Get("/leaderboard", h.Leaderboard.GetLeaderboard)

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireAdmin)
			r.Post("/resync", h.Admin.Resync)
			r.Get("/status", h.Admin.Status)
		})
	})
}
