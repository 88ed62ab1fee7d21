package server

func (s *Server) registerRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Get("/v1/homes", s.handleHomes)
	s.router.Get("/v1/homes/{homeID}/devices", s.handleDevices)
	s.router.Get("/v1/report", s.handleReport)

	s.router.Get("/v1/cache/stats", s.handleCacheStats)
	s.router.Delete("/v1/cache", s.handleCacheClear)
	s.router.Get("/v1/ratelimit", s.handleLimiterState)
}
